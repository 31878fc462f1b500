package bloomfilter

import (
	"fmt"
	"testing"
)

func TestNoFalseNegatives(t *testing.T) {
	b := NewBuilder(1000, 0.01)
	keys := make([][]byte, 1000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%06d", i))
		b.Add(keys[i])
	}

	data, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, k := range keys {
		if !f.MayContain(k) {
			t.Fatalf("false negative for key %q", k)
		}
	}
}

func TestEmpiricalFalsePositiveRate(t *testing.T) {
	const n = 1000
	const fp = 0.01
	b := NewBuilder(n, fp)
	for i := 0; i < n; i++ {
		b.Add([]byte(fmt.Sprintf("present-%06d", i)))
	}
	data, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const trials = 10000
	hits := 0
	for i := 0; i < trials; i++ {
		if f.MayContain([]byte(fmt.Sprintf("absent-%08d", i))) {
			hits++
		}
	}
	rate := float64(hits) / float64(trials)
	if rate > 1.5*fp {
		t.Fatalf("empirical false-positive rate %v exceeds 1.5x target %v", rate, fp)
	}
}

func TestEmptyFilterRejectsEverything(t *testing.T) {
	b := NewBuilder(10, 0.01)
	data, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	f, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.MayContain([]byte("anything")) {
		t.Fatal("empty filter reported a positive")
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	b := NewBuilder(100, 0.01)
	b.Add([]byte("a"))
	data, _ := b.Finish()
	if _, err := Open(data[:len(data)-2]); err == nil {
		t.Fatal("expected error opening truncated filter")
	}
}
