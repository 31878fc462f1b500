package memtable

import (
	"testing"

	"github.com/strataforge/lsmkv/internal/dbformat"
)

func TestEmptyMemTable(t *testing.T) {
	m := New(1<<20, nil)
	if !m.IsEmpty() {
		t.Fatal("new memtable should be empty")
	}
	if _, res := m.Get([]byte("k"), dbformat.MaxSequenceNumber); res != Absent {
		t.Fatalf("expected Absent, got %v", res)
	}
}

func TestPutGetOverwrite(t *testing.T) {
	m := New(1<<20, nil)
	m.Put(1, []byte("k1"), []byte("v1"))
	m.Put(2, []byte("k2"), []byte("v2"))
	m.Put(3, []byte("k1"), []byte("v1b"))

	if v, res := m.Get([]byte("k1"), dbformat.MaxSequenceNumber); res != Found || string(v) != "v1b" {
		t.Fatalf("k1 = (%q, %v), want v1b/Found", v, res)
	}
	if v, res := m.Get([]byte("k2"), dbformat.MaxSequenceNumber); res != Found || string(v) != "v2" {
		t.Fatalf("k2 = (%q, %v), want v2/Found", v, res)
	}
	if _, res := m.Get([]byte("k3"), dbformat.MaxSequenceNumber); res != Absent {
		t.Fatalf("k3 = %v, want Absent", res)
	}
}

func TestDeleteVisibility(t *testing.T) {
	m := New(1<<20, nil)
	m.Put(1, []byte("a"), []byte("1"))
	m.Delete(2, []byte("a"))

	if _, res := m.Get([]byte("a"), dbformat.MaxSequenceNumber); res != Tombstone {
		t.Fatalf("expected Tombstone after delete, got %v", res)
	}
}

func TestSnapshotVisibilityAtSeq(t *testing.T) {
	m := New(1<<20, nil)
	m.Put(1, []byte("a"), []byte("1"))
	m.Put(5, []byte("a"), []byte("5"))

	if v, res := m.Get([]byte("a"), 1); res != Found || string(v) != "1" {
		t.Fatalf("as-of seq 1: (%q,%v), want 1/Found", v, res)
	}
	if v, res := m.Get([]byte("a"), 5); res != Found || string(v) != "5" {
		t.Fatalf("as-of seq 5: (%q,%v), want 5/Found", v, res)
	}
}

func TestThresholdCrossing(t *testing.T) {
	m := New(40, nil)
	crossed := m.Put(1, []byte("k"), []byte("v"))
	if crossed {
		t.Fatal("should not cross small threshold on first small put")
	}
	crossed = m.Put(2, []byte("k2"), []byte("a-bigger-value-string"))
	if !crossed {
		t.Fatal("expected threshold crossing after larger put")
	}
}

func TestSnapshotOrdering(t *testing.T) {
	m := New(1<<20, nil)
	m.Put(1, []byte("b"), []byte("1"))
	m.Put(2, []byte("a"), []byte("2"))
	m.Put(3, []byte("c"), []byte("3"))

	entries := m.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	want := []string{"a", "b", "c"}
	for i, e := range entries {
		if string(e.Key) != want[i] {
			t.Fatalf("entries[%d].Key = %q, want %q", i, e.Key, want[i])
		}
	}
}

func TestByteSizeAccounting(t *testing.T) {
	m := New(1<<20, nil)
	if m.ByteSize() != 0 {
		t.Fatalf("initial size = %d, want 0", m.ByteSize())
	}
	m.Put(1, []byte("key"), []byte("value"))
	if m.ByteSize() <= int64(len("key")+len("value")) {
		t.Fatalf("size %d should include per-entry overhead", m.ByteSize())
	}
}
