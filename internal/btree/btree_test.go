package btree

import (
	"encoding/binary"
	"testing"
)

func u32key(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v) // big-endian so byte comparison orders numerically
	return b
}

func setOf(ids ...uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func equalSets(a, b map[uint64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func TestInsertFindExact(t *testing.T) {
	tr := New(MinFanOut, nil)
	tr.Insert([]byte("a"), 1)
	tr.Insert([]byte("a"), 2)
	tr.Insert([]byte("b"), 3)

	if got := tr.Find([]byte("a")); !equalSets(got, setOf(1, 2)) {
		t.Fatalf("Find(a) = %v, want {1,2}", got)
	}
	if got := tr.Find([]byte("b")); !equalSets(got, setOf(3)) {
		t.Fatalf("Find(b) = %v, want {3}", got)
	}
	if got := tr.Find([]byte("z")); got != nil {
		t.Fatalf("Find(z) = %v, want nil", got)
	}
	if tr.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", tr.Size())
	}
}

func TestNullValueIgnored(t *testing.T) {
	tr := New(MinFanOut, nil)
	tr.Insert(nil, 1)
	if tr.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 after inserting nil", tr.Size())
	}
}

// TestBTreeRangeScenario implements the spec's literal scenario (e):
// insert (age=25,r1), (age=30,r2), (age=35,r3); find_range(26,34) =
// {r2}; remove (age=30,r2); find_range(26,34) = {}.
func TestBTreeRangeScenario(t *testing.T) {
	tr := New(MinFanOut, nil)
	tr.Insert(u32key(25), 1)
	tr.Insert(u32key(30), 2)
	tr.Insert(u32key(35), 3)

	got := tr.FindRange(u32key(26), u32key(34))
	if !equalSets(got, setOf(2)) {
		t.Fatalf("FindRange(26,34) = %v, want {2}", got)
	}

	if !tr.Remove(u32key(30), 2) {
		t.Fatal("Remove(30,2) = false, want true")
	}

	got = tr.FindRange(u32key(26), u32key(34))
	if len(got) != 0 {
		t.Fatalf("FindRange(26,34) after remove = %v, want {}", got)
	}
}

func TestFindLessOrEqualAndGreaterOrEqual(t *testing.T) {
	tr := New(MinFanOut, nil)
	for i := uint32(0); i < 10; i++ {
		tr.Insert(u32key(i*10), uint64(i))
	}
	if got := tr.FindLessOrEqual(u32key(25)); !equalSets(got, setOf(0, 1, 2)) {
		t.Fatalf("FindLessOrEqual(25) = %v, want {0,1,2}", got)
	}
	if got := tr.FindGreaterOrEqual(u32key(75)); !equalSets(got, setOf(8, 9)) {
		t.Fatalf("FindGreaterOrEqual(75) = %v, want {8,9}", got)
	}
	if got := tr.FindAll(); len(got) != 10 {
		t.Fatalf("FindAll() has %d entries, want 10", len(got))
	}
}

func TestSplitsAcrossManyInserts(t *testing.T) {
	tr := New(MinFanOut, nil)
	const n = 5000
	for i := uint32(0); i < n; i++ {
		tr.Insert(u32key(i), uint64(i))
	}
	if tr.Size() != n {
		t.Fatalf("Size() = %d, want %d", tr.Size(), n)
	}
	for i := uint32(0); i < n; i += 137 {
		if got := tr.Find(u32key(i)); !equalSets(got, setOf(uint64(i))) {
			t.Fatalf("Find(%d) = %v, want {%d}", i, got, i)
		}
	}
	all := tr.FindAll()
	if len(all) != n {
		t.Fatalf("FindAll() has %d entries, want %d", len(all), n)
	}
}

func TestRemoveNonexistentReturnsFalse(t *testing.T) {
	tr := New(MinFanOut, nil)
	tr.Insert([]byte("a"), 1)
	if tr.Remove([]byte("a"), 999) {
		t.Fatal("Remove with wrong row-id should return false")
	}
	if tr.Remove([]byte("missing"), 1) {
		t.Fatal("Remove on missing key should return false")
	}
}

func TestRebuildPreservesContents(t *testing.T) {
	tr := New(MinFanOut, nil)
	for i := uint32(0); i < 1000; i++ {
		tr.Insert(u32key(i), uint64(i))
		if i%3 == 0 {
			tr.Insert(u32key(i), uint64(i)+1)
		}
	}
	for i := uint32(0); i < 1000; i += 5 {
		tr.Remove(u32key(i), uint64(i))
	}

	before := tr.FindAll()
	tr.Rebuild()
	after := tr.FindAll()

	if !equalSets(before, after) {
		t.Fatal("Rebuild changed the set of stored row-ids")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	tr := New(MinFanOut, nil)
	for i := uint32(0); i < 2000; i++ {
		tr.Insert(u32key(i), uint64(i))
	}

	data := tr.Serialize()
	tr2, err := Deserialize(data, nil)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if tr2.Size() != tr.Size() {
		t.Fatalf("Size() = %d, want %d", tr2.Size(), tr.Size())
	}
	for i := uint32(0); i < 2000; i += 97 {
		if got := tr2.Find(u32key(i)); !equalSets(got, setOf(uint64(i))) {
			t.Fatalf("Find(%d) after round trip = %v, want {%d}", i, got, i)
		}
	}
}

func TestDeserializeRejectsBadSchemaVersion(t *testing.T) {
	if _, err := Deserialize([]byte{99, 0, 0, 0, 0}, nil); err != ErrUnsupportedSchema {
		t.Fatalf("err = %v, want ErrUnsupportedSchema", err)
	}
}
