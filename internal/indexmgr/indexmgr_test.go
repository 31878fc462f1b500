package indexmgr

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.AutoIndexQueryThreshold = 3
	opts.MaxIndexesPerTable = 2
	m, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

func TestCreateAndFindRows(t *testing.T) {
	m := newTestManager(t)
	rows := map[RowID]Row{
		1: {"age": int64(25)},
		2: {"age": int64(30)},
		3: {"age": int64(35)},
	}
	if err := m.Create("db1", "users", "age", rows); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !m.HasIndex("db1", "users", "age") {
		t.Fatal("HasIndex = false after Create")
	}

	got, found := m.FindRows("db1", "users", "age", int64(30))
	if !found {
		t.Fatal("FindRows found = false, want true")
	}
	if _, ok := got[2]; !ok || len(got) != 1 {
		t.Fatalf("FindRows(age=30) = %v, want {2}", got)
	}
}

func TestCreateRefusesDuplicate(t *testing.T) {
	m := newTestManager(t)
	rows := map[RowID]Row{1: {"age": int64(1)}}
	if err := m.Create("db1", "users", "age", rows); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Create("db1", "users", "age", rows); err == nil {
		t.Fatal("second Create should fail")
	}
}

func TestFindRowsWithoutIndexReportsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, found := m.FindRows("db1", "users", "age", int64(1))
	if found {
		t.Fatal("found = true with no index, want false")
	}
}

func TestOnInsertUpdateDelete(t *testing.T) {
	m := newTestManager(t)
	rows := map[RowID]Row{1: {"age": int64(25)}}
	if err := m.Create("db1", "users", "age", rows); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.OnInsert("db1", "users", 2, Row{"age": int64(30)}); err != nil {
		t.Fatalf("OnInsert: %v", err)
	}
	got, _ := m.FindRows("db1", "users", "age", int64(30))
	if _, ok := got[2]; !ok {
		t.Fatalf("FindRows(30) after OnInsert = %v, want {2}", got)
	}

	if err := m.OnUpdate("db1", "users", 2, Row{"age": int64(30)}, Row{"age": int64(40)}); err != nil {
		t.Fatalf("OnUpdate: %v", err)
	}
	if got, _ := m.FindRows("db1", "users", "age", int64(30)); len(got) != 0 {
		t.Fatalf("FindRows(30) after OnUpdate = %v, want {}", got)
	}
	got, _ = m.FindRows("db1", "users", "age", int64(40))
	if _, ok := got[2]; !ok {
		t.Fatalf("FindRows(40) after OnUpdate = %v, want {2}", got)
	}

	if err := m.OnDelete("db1", "users", 2, Row{"age": int64(40)}); err != nil {
		t.Fatalf("OnDelete: %v", err)
	}
	if got, _ := m.FindRows("db1", "users", "age", int64(40)); len(got) != 0 {
		t.Fatalf("FindRows(40) after OnDelete = %v, want {}", got)
	}
}

func TestFindRowsInRange(t *testing.T) {
	m := newTestManager(t)
	rows := map[RowID]Row{
		1: {"age": int64(25)},
		2: {"age": int64(30)},
		3: {"age": int64(35)},
	}
	if err := m.Create("db1", "users", "age", rows); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, found := m.FindRowsInRange("db1", "users", "age", int64(26), int64(34))
	if !found {
		t.Fatal("found = false, want true")
	}
	if _, ok := got[2]; !ok || len(got) != 1 {
		t.Fatalf("FindRowsInRange(26,34) = %v, want {2}", got)
	}
}

func TestDrop(t *testing.T) {
	m := newTestManager(t)
	rows := map[RowID]Row{1: {"age": int64(1)}}
	if err := m.Create("db1", "users", "age", rows); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Drop("db1", "users", "age"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if m.HasIndex("db1", "users", "age") {
		t.Fatal("HasIndex = true after Drop")
	}
	if err := m.Create("db1", "users", "age", rows); err != nil {
		t.Fatalf("re-Create after Drop: %v", err)
	}
}

func TestAutoIndexCandidateThresholdAndCap(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 2; i++ {
		m.FindRows("db1", "users", "age", int64(1))
	}
	if m.AutoIndexCandidate("db1", "users", "age") {
		t.Fatal("AutoIndexCandidate true before threshold reached")
	}
	m.FindRows("db1", "users", "age", int64(1))
	if !m.AutoIndexCandidate("db1", "users", "age") {
		t.Fatal("AutoIndexCandidate false after threshold reached")
	}

	if err := m.Create("db1", "users", "age", map[RowID]Row{1: {"age": int64(1)}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Create("db1", "users", "height", map[RowID]Row{1: {"height": int64(1)}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 5; i++ {
		m.FindRows("db1", "users", "weight", int64(1))
	}
	if m.AutoIndexCandidate("db1", "users", "weight") {
		t.Fatal("AutoIndexCandidate true despite table at its index cap")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()

	m1, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rows := map[RowID]Row{
		1: {"age": int64(25)},
		2: {"age": int64(30)},
	}
	if err := m1.Create("db1", "users", "age", rows); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m1.OnInsert("db1", "users", 3, Row{"age": int64(35)}); err != nil {
		t.Fatalf("OnInsert: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "index_metadata.json")); err != nil {
		t.Fatalf("registry file missing: %v", err)
	}

	m2, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	if !m2.HasIndex("db1", "users", "age") {
		t.Fatal("HasIndex = false after reopen")
	}
	got, found := m2.FindRows("db1", "users", "age", int64(35))
	if !found {
		t.Fatal("found = false after reopen")
	}
	if _, ok := got[3]; !ok {
		t.Fatalf("FindRows(35) after reopen = %v, want {3}", got)
	}
}
