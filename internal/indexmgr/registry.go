package indexmgr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
)

// registryEntry is one row of the persisted index registry: which
// (db, table, column) indexes exist and where their .idx files live.
type registryEntry struct {
	DB     string `json:"db"`
	Table  string `json:"table"`
	Column string `json:"column"`
	Path   string `json:"path"`
}

// registry is the JSON file listing every existing index (spec §4.9:
// "a separate registry file listing existing indexes"). Writes go
// through natefinch/atomic (write to a temporary file, then atomic
// rename) so a crash mid-write never leaves a half-written registry
// behind.
type registry struct {
	mu      sync.Mutex
	path    string
	entries map[indexKey]registryEntry
}

func openRegistry(dataDir string) (*registry, error) {
	path := filepath.Join(dataDir, "index_metadata.json")
	r := &registry{path: path, entries: make(map[indexKey]registryEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("indexmgr: read registry: %w", err)
	}
	var list []registryEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("indexmgr: parse registry: %w", err)
	}
	for _, e := range list {
		r.entries[indexKey{DB: e.DB, Table: e.Table, Column: e.Column}] = e
	}
	return r, nil
}

func (r *registry) add(key indexKey, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = registryEntry{DB: key.DB, Table: key.Table, Column: key.Column, Path: path}
	return r.persistLocked()
}

func (r *registry) remove(key indexKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return r.persistLocked()
}

func (r *registry) has(key indexKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

func (r *registry) list() []registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *registry) persistLocked() error {
	list := make([]registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("indexmgr: marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("indexmgr: mkdir registry dir: %w", err)
	}
	if err := atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("indexmgr: write registry: %w", err)
	}
	return nil
}
