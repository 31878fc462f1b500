// Package lsmkv is a single-node, embedded, ordered key-value storage
// engine: a memtable in front of Bloom-filtered sorted tables (SSTs),
// a write-ahead log for crash recovery, and background flush and
// compaction workers driven by a pluggable policy (size-tiered,
// leveled, or hybrid).
//
// Open an Engine rooted at a directory and use Put/Delete/Get/Range
// against it:
//
//	eng, err := lsmkv.Open("/var/lib/app/data/orders/lsm", lsmkv.DefaultOptions())
//	if err != nil { ... }
//	defer eng.Close()
//	eng.Put([]byte("k1"), []byte("v1"))
//	v, ok, err := eng.Get([]byte("k1"))
//
// The engine assumes a single writer per key ordering requirement but
// allows any number of concurrent goroutines calling Put/Delete/Get;
// internally Put/Delete serialize through one mutex while reads fan
// out across the active memtable, the immutable queue, and the SST
// levels without blocking writers.
//
// internal/indexmgr builds a secondary B-tree index layer on top of
// rows an external table layer feeds it; it is independent of Engine
// and keyed by (database, table, column) rather than by LSM directory,
// since one table's secondary indexes are not restricted to mirroring
// that table's own keyspace.
package lsmkv
