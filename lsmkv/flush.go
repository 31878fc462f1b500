package lsmkv

import (
	"github.com/strataforge/lsmkv/internal/dbformat"
	"github.com/strataforge/lsmkv/internal/logging"
	"github.com/strataforge/lsmkv/internal/memtable"
	"github.com/strataforge/lsmkv/internal/sstable"
	"github.com/strataforge/lsmkv/internal/walog"
)

// flushOnce drains the oldest queued immutable memtable into a new
// level-0 SST (spec §4.6's flush algorithm). It is the flush worker's
// unit of work: one call handles one memtable, then returns so the
// worker can be re-notified if more are queued.
func (e *Engine) flushOnce() {
	e.immuMu.Lock()
	if len(e.immutable) == 0 {
		e.immuMu.Unlock()
		return
	}
	mt := e.immutable[0]
	e.immuMu.Unlock()

	entries := dedupeNewest(mt.Snapshot())
	if len(entries) == 0 {
		e.retireFlushed(mt)
		return
	}

	e.sstMu.Lock()
	id := e.nextFileID
	e.nextFileID++
	e.sstMu.Unlock()

	path := sstablePath(e.dir, id)
	builder, err := sstable.NewBuilder(path, sstable.BuilderOptions{
		ID:                id,
		Level:             0,
		Compression:       e.opts.Compression,
		UseBloomFilter:    true,
		BloomExpectedKeys: uint(len(entries)),
		BloomFPRate:       e.opts.BloomFPRate,
	})
	if err != nil {
		e.logger.Errorf(logging.NSFlush+"failed to create sstable builder: %v", err)
		return
	}

	for _, en := range entries {
		if err := builder.Add(en.Key, en.Value, en.Type == dbformat.TypeDeletion); err != nil {
			e.logger.Errorf(logging.NSFlush+"failed writing record, abandoning flush: %v", err)
			builder.Abort()
			return
		}
	}

	meta, err := builder.Finish()
	if err != nil {
		e.logger.Errorf(logging.NSFlush+"failed to finish sstable, abandoning flush: %v", err)
		return
	}
	meta.ID = id
	meta.Level = 0

	reader, err := sstable.Open(path)
	if err != nil {
		e.logger.Errorf(logging.NSFlush+"failed to reopen freshly flushed sstable, abandoning flush: %v", err)
		return
	}

	e.sstMu.Lock()
	e.levels[0] = append(e.levels[0], &liveFile{meta: meta, reader: reader})
	sortLevelFiles(0, e.levels[0])
	e.sstMu.Unlock()

	if err := e.persistManifest(); err != nil {
		e.logger.Errorf(logging.NSFlush+"failed to persist manifest after flush: %v", err)
	}

	e.logger.Infof(logging.NSFlush+"flushed memtable to sstable-%d.db (%d entries)", id, meta.EntryCount)

	e.retireFlushed(mt)
	e.compactTrig.Notify()
}

// dedupeNewest collapses a memtable snapshot (ascending userKey,
// descending seq) down to one entry per key: the newest version.
// Safe because lsmkv serves no snapshot reads, so older in-memtable
// versions of a key carry no observable information once a newer one
// exists (DESIGN.md, Open Question decision 6: SST records carry no
// sequence number at all, only key/value/tombstone).
func dedupeNewest(entries []memtable.Entry) []memtable.Entry {
	out := entries[:0:0]
	for i, en := range entries {
		if i > 0 && string(en.Key) == string(entries[i-1].Key) {
			continue
		}
		out = append(out, en)
	}
	return out
}

// retireFlushed removes mt from the front of the immutable queue,
// wakes any writer blocked on freeze backpressure, and prunes WAL
// segments no longer needed by any memtable still resident in memory.
//
// The prune bound must be the oldest segment the *remaining*
// memtables (the active one and whatever is still queued) depend on,
// not wal.ActiveSegment() — WAL rotation (wal_segment_max_bytes) and
// memtable freezing (memtable_max_bytes) are independent knobs (spec
// §6), so the active segment can already be well ahead of an
// unflushed memtable's earliest writes. Pruning up to "active" would
// delete segments a crash still needs (spec §5's crash-survival
// guarantee, scenario §8.c).
func (e *Engine) retireFlushed(mt *memtable.MemTable) {
	e.mu.Lock()
	oldestNeeded := e.activeSeg
	e.mu.Unlock()

	e.immuMu.Lock()
	if len(e.immutable) > 0 && e.immutable[0] == mt {
		e.immutable = e.immutable[1:]
		e.immutableSegs = e.immutableSegs[1:]
	}
	for _, seg := range e.immutableSegs {
		if seg < oldestNeeded {
			oldestNeeded = seg
		}
	}
	e.immuCond.Signal()
	e.immuMu.Unlock()

	if err := walog.PruneSegmentsBefore(e.dir, oldestNeeded); err != nil {
		e.logger.Errorf(logging.NSFlush+"failed to prune retired WAL segments: %v", err)
	}
}
