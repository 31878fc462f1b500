// Package lsmkv implements a single-node embedded, durable, ordered
// key-value storage engine built from a memtable, Bloom-filtered
// sorted tables (SSTs), a write-ahead log, and pluggable background
// compaction (spec.md component C6, the root `Engine`).
//
// Grounded on aalhour-rockyardkv/db_apis.go's dbImpl (Put/Delete/Get
// under one engine mutex, a background flush/compaction scheduling
// loop, WAL-replay-on-open), adapted down from RocksDB's column
// families / snapshots / transactions (all spec.md Non-goals) to a
// single ordered keyspace per Engine.
package lsmkv

import (
	"bytes"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strataforge/lsmkv/internal/compaction"
	"github.com/strataforge/lsmkv/internal/dbformat"
	"github.com/strataforge/lsmkv/internal/logging"
	"github.com/strataforge/lsmkv/internal/memtable"
	"github.com/strataforge/lsmkv/internal/scheduler"
	"github.com/strataforge/lsmkv/internal/sstable"
	"github.com/strataforge/lsmkv/internal/walog"
)

// maxKeySize bounds a user key so it always fits the sstable index
// entry's u16 key-length field (internal/sstable/format.go).
const maxKeySize = 65535

// liveFile pairs a durable SST's metadata with its open Reader, kept
// resident for the file's lifetime (spec §4.6 SST state machine:
// Durable -> Live).
type liveFile struct {
	meta   sstable.Meta
	reader *sstable.Reader
}

// Engine is one LSM tree over a single directory (spec §4.6's public
// contract: open/put/delete/get/range/close).
type Engine struct {
	dir    string
	opts   Options
	logger logging.Logger

	// mu is the engine lock (spec §5): writers briefly hold it to bump
	// the sequence counter, append to the WAL, and mutate the active
	// memtable.
	mu      sync.Mutex
	active  *memtable.MemTable
	nextSeq uint64

	// activeSeg is the WAL segment sequence number in effect when
	// active was created: the oldest segment active's data could
	// still depend on. Pruning must never remove a segment at or
	// above this, independent of where WAL segment rotation
	// (wal_segment_max_bytes) has since moved on to (spec §5's crash
	// survival guarantee; wal_segment_max_bytes and memtable_max_bytes
	// are independent knobs per spec.md §6, so the two can rotate and
	// freeze on unrelated schedules).
	activeSeg uint64

	// immuMu/immuCond guard the bounded immutable-memtable queue
	// independently of mu, so the flush worker can drain it without
	// contending with writers beyond a brief lock (spec §5: "SST list
	// and immutable queue are each guarded by their own lock").
	immuMu    sync.Mutex
	immuCond  *sync.Cond
	immutable []*memtable.MemTable
	// immutableSegs[i] is the activeSeg each immutable[i] carried at
	// the moment it was frozen, kept parallel to immutable.
	immutableSegs []uint64

	wal *walog.Log

	// sstMu guards levels and nextFileID.
	sstMu      sync.RWMutex
	levels     [][]*liveFile
	nextFileID uint64

	compactionInProgress atomic.Bool
	picker               compaction.Picker

	flushTrig     *scheduler.Trigger
	flushWorker   *scheduler.Worker
	compactTrig   *scheduler.Trigger
	compactWorker *scheduler.Worker

	tickerStop chan struct{}
	tickerDone chan struct{}

	closed atomic.Bool
}

// Open creates or loads the LSM tree rooted at dir: it replays the
// WAL, reopens every live SST listed in the manifest, and starts the
// flush and compaction background workers (spec §4.6: "create/load;
// run WAL replay; expose the engine").
func Open(dir string, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard
	}
	if opts.LevelCount <= 0 {
		opts.LevelCount = DefaultOptions().LevelCount
	}
	logger := opts.Logger

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newError(KindIoError, "create engine directory", err)
	}

	mstate, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:        dir,
		opts:       opts,
		logger:     logger,
		nextSeq:    mstate.NextSeq,
		levels:     make([][]*liveFile, opts.LevelCount),
		nextFileID: mstate.NextFileID,
		tickerStop: make(chan struct{}),
		tickerDone: make(chan struct{}),
	}
	e.immuCond = sync.NewCond(&e.immuMu)
	e.picker = buildPicker(opts)
	e.active = memtable.New(opts.MemtableMaxBytes, nil)

	for _, fe := range mstate.Files {
		r, err := sstable.Open(sstablePath(dir, fe.ID))
		if err != nil {
			logger.Errorf(logging.NSEngine+"failed to open sstable %d (level %d), skipping: %v", fe.ID, fe.Level, err)
			continue
		}
		m := r.Meta()
		m.ID = fe.ID
		m.Level = fe.Level
		level := fe.Level
		if level < 0 || level >= len(e.levels) {
			level = len(e.levels) - 1
		}
		e.levels[level] = append(e.levels[level], &liveFile{meta: m, reader: r})
	}
	for lvl := range e.levels {
		sortLevelFiles(lvl, e.levels[lvl])
	}

	walOpts := walog.DefaultOptions()
	walOpts.Sync = opts.WALSyncMode.toInternal()
	walOpts.MaxSegmentBytes = opts.WALSegmentMaxBytes
	walOpts.GroupMaxRecords = opts.WALGroupCommitSize
	walOpts.GroupMaxDelay = opts.WALGroupCommitInterval
	walOpts.Logger = logger

	replaySeq := e.nextSeq
	applied, err := walog.Replay(dir, logger, func(rec walog.Record) error {
		switch rec.Op {
		case walog.OpDelete:
			e.active.Delete(dbformat.SequenceNumber(replaySeq), rec.Key)
		default:
			e.active.Put(dbformat.SequenceNumber(replaySeq), rec.Key, rec.Value)
		}
		replaySeq++
		return nil
	})
	if err != nil {
		for _, files := range e.levels {
			for _, f := range files {
				f.reader.Close()
			}
		}
		return nil, newError(KindIoError, "replay WAL", err)
	}
	if applied > 0 {
		logger.Infof(logging.NSRecovery+"replayed %d WAL records from %s", applied, dir)
	}
	e.nextSeq = replaySeq

	wal, err := walog.Open(dir, walOpts)
	if err != nil {
		for _, files := range e.levels {
			for _, f := range files {
				f.reader.Close()
			}
		}
		return nil, newError(KindIoError, "open WAL", err)
	}
	e.wal = wal

	// The reconstructed active memtable's data may trace back to any
	// segment still on disk before replay, not just the newest one,
	// so its dependency floor is the oldest surviving segment (or the
	// WAL's freshly opened segment if none existed yet).
	if oldest, ok, err := walog.OldestSegment(dir); err == nil && ok {
		e.activeSeg = oldest
	} else {
		e.activeSeg = e.wal.ActiveSegment()
	}

	e.flushTrig = scheduler.NewTrigger()
	e.flushWorker = scheduler.StartWorker(e.flushTrig, e.flushOnce)
	e.compactTrig = scheduler.NewTrigger()
	e.compactWorker = scheduler.StartWorker(e.compactTrig, e.compactOnce)

	go e.compactionTicker()

	if err := e.persistManifest(); err != nil {
		logger.Errorf(logging.NSEngine+"failed to persist manifest after open: %v", err)
	}

	return e, nil
}

func buildPicker(opts Options) compaction.Picker {
	leveled := compaction.DefaultLeveled()
	leveled.NumLevels = opts.LevelCount
	leveled.SizeRatio = opts.LevelSizeRatio
	leveled.L0CompactionTrigger = opts.CompactionTriggerThreshold
	leveled.TargetFileSize = opts.CompactionTargetFileSize

	tiered := compaction.DefaultSizeTiered()
	tiered.Levels = opts.LevelCount
	tiered.MinFilesPerTier = opts.CompactionMaxInputs

	switch opts.CompactionPolicy {
	case CompactionSizeTiered:
		return tiered
	case CompactionLeveled:
		return leveled
	default:
		return compaction.NewHybrid(tiered, leveled)
	}
}

func (e *Engine) compactionTicker() {
	defer close(e.tickerDone)
	interval := e.opts.CompactionInterval
	if interval <= 0 {
		interval = DefaultOptions().CompactionInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.compactTrig.Notify()
		case <-e.tickerStop:
			return
		}
	}
}

// Put writes key/value: WAL append per the configured sync mode, then
// a memtable insert, freezing the active memtable if it has crossed
// its byte threshold (spec §4.6).
func (e *Engine) Put(key, value []byte) error {
	return e.write(walog.OpPut, key, value)
}

// Delete writes a tombstone for key (spec §4.6).
func (e *Engine) Delete(key []byte) error {
	return e.write(walog.OpDelete, key, nil)
}

func (e *Engine) write(op walog.Op, key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(key) == 0 {
		return newError(KindInvalidArgument, "key must not be empty", nil)
	}
	if len(key) > maxKeySize {
		return newError(KindInvalidArgument, "key exceeds maximum size", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}

	if err := e.wal.Append(walog.Record{Op: op, Key: key, Value: value}); err != nil {
		return newError(KindIoError, "append WAL record", err)
	}

	seq := dbformat.SequenceNumber(e.nextSeq)
	e.nextSeq++

	var exceeded bool
	if op == walog.OpDelete {
		exceeded = e.active.Delete(seq, key)
	} else {
		exceeded = e.active.Put(seq, key, value)
	}
	if exceeded {
		e.freezeLocked()
	}
	return nil
}

// freezeLocked moves the active memtable into the immutable queue,
// blocking if the queue is already at max_immutable_memtables until
// the flush worker drains one (spec §4.6/§5: freeze backpressure). The
// caller must hold e.mu.
func (e *Engine) freezeLocked() {
	e.immuMu.Lock()
	for len(e.immutable) >= e.opts.MaxImmutableMemtables {
		e.immuCond.Wait()
	}
	e.immutable = append(e.immutable, e.active)
	e.immutableSegs = append(e.immutableSegs, e.activeSeg)
	e.immuMu.Unlock()

	e.active = memtable.New(e.opts.MemtableMaxBytes, nil)
	e.activeSeg = e.wal.ActiveSegment()
	e.flushTrig.Notify()
}

// Get consults the active memtable, then the immutable queue
// newest-first, then SSTs level by level (L0 newest-file-first), and
// returns the first definitive hit: a value, or "not found" for a
// tombstone or an absent key (spec §4.6).
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrClosed
	}
	if len(key) == 0 {
		return nil, false, newError(KindInvalidArgument, "key must not be empty", nil)
	}

	e.mu.Lock()
	active := e.active
	e.mu.Unlock()

	if v, res := active.Get(key, dbformat.MaxSequenceNumber); res != memtable.Absent {
		return valueFromLookup(v, res)
	}

	e.immuMu.Lock()
	immu := append([]*memtable.MemTable(nil), e.immutable...)
	e.immuMu.Unlock()
	for i := len(immu) - 1; i >= 0; i-- {
		if v, res := immu[i].Get(key, dbformat.MaxSequenceNumber); res != memtable.Absent {
			return valueFromLookup(v, res)
		}
	}

	e.sstMu.RLock()
	levels := e.snapshotLevelsLocked()
	e.sstMu.RUnlock()

	for _, files := range levels {
		for _, f := range files {
			if !f.reader.MightContain(key) {
				continue
			}
			value, tombstone, found, err := f.reader.Get(key)
			if err != nil {
				e.logger.Errorf(logging.NSEngine+"sstable %d read error, skipping: %v", f.meta.ID, err)
				continue
			}
			if !found {
				continue
			}
			if tombstone {
				return nil, false, nil
			}
			return value, true, nil
		}
	}
	return nil, false, nil
}

func valueFromLookup(v []byte, res memtable.LookupResult) ([]byte, bool, error) {
	if res == memtable.Tombstone {
		return nil, false, nil
	}
	return v, true, nil
}

// KV is one key/value pair returned by Range.
type KV struct {
	Key   []byte
	Value []byte
}

// Range returns every live (non-tombstone, non-shadowed) key in
// [lo, hi) across the memtable, immutable queue, and SSTs, merged and
// ordered (spec §4.6, marked optional). A nil lo/hi is unbounded on
// that side.
func (e *Engine) Range(lo, hi []byte) ([]KV, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	e.immuMu.Lock()
	immu := append([]*memtable.MemTable(nil), e.immutable...)
	e.immuMu.Unlock()
	e.sstMu.RLock()
	levels := e.snapshotLevelsLocked()
	e.sstMu.RUnlock()

	type candidate struct {
		value     []byte
		tombstone bool
		rank      int64
	}
	merged := make(map[string]candidate)
	inRange := func(k []byte) bool {
		if lo != nil && bytes.Compare(k, lo) < 0 {
			return false
		}
		if hi != nil && bytes.Compare(k, hi) >= 0 {
			return false
		}
		return true
	}
	consider := func(key []byte, value []byte, tombstone bool, rank int64) {
		if !inRange(key) {
			return
		}
		ks := string(key)
		if cur, ok := merged[ks]; !ok || rank > cur.rank {
			merged[ks] = candidate{value: value, tombstone: tombstone, rank: rank}
		}
	}

	const activeRank = int64(1) << 62
	for _, en := range active.Snapshot() {
		consider(en.Key, en.Value, en.Type == dbformat.TypeDeletion, activeRank)
	}
	for i, mt := range immu {
		rank := activeRank - int64(len(immu)-i)
		for _, en := range mt.Snapshot() {
			consider(en.Key, en.Value, en.Type == dbformat.TypeDeletion, rank)
		}
	}
	for lvl, files := range levels {
		for _, f := range files {
			rank := sstRank(len(levels), lvl, f.meta.ID)
			for _, ie := range f.reader.RangeIndex(lo, hi) {
				value, tombstone, found, err := f.reader.Get(ie.Key)
				if err != nil || !found {
					continue
				}
				consider(ie.Key, value, tombstone, rank)
			}
		}
	}

	out := make([]KV, 0, len(merged))
	for k, c := range merged {
		if c.tombstone {
			continue
		}
		out = append(out, KV{Key: []byte(k), Value: c.value})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// sstRank assigns a precedence value to an SST file such that lower
// levels always outrank higher ones, and within a level a larger file
// id (newer) outranks a smaller one — the same ordering Get and
// compaction use (spec §4.6's (level, file-id) tie-break).
func sstRank(numLevels, level int, fileID uint64) int64 {
	const idSpace = int64(1) << 40
	return (int64(numLevels)-int64(level))*idSpace + int64(fileID)
}

// Close stops the background workers, flushes any remaining memtables
// synchronously, and closes every open file (spec §4.6/§5).
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(e.tickerStop)
	<-e.tickerDone

	done := make(chan struct{})
	go func() {
		e.flushWorker.Stop()
		e.compactWorker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.opts.CloseTimeout):
		e.logger.Warnf(logging.NSEngine + "timed out waiting for background workers to stop")
	}

	e.mu.Lock()
	if !e.active.IsEmpty() {
		e.immuMu.Lock()
		e.immutable = append(e.immutable, e.active)
		e.immutableSegs = append(e.immutableSegs, e.activeSeg)
		e.immuMu.Unlock()
		e.active = memtable.New(e.opts.MemtableMaxBytes, nil)
		e.activeSeg = e.wal.ActiveSegment()
	}
	e.mu.Unlock()

	for {
		e.immuMu.Lock()
		if len(e.immutable) == 0 {
			e.immuMu.Unlock()
			break
		}
		e.immuMu.Unlock()
		e.flushOnce()
	}

	var firstErr error
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = newError(KindIoError, "close WAL", err)
	}

	e.sstMu.Lock()
	for _, files := range e.levels {
		for _, f := range files {
			if err := f.reader.Close(); err != nil && firstErr == nil {
				firstErr = newError(KindIoError, "close sstable", err)
			}
		}
	}
	e.sstMu.Unlock()

	return firstErr
}

func (e *Engine) snapshotLevelsLocked() [][]*liveFile {
	out := make([][]*liveFile, len(e.levels))
	for i, files := range e.levels {
		out[i] = append([]*liveFile(nil), files...)
	}
	return out
}

func (e *Engine) persistManifest() error {
	e.sstMu.RLock()
	var entries []manifestFileEntry
	for lvl, files := range e.levels {
		for _, f := range files {
			entries = append(entries, manifestFileEntry{ID: f.meta.ID, Level: lvl})
		}
	}
	nextFileID := e.nextFileID
	e.sstMu.RUnlock()

	e.mu.Lock()
	nextSeq := e.nextSeq
	e.mu.Unlock()

	return saveManifest(e.dir, manifestState{NextFileID: nextFileID, NextSeq: nextSeq, Files: entries})
}

// sortLevelFiles orders level 0 by descending file id (newest first,
// matching Get's scan order) and every other level by ascending
// MinKey (non-overlapping levels, scanned left to right).
func sortLevelFiles(level int, files []*liveFile) {
	if level == 0 {
		sort.Slice(files, func(i, j int) bool { return files[i].meta.ID > files[j].meta.ID })
		return
	}
	sort.Slice(files, func(i, j int) bool { return bytes.Compare(files[i].meta.MinKey, files[j].meta.MinKey) < 0 })
}
