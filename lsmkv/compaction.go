package lsmkv

import (
	"bytes"
	"sort"

	"github.com/strataforge/lsmkv/internal/compaction"
	"github.com/strataforge/lsmkv/internal/logging"
	"github.com/strataforge/lsmkv/internal/sstable"
)

// compactOnce asks the configured Picker for one unit of compaction
// work, merges the chosen input files, and installs the result (spec
// §4.5's plan/execute split). It is a no-op if another compaction is
// already running or the picker finds nothing to do.
func (e *Engine) compactOnce() {
	if !e.compactionInProgress.CompareAndSwap(false, true) {
		return
	}
	defer e.compactionInProgress.Store(false)

	e.sstMu.RLock()
	levels, byID := e.snapshotForCompactionLocked()
	e.sstMu.RUnlock()

	if !e.picker.NeedsCompaction(levels) {
		return
	}
	plan := e.picker.Plan(levels)
	if plan == nil || len(plan.Inputs) == 0 {
		return
	}

	inputs := plan.AllInputs()
	merged, err := e.mergeInputs(inputs, byID, len(levels), plan.OutputLevel, levels)
	if err != nil {
		e.logger.Errorf(logging.NSCompact+"failed to merge compaction inputs, abandoning: %v", err)
		return
	}

	outputs, err := e.writeOutputs(merged, plan)
	if err != nil {
		e.logger.Errorf(logging.NSCompact+"failed to write compaction output, abandoning: %v", err)
		return
	}

	consumed := make(map[uint64]bool, len(inputs))
	for _, m := range inputs {
		consumed[m.ID] = true
	}

	e.sstMu.Lock()
	e.levels[plan.InputLevel] = removeConsumed(e.levels[plan.InputLevel], consumed)
	if plan.OutputLevel != plan.InputLevel {
		e.levels[plan.OutputLevel] = removeConsumed(e.levels[plan.OutputLevel], consumed)
	}
	e.levels[plan.OutputLevel] = append(e.levels[plan.OutputLevel], outputs...)
	sortLevelFiles(plan.OutputLevel, e.levels[plan.OutputLevel])
	e.sstMu.Unlock()

	if err := e.persistManifest(); err != nil {
		e.logger.Errorf(logging.NSCompact+"failed to persist manifest after compaction: %v", err)
	}

	for _, m := range inputs {
		if lf, ok := byID[m.ID]; ok {
			if err := lf.reader.Unlink(); err != nil {
				e.logger.Errorf(logging.NSCompact+"failed to unlink retired sstable %d: %v", m.ID, err)
			}
		}
	}

	e.logger.Infof(logging.NSCompact+"%s: merged %d input file(s) from level %d into %d output file(s) at level %d",
		plan.Reason, len(inputs), plan.InputLevel, len(outputs), plan.OutputLevel)
}

func (e *Engine) snapshotForCompactionLocked() (compaction.Levels, map[uint64]*liveFile) {
	levels := make(compaction.Levels, len(e.levels))
	byID := make(map[uint64]*liveFile)
	for lvl, files := range e.levels {
		metas := make([]sstable.Meta, 0, len(files))
		for _, f := range files {
			metas = append(metas, f.meta)
			byID[f.meta.ID] = f
		}
		levels[lvl] = metas
	}
	return levels, byID
}

// mergedRecord is one surviving key after resolving duplicates across
// input files by the engine's (level, file-id) precedence (spec
// §4.5's "newer version wins" merge rule, same sstRank tie-break Get
// and Range use — this engine has no per-record sequence number at
// the SST layer to break ties with instead).
type mergedRecord struct {
	key       []byte
	value     []byte
	tombstone bool
}

func (e *Engine) mergeInputs(inputs []sstable.Meta, byID map[uint64]*liveFile, numLevels, outputLevel int, levels compaction.Levels) ([]mergedRecord, error) {
	type ranked struct {
		rec  sstable.Record
		rank int64
	}
	byKey := make(map[string]ranked)
	for _, m := range inputs {
		lf, ok := byID[m.ID]
		if !ok {
			continue
		}
		recs, err := lf.reader.ReadAll()
		if err != nil {
			return nil, err
		}
		rank := sstRank(numLevels, m.Level, m.ID)
		for _, r := range recs {
			ks := string(r.Key)
			if cur, ok := byKey[ks]; !ok || rank > cur.rank {
				byKey[ks] = ranked{rec: r, rank: rank}
			}
		}
	}

	out := make([]mergedRecord, 0, len(byKey))
	for _, r := range byKey {
		if r.rec.Tombstone && !keyMayExistBelow(levels, outputLevel, r.rec.Key) {
			// No deeper level can shadow-reveal this key once it's
			// gone, so the tombstone itself is now dead weight
			// (spec §4.5: "drop tombstones once no lower level can
			// contain the same key").
			continue
		}
		out = append(out, mergedRecord{key: r.rec.Key, value: r.rec.Value, tombstone: r.rec.Tombstone})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].key, out[j].key) < 0 })
	return out, nil
}

// keyMayExistBelow reports whether any file at a level deeper than
// outputLevel could contain key, based on key-range overlap alone
// (spec §4.5). A conservative "yes" when in doubt is always safe;
// this only needs to say "no" when it's certain.
func keyMayExistBelow(levels compaction.Levels, outputLevel int, key []byte) bool {
	for lvl := outputLevel + 1; lvl < len(levels); lvl++ {
		for _, f := range levels.Files(lvl) {
			if bytes.Compare(key, f.MinKey) >= 0 && bytes.Compare(key, f.MaxKey) <= 0 {
				return true
			}
		}
	}
	return false
}

// writeOutputs streams merged into one or more new SSTs at
// plan.OutputLevel, starting a fresh file whenever the running one
// crosses plan.MaxOutputFileSize (spec §4.5's "ordered bound to split
// the output").
func (e *Engine) writeOutputs(merged []mergedRecord, plan *compaction.Plan) ([]*liveFile, error) {
	if len(merged) == 0 {
		return nil, nil
	}

	maxSize := plan.MaxOutputFileSize
	if maxSize <= 0 {
		maxSize = e.opts.CompactionTargetFileSize
	}

	var outputs []*liveFile
	var builder *sstable.Builder
	var id uint64

	startFile := func() error {
		e.sstMu.Lock()
		id = e.nextFileID
		e.nextFileID++
		e.sstMu.Unlock()

		b, err := sstable.NewBuilder(sstablePath(e.dir, id), sstable.BuilderOptions{
			ID:                id,
			Level:             plan.OutputLevel,
			Compression:       e.opts.Compression,
			UseBloomFilter:    true,
			BloomExpectedKeys: uint(len(merged)),
			BloomFPRate:       e.opts.BloomFPRate,
		})
		if err != nil {
			return err
		}
		builder = b
		return nil
	}
	finishFile := func() error {
		meta, err := builder.Finish()
		if err != nil {
			return err
		}
		meta.ID = id
		meta.Level = plan.OutputLevel
		reader, err := sstable.Open(sstablePath(e.dir, id))
		if err != nil {
			return err
		}
		outputs = append(outputs, &liveFile{meta: meta, reader: reader})
		builder = nil
		return nil
	}

	if err := startFile(); err != nil {
		return nil, err
	}
	var written int64
	for i, rec := range merged {
		if err := builder.Add(rec.key, rec.value, rec.tombstone); err != nil {
			builder.Abort()
			return nil, err
		}
		written += int64(len(rec.key) + len(rec.value))
		if written >= maxSize && i != len(merged)-1 {
			if err := finishFile(); err != nil {
				return nil, err
			}
			if err := startFile(); err != nil {
				return nil, err
			}
			written = 0
		}
	}
	if err := finishFile(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func removeConsumed(files []*liveFile, consumed map[uint64]bool) []*liveFile {
	out := files[:0:0]
	for _, f := range files {
		if !consumed[f.meta.ID] {
			out = append(out, f)
		}
	}
	return out
}
