package compaction

import (
	"bytes"

	"github.com/strataforge/lsmkv/internal/sstable"
)

// Leveled implements the leveled compaction policy (spec §4.5):
// each level L has a size budget B(L) = base*ratio^L; the smallest
// over-budget level is picked, together with every overlapping file
// in L+1, and merged into L+1.
//
// Grounded directly on the teacher's LeveledCompactionPicker
// (computeScore / targetSizeForLevel / pickL0Compaction /
// pickLevelCompaction), trimmed of the BeingCompacted bookkeeping the
// engine's own compaction-in-flight tracking already covers.
type Leveled struct {
	NumLevels           int
	L0CompactionTrigger int
	BaseBytes           int64
	SizeRatio           float64
	TargetFileSize      int64
}

// DefaultLeveled returns the spec's documented defaults: base 10 MiB,
// ratio 10.
func DefaultLeveled() *Leveled {
	return &Leveled{
		NumLevels:           7,
		L0CompactionTrigger: 4,
		BaseBytes:           10 << 20,
		SizeRatio:           10.0,
		TargetFileSize:      64 << 20,
	}
}

func (p *Leveled) targetSizeForLevel(level int) int64 {
	if level <= 0 {
		return 0
	}
	size := float64(p.BaseBytes)
	for i := 0; i < level; i++ {
		size *= p.SizeRatio
	}
	return int64(size)
}

func (p *Leveled) computeScore(levels Levels, level int) float64 {
	if level == 0 {
		return float64(levels.NumFiles(0)) / float64(p.L0CompactionTrigger)
	}
	target := p.targetSizeForLevel(level)
	if target == 0 {
		return 0
	}
	return float64(levels.TotalBytes(level)) / float64(target)
}

// NeedsCompaction reports whether L0's file count or any level's size
// exceeds its budget.
func (p *Leveled) NeedsCompaction(levels Levels) bool {
	if levels.NumFiles(0) >= p.L0CompactionTrigger {
		return true
	}
	for level := 1; level < p.NumLevels-1; level++ {
		if p.computeScore(levels, level) >= 1.0 {
			return true
		}
	}
	return false
}

// Plan picks the highest-priority compaction: L0 first (file-count
// trigger takes precedence, since every L0 file can overlap every
// other), then the smallest level whose size meets or exceeds its
// budget.
func (p *Leveled) Plan(levels Levels) *Plan {
	if levels.NumFiles(0) >= p.L0CompactionTrigger {
		return p.planL0(levels)
	}

	for level := 1; level < p.NumLevels-1; level++ {
		if score := p.computeScore(levels, level); score >= 1.0 {
			return p.planLevel(levels, level, score)
		}
	}
	return nil
}

func (p *Leveled) planL0(levels Levels) *Plan {
	l0 := levels.Files(0)
	if len(l0) == 0 {
		return nil
	}

	var smallest, largest []byte
	for _, f := range l0 {
		if smallest == nil || compareKeys(f.MinKey, smallest) < 0 {
			smallest = f.MinKey
		}
		if largest == nil || compareKeys(f.MaxKey, largest) > 0 {
			largest = f.MaxKey
		}
	}

	return &Plan{
		Reason:            ReasonL0FileCountTrigger,
		InputLevel:        0,
		Inputs:            l0,
		OutputLevel:       1,
		NextInputs:        levels.OverlappingInputs(1, smallest, largest),
		Score:             float64(len(l0)) / float64(p.L0CompactionTrigger),
		MaxOutputFileSize: p.TargetFileSize,
	}
}

func (p *Leveled) planLevel(levels Levels, level int, score float64) *Plan {
	files := levels.Files(level)
	if len(files) == 0 {
		return nil
	}

	// Pick the largest file not yet being compacted (the teacher's
	// pickLevelCompaction heuristic); the engine is responsible for
	// excluding files already in flight before calling Plan.
	chosen := files[0]
	for _, f := range files[1:] {
		if f.FileSize > chosen.FileSize {
			chosen = f
		}
	}

	nextLevel := level + 1
	return &Plan{
		Reason:            ReasonLevelSizeExceeded,
		InputLevel:        level,
		Inputs:            []sstable.Meta{chosen},
		OutputLevel:       nextLevel,
		NextInputs:        levels.OverlappingInputs(nextLevel, chosen.MinKey, chosen.MaxKey),
		Score:             score,
		MaxOutputFileSize: p.TargetFileSize,
	}
}

func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
