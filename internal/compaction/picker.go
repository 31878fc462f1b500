// Package compaction implements the three selectable compaction
// policies (spec §4.5, component C5): size-tiered, leveled, and a
// hybrid of the two. Grounded on
// aalhour-rockyardkv/internal/compaction/picker.go's
// LeveledCompactionPicker (L0 file-count trigger, per-level size-ratio
// scoring, overlap selection into the next level), generalized to also
// cover the spec's size-tiered policy and simplified to a single-file
// Meta view instead of the teacher's full manifest/version machinery.
package compaction

import (
	"bytes"
	"sort"

	"github.com/strataforge/lsmkv/internal/sstable"
)

// Levels is an immutable snapshot of which files live at which level,
// indexed by level number. The engine builds this from its current
// version state before asking a Picker for a plan.
type Levels [][]sstable.Meta

// NumFiles returns the file count at level, or 0 if level is beyond
// the slice.
func (l Levels) NumFiles(level int) int {
	if level < 0 || level >= len(l) {
		return 0
	}
	return len(l[level])
}

// Files returns the files at level.
func (l Levels) Files(level int) []sstable.Meta {
	if level < 0 || level >= len(l) {
		return nil
	}
	return l[level]
}

// TotalBytes returns the sum of file sizes at level.
func (l Levels) TotalBytes(level int) int64 {
	var total int64
	for _, f := range l.Files(level) {
		total += f.FileSize
	}
	return total
}

// OverlappingInputs returns every file at level whose [MinKey,MaxKey]
// intersects [smallest, largest].
func (l Levels) OverlappingInputs(level int, smallest, largest []byte) []sstable.Meta {
	var out []sstable.Meta
	for _, f := range l.Files(level) {
		if bytes.Compare(f.MaxKey, smallest) < 0 || bytes.Compare(f.MinKey, largest) > 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Reason documents why a plan was picked, useful for logging.
type Reason string

const (
	ReasonL0FileCountTrigger Reason = "l0_file_count_trigger"
	ReasonLevelSizeExceeded  Reason = "level_size_exceeded"
	ReasonSizeTieredMerge    Reason = "size_tiered_merge"
)

// Plan is the output of picking a compaction: the files to merge, the
// level the merged output should land on, and the score/reason that
// triggered it (spec §4.5: "Plan output: a set of input SSTs to merge,
// an output level, and an ordered bound to split the output").
type Plan struct {
	Reason      Reason
	InputLevel  int
	Inputs      []sstable.Meta
	OutputLevel int
	NextInputs  []sstable.Meta // files already resident at OutputLevel that overlap Inputs
	Score       float64

	// MaxOutputFileSize bounds a single output file; the engine's
	// compaction worker splits the merged stream into multiple output
	// files at key boundaries once a running file exceeds this size
	// (spec §4.5's "ordered bound to split the output").
	MaxOutputFileSize int64
}

// AllInputs returns Inputs followed by NextInputs, the full file set
// the compaction worker must read and then retire.
func (p *Plan) AllInputs() []sstable.Meta {
	return append(append([]sstable.Meta{}, p.Inputs...), p.NextInputs...)
}

// Picker selects compaction work given the current file layout.
type Picker interface {
	NeedsCompaction(levels Levels) bool
	Plan(levels Levels) *Plan
}
