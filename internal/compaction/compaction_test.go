package compaction

import (
	"testing"

	"github.com/strataforge/lsmkv/internal/sstable"
)

func meta(min, max string, size int64) sstable.Meta {
	return sstable.Meta{MinKey: []byte(min), MaxKey: []byte(max), FileSize: size}
}

func TestLeveledNeedsCompactionOnL0Trigger(t *testing.T) {
	p := DefaultLeveled()
	levels := Levels{
		{meta("a", "b", 100), meta("c", "d", 100), meta("e", "f", 100), meta("g", "h", 100)},
	}
	if !p.NeedsCompaction(levels) {
		t.Fatal("expected compaction needed once L0 reaches trigger count")
	}
	plan := p.Plan(levels)
	if plan == nil || plan.Reason != ReasonL0FileCountTrigger {
		t.Fatalf("plan = %+v, want L0 trigger plan", plan)
	}
	if plan.OutputLevel != 1 {
		t.Fatalf("output level = %d, want 1", plan.OutputLevel)
	}
}

func TestLeveledPicksOverlappingNextLevelFiles(t *testing.T) {
	p := DefaultLeveled()
	levels := Levels{
		{meta("a", "z", 100), meta("b", "c", 100), meta("d", "e", 100), meta("f", "g", 100)},
		{meta("a", "m", 50), meta("n", "z", 50)},
	}
	plan := p.Plan(levels)
	if plan == nil {
		t.Fatal("expected a plan")
	}
	if len(plan.NextInputs) != 2 {
		t.Fatalf("got %d overlapping L1 files, want 2", len(plan.NextInputs))
	}
}

func TestLeveledSizeScoreTrigger(t *testing.T) {
	p := DefaultLeveled()
	p.BaseBytes = 10
	levels := Levels{
		{}, // L0 below trigger
		{meta("a", "b", 60), meta("c", "d", 60)}, // total 120 > B(1) = 10*10 = 100
	}
	if !p.NeedsCompaction(levels) {
		t.Fatal("expected level-1 size trigger")
	}
	plan := p.Plan(levels)
	if plan == nil || plan.Reason != ReasonLevelSizeExceeded {
		t.Fatalf("plan = %+v, want size-exceeded plan", plan)
	}
	if plan.OutputLevel != 2 {
		t.Fatalf("output level = %d, want 2", plan.OutputLevel)
	}
}

func TestSizeTieredGroupsByTierAndTriggersAtFour(t *testing.T) {
	p := DefaultSizeTiered()
	small := int64(1000)
	levels := Levels{
		{meta("a", "a", small), meta("b", "b", small), meta("c", "c", small)},
	}
	if p.NeedsCompaction(levels) {
		t.Fatal("3 same-tier files should not yet trigger (min 4)")
	}
	levels[0] = append(levels[0], meta("d", "d", small))
	if !p.NeedsCompaction(levels) {
		t.Fatal("4 same-tier files should trigger")
	}
	plan := p.Plan(levels)
	if plan == nil || len(plan.Inputs) != 4 {
		t.Fatalf("plan = %+v, want 4 inputs", plan)
	}
	if plan.OutputLevel != plan.InputLevel {
		t.Fatal("size-tiered compaction must keep the level unchanged")
	}
}

func TestSizeTieredTieBreaksTowardLargestGroup(t *testing.T) {
	p := DefaultSizeTiered()
	levels := Levels{{
		meta("a1", "a1", 10), meta("a2", "a2", 10), meta("a3", "a3", 10), meta("a4", "a4", 10),
		meta("b1", "b1", 1000), meta("b2", "b2", 1000), meta("b3", "b3", 1000), meta("b4", "b4", 1000),
	}}
	plan := p.Plan(levels)
	if plan == nil {
		t.Fatal("expected a plan")
	}
	var total int64
	for _, f := range plan.Inputs {
		total += f.FileSize
	}
	if total != 4000 {
		t.Fatalf("picked group total = %d, want the larger (4000) group", total)
	}
}

func TestHybridUsesTieredForL0AndLeveledAbove(t *testing.T) {
	h := DefaultHybrid()
	levels := Levels{
		{meta("a", "a", 100), meta("b", "b", 100), meta("c", "c", 100), meta("d", "d", 100)},
		{},
	}
	plan := h.Plan(levels)
	if plan == nil || plan.Reason != ReasonSizeTieredMerge {
		t.Fatalf("plan = %+v, want size-tiered merge for L0", plan)
	}
}

func TestNoCompactionNeededOnEmptyLevels(t *testing.T) {
	for _, p := range []Picker{DefaultLeveled(), DefaultSizeTiered(), DefaultHybrid()} {
		if p.NeedsCompaction(Levels{}) {
			t.Fatalf("%T: empty levels should never need compaction", p)
		}
		if plan := p.Plan(Levels{}); plan != nil {
			t.Fatalf("%T: empty levels should produce no plan, got %+v", p, plan)
		}
	}
}
