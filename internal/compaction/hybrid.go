package compaction

// Hybrid applies size-tiered compaction to level 0 and leveled
// compaction to every level at or above 1 (spec §4.5).
type Hybrid struct {
	tiered  *SizeTiered
	leveled *Leveled
}

// DefaultHybrid composes the two policies' documented defaults.
func DefaultHybrid() *Hybrid {
	return &Hybrid{tiered: DefaultSizeTiered(), leveled: DefaultLeveled()}
}

// NewHybrid composes caller-supplied tiered/leveled policies.
func NewHybrid(tiered *SizeTiered, leveled *Leveled) *Hybrid {
	return &Hybrid{tiered: tiered, leveled: leveled}
}

func l0Only(levels Levels) Levels {
	if len(levels) == 0 {
		return levels
	}
	return Levels{levels[0]}
}

func aboveL0(levels Levels) Levels {
	if len(levels) <= 1 {
		return nil
	}
	out := make(Levels, len(levels))
	out[0] = nil // keep indices aligned; level 0 excluded from leveled scoring
	copy(out[1:], levels[1:])
	return out
}

func (h *Hybrid) NeedsCompaction(levels Levels) bool {
	return h.tiered.NeedsCompaction(l0Only(levels)) || h.leveled.NeedsCompaction(aboveL0(levels))
}

func (h *Hybrid) Plan(levels Levels) *Plan {
	if plan := h.tiered.Plan(l0Only(levels)); plan != nil {
		return plan
	}
	return h.leveled.Plan(aboveL0(levels))
}
