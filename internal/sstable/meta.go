package sstable

// Meta describes one sstable file's identity and key range, the unit
// the compaction picker and the engine's version state track (spec
// §4.3 "Carries metadata: ID, level, min/max key, byte size").
type Meta struct {
	ID          uint64
	Level       int
	Path        string
	MinKey      []byte // smallest stored key
	MaxKey      []byte // largest stored key
	FileSize    int64
	EntryCount  uint32
	Compression uint8
}
