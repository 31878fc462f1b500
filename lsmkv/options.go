package lsmkv

import (
	"time"

	"github.com/strataforge/lsmkv/internal/compression"
	"github.com/strataforge/lsmkv/internal/logging"
	"github.com/strataforge/lsmkv/internal/walog"
)

// CompactionPolicy selects which compaction.Picker the engine builds.
type CompactionPolicy string

const (
	CompactionSizeTiered CompactionPolicy = "size_tiered"
	CompactionLeveled    CompactionPolicy = "leveled"
	CompactionHybrid     CompactionPolicy = "hybrid"
)

// WALSyncMode mirrors walog.SyncMode at the public API boundary so
// callers configuring an Engine don't need to import internal/walog.
type WALSyncMode string

const (
	WALSyncImmediate WALSyncMode = "sync"
	WALSyncGroup     WALSyncMode = "group"
	WALSyncAsync     WALSyncMode = "async"
)

func (m WALSyncMode) toInternal() walog.SyncMode {
	switch m {
	case WALSyncGroup:
		return walog.SyncGroup
	case WALSyncAsync:
		return walog.SyncAsync
	default:
		return walog.SyncImmediate
	}
}

// Options enumerates spec.md §6's engine configuration keys for the
// LSM tree itself. The index-manager keys (index_auto_threshold,
// index_max_per_table, auto_indexing) live on indexmgr.Options
// instead: indexmgr is keyed by (database, table, column) and driven
// by an external row store (spec.md §6's consumed interfaces), not by
// an Engine's byte keyspace, so it is configured and owned
// independently rather than through this struct.
type Options struct {
	MemtableMaxBytes int64

	MaxImmutableMemtables int

	CompactionTriggerThreshold int
	CompactionMaxInputs        int
	CompactionInterval         time.Duration
	CompactionPolicy           CompactionPolicy
	LevelCount                 int
	LevelSizeRatio             float64
	CompactionTargetFileSize   int64

	WALSyncMode               WALSyncMode
	WALSegmentMaxBytes        int64
	WALGroupCommitSize        int
	WALGroupCommitInterval    time.Duration

	BloomFPRate float64

	Compression compression.Type

	// CloseTimeout bounds how long Close waits for in-flight worker
	// operations before forcing shutdown (spec §5: "bounded timeout,
	// default 5s").
	CloseTimeout time.Duration

	Logger logging.Logger
}

// DefaultOptions returns the defaults enumerated in spec.md §6.
func DefaultOptions() Options {
	return Options{
		MemtableMaxBytes: 1 << 20,

		MaxImmutableMemtables: 2,

		CompactionTriggerThreshold: 10,
		CompactionMaxInputs:        4,
		CompactionInterval:         60 * time.Second,
		CompactionPolicy:           CompactionHybrid,
		LevelCount:                 7,
		LevelSizeRatio:             10,
		CompactionTargetFileSize:   64 << 20,

		WALSyncMode:            WALSyncImmediate,
		WALSegmentMaxBytes:     64 << 20,
		WALGroupCommitSize:     100,
		WALGroupCommitInterval: time.Second,

		BloomFPRate: 0.01,

		Compression: compression.None,

		CloseTimeout: 5 * time.Second,

		Logger: logging.Discard,
	}
}
