package walog

import (
	"fmt"
	"os"

	"github.com/strataforge/lsmkv/internal/logging"
)

// Apply is called once per valid record found during Replay, in
// segment and in-segment order.
type Apply func(Record) error

// Replay reads every segment under dir oldest-first and invokes fn
// for each valid record (spec §4.4). Within a segment, the first
// record that fails CRC or length validation ends replay for that
// segment only — the expected shape of a crash mid-write — and replay
// continues with the next segment.
func Replay(dir string, logger logging.Logger, fn Apply) (recordsApplied int, err error) {
	logger = logging.OrDefault(logger)
	segs, err := listSegments(dir)
	if err != nil {
		return 0, fmt.Errorf("walog: list segments: %w", err)
	}

	for _, seq := range segs {
		path := segmentPath(dir, seq)
		n, truncatedTail, err := replaySegment(path, fn)
		recordsApplied += n
		if err != nil {
			return recordsApplied, err
		}
		if truncatedTail {
			logger.Warnf(logging.NSRecovery+"wal segment %s: stopped replay at first invalid record after %d records", path, n)
		}
	}
	return recordsApplied, nil
}

func replaySegment(path string, fn Apply) (count int, truncatedTail bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, fmt.Errorf("walog: read segment %s: %w", path, err)
	}

	for len(data) > 0 {
		rec, n, err := Decode(data)
		if err != nil {
			// Truncated or corrupt tail: stop replaying this segment.
			return count, true, nil
		}
		if err := fn(rec); err != nil {
			return count, false, fmt.Errorf("walog: apply record from %s: %w", path, err)
		}
		data = data[n:]
		count++
	}
	return count, false, nil
}
