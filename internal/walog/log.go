package walog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/strataforge/lsmkv/internal/logging"
)

// SyncMode selects how durably Append commits a record (spec §4.4).
type SyncMode uint8

const (
	// SyncImmediate flushes and fsyncs every record before Append
	// returns.
	SyncImmediate SyncMode = iota
	// SyncGroup coalesces up to GroupMaxRecords records, or whatever
	// arrives within GroupMaxDelay, into one flush+fsync.
	SyncGroup
	// SyncAsync returns immediately after a buffered write; an
	// uncommitted tail may be lost on crash.
	SyncAsync
)

// Options configures a Log.
type Options struct {
	Sync            SyncMode
	GroupMaxRecords int
	GroupMaxDelay   time.Duration
	MaxSegmentBytes int64
	Logger          logging.Logger
}

// DefaultOptions returns the engine's default WAL configuration:
// immediate sync, 64 MiB segments.
func DefaultOptions() Options {
	return Options{
		Sync:            SyncImmediate,
		GroupMaxRecords: 64,
		GroupMaxDelay:   5 * time.Millisecond,
		MaxSegmentBytes: 64 << 20,
		Logger:          logging.Discard,
	}
}

type groupRequest struct {
	data []byte
	done chan error
}

// Log appends records to a rotating sequence of segment files under
// dir (spec §4.4). Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	dir      string
	opts     Options
	activeSeq uint64
	f        *os.File
	w        *bufio.Writer
	size     int64

	groupCh chan groupRequest
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Open creates dir if needed and opens (or starts) the active
// segment, appending after any existing segments found there.
func Open(dir string, opts Options) (*Log, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("walog: mkdir %s: %w", dir, err)
	}
	segs, err := listSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("walog: list segments: %w", err)
	}
	seq := uint64(1)
	if len(segs) > 0 {
		seq = segs[len(segs)-1]
	}

	l := &Log{dir: dir, opts: opts, closeCh: make(chan struct{})}
	if err := l.openSegment(seq); err != nil {
		return nil, err
	}

	if opts.Sync == SyncGroup {
		l.groupCh = make(chan groupRequest, 256)
		l.wg.Add(1)
		go l.committer()
	}
	return l, nil
}

func (l *Log) openSegment(seq uint64) error {
	path := segmentPath(l.dir, seq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("walog: open segment %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("walog: stat segment %s: %w", path, err)
	}
	l.activeSeq = seq
	l.f = f
	l.w = bufio.NewWriter(f)
	l.size = info.Size()
	return nil
}

// Append encodes and durably writes rec according to the configured
// sync mode, returning once the record is committed per that mode.
func (l *Log) Append(rec Record) error {
	data := Encode(rec)
	switch l.opts.Sync {
	case SyncGroup:
		req := groupRequest{data: data, done: make(chan error, 1)}
		l.groupCh <- req
		return <-req.done
	case SyncAsync:
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.writeLocked(data); err != nil {
			return err
		}
		return l.maybeRotateLocked()
	default: // SyncImmediate
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.writeLocked(data); err != nil {
			return err
		}
		if err := l.flushAndSyncLocked(); err != nil {
			return err
		}
		return l.maybeRotateLocked()
	}
}

func (l *Log) writeLocked(data []byte) error {
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("walog: write record: %w", err)
	}
	l.size += int64(len(data))
	return nil
}

func (l *Log) flushAndSyncLocked() error {
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("walog: flush: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("walog: fsync: %w", err)
	}
	return nil
}

func (l *Log) maybeRotateLocked() error {
	if l.size < l.opts.MaxSegmentBytes {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("walog: flush before rotate: %w", err)
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("walog: close segment before rotate: %w", err)
	}
	l.opts.Logger.Infof(logging.NSWAL+"rotating wal segment %d -> %d", l.activeSeq, l.activeSeq+1)
	return l.openSegment(l.activeSeq + 1)
}

func (l *Log) committer() {
	defer l.wg.Done()
	for {
		select {
		case req := <-l.groupCh:
			batch := []groupRequest{req}
			deadline := time.NewTimer(l.opts.GroupMaxDelay)
		drain:
			for len(batch) < l.opts.GroupMaxRecords {
				select {
				case r2 := <-l.groupCh:
					batch = append(batch, r2)
				case <-deadline.C:
					break drain
				}
			}
			deadline.Stop()
			l.flushBatch(batch)
		case <-l.closeCh:
			return
		}
	}
}

func (l *Log) flushBatch(batch []groupRequest) {
	l.mu.Lock()
	var writeErr error
	for _, req := range batch {
		if writeErr = l.writeLocked(req.data); writeErr != nil {
			break
		}
	}
	if writeErr == nil {
		writeErr = l.flushAndSyncLocked()
	}
	if writeErr == nil {
		writeErr = l.maybeRotateLocked()
	}
	l.mu.Unlock()

	for _, req := range batch {
		req.done <- writeErr
	}
}

// Close flushes and closes the active segment, stopping the group
// committer if one is running.
func (l *Log) Close() error {
	if l.opts.Sync == SyncGroup {
		close(l.closeCh)
		l.wg.Wait()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("walog: flush on close: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("walog: fsync on close: %w", err)
	}
	return l.f.Close()
}

// ActiveSegment returns the sequence number of the currently open
// segment, used to decide which older segments are safe to prune.
func (l *Log) ActiveSegment() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeSeq
}

// OldestSegment returns the lowest sequence number among dir's
// existing segments. ok is false if dir has no segments yet, in which
// case the caller should fall back to the active segment once one
// exists.
func OldestSegment(dir string) (seq uint64, ok bool, err error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, false, err
	}
	if len(segs) == 0 {
		return 0, false, nil
	}
	return segs[0], true, nil
}

// PruneSegmentsBefore removes every segment file with sequence number
// less than seq, used once the engine knows their writes are durable
// in SSTs (spec §4.4: "segments ... may be pruned after ... a
// checkpoint").
func PruneSegmentsBefore(dir string, seq uint64) error {
	segs, err := listSegments(dir)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if s < seq {
			if err := os.Remove(segmentPath(dir, s)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("walog: prune segment %d: %w", s, err)
			}
		}
	}
	return nil
}
