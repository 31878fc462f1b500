package sstable

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/strataforge/lsmkv/internal/bloomfilter"
	"github.com/strataforge/lsmkv/internal/checksum"
	"github.com/strataforge/lsmkv/internal/compression"
)

// BuilderOptions configures a new table Builder.
type BuilderOptions struct {
	ID               uint64
	Level            int
	Compression      compression.Type
	UseBloomFilter   bool
	BloomExpectedKeys uint
	BloomFPRate      float64
}

// Builder writes one sstable file in the two-pass style the teacher's
// internal/table builder uses: stream data records first, remembering
// offsets for the index, then append the index, Bloom filter, and
// trailer, and finally seek back and overwrite the header placeholder
// now that EntryCount and IndexOffset are known.
type Builder struct {
	opts BuilderOptions
	path string
	f    *os.File
	w    *bufio.Writer

	offset  uint64
	index   []indexRecord
	bloom   *bloomfilter.Builder
	count   uint32
	minKey  []byte
	maxKey  []byte
	closed  bool
}

type indexRecord struct {
	key    []byte
	offset uint64
	size   uint32
}

// NewBuilder creates path and begins writing. The caller must call
// either Finish or Abort.
func NewBuilder(path string, opts BuilderOptions) (*Builder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: write header placeholder: %w", err)
	}
	var bloom *bloomfilter.Builder
	if opts.UseBloomFilter {
		n := opts.BloomExpectedKeys
		if n == 0 {
			n = 1024
		}
		p := opts.BloomFPRate
		if p <= 0 {
			p = 0.01
		}
		bloom = bloomfilter.NewBuilder(n, p)
	}
	return &Builder{
		opts:   opts,
		path:   path,
		f:      f,
		w:      bufio.NewWriter(f),
		offset: HeaderSize,
		bloom:  bloom,
	}, nil
}

// Add appends one record. internalKey must be strictly greater than
// the previous key added (spec invariant 1: SST files store keys in
// strictly increasing byte order); the key is stored exactly as given.
func (b *Builder) Add(internalKey, value []byte, tombstone bool) error {
	if len(b.minKey) == 0 {
		b.minKey = append([]byte{}, internalKey...)
	}
	b.maxKey = append(b.maxKey[:0], internalKey...)

	storedValue := value
	if !tombstone && b.opts.Compression != compression.None {
		enc, err := compression.Encode(b.opts.Compression, value)
		if err != nil {
			return fmt.Errorf("sstable: compress value: %w", err)
		}
		storedValue = enc
	}

	rec := encodeRecord(internalKey, storedValue, tombstone)
	if _, err := b.w.Write(rec); err != nil {
		return fmt.Errorf("sstable: write record: %w", err)
	}

	b.index = append(b.index, indexRecord{
		key:    append([]byte{}, internalKey...),
		offset: b.offset,
		size:   uint32(len(rec)),
	})
	b.offset += uint64(len(rec))
	b.count++

	if b.bloom != nil {
		b.bloom.Add(internalKey)
	}
	return nil
}

// Finish writes the index, Bloom filter, and trailer regions, then
// backfills the header, and returns the resulting file's metadata.
func (b *Builder) Finish() (Meta, error) {
	if b.closed {
		return Meta{}, fmt.Errorf("sstable: builder already closed")
	}
	indexOffset := b.offset

	indexBuf := make([]byte, 0, 4+len(b.index)*32)
	indexBuf = appendU32LE(indexBuf, uint32(len(b.index)))
	for _, e := range b.index {
		indexBuf = append(indexBuf, encodeIndexEntry(e.key, e.offset, e.size)...)
	}
	if _, err := b.w.Write(indexBuf); err != nil {
		return Meta{}, fmt.Errorf("sstable: write index: %w", err)
	}

	var bloomBytes []byte
	if b.bloom != nil {
		var err error
		bloomBytes, err = b.bloom.Finish()
		if err != nil {
			return Meta{}, fmt.Errorf("sstable: finish bloom filter: %w", err)
		}
		if _, err := b.w.Write(bloomBytes); err != nil {
			return Meta{}, fmt.Errorf("sstable: write bloom region: %w", err)
		}
	}

	trailerCRC := checksum.Value(bloomBytes)
	var trailer [4]byte
	putU32LE(trailer[:], trailerCRC)
	if _, err := b.w.Write(trailer[:]); err != nil {
		return Meta{}, fmt.Errorf("sstable: write trailer: %w", err)
	}

	if err := b.w.Flush(); err != nil {
		return Meta{}, fmt.Errorf("sstable: flush: %w", err)
	}

	hdr := header{
		Magic:       Magic,
		Version:     FormatVersion,
		Flags:       makeFlags(b.bloom != nil, uint8(b.opts.Compression)),
		CreatedUnix: time.Now().Unix(),
		EntryCount:  b.count,
		IndexOffset: indexOffset,
	}
	buf := encodeHeader(hdr)
	if _, err := b.f.WriteAt(buf[:], 0); err != nil {
		return Meta{}, fmt.Errorf("sstable: backfill header: %w", err)
	}

	info, err := b.f.Stat()
	if err != nil {
		return Meta{}, fmt.Errorf("sstable: stat: %w", err)
	}
	if err := b.f.Sync(); err != nil {
		return Meta{}, fmt.Errorf("sstable: sync: %w", err)
	}
	b.closed = true
	if err := b.f.Close(); err != nil {
		return Meta{}, fmt.Errorf("sstable: close: %w", err)
	}

	return Meta{
		ID:          b.opts.ID,
		Level:       b.opts.Level,
		Path:        b.path,
		MinKey:      b.minKey,
		MaxKey:      b.maxKey,
		FileSize:    info.Size(),
		EntryCount:  b.count,
		Compression: uint8(b.opts.Compression),
	}, nil
}

// Abort discards a partially written file.
func (b *Builder) Abort() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.f.Close()
	return os.Remove(b.path)
}

func appendU32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func putU32LE(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}
