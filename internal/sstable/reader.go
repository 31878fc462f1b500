package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/strataforge/lsmkv/internal/bloomfilter"
	"github.com/strataforge/lsmkv/internal/checksum"
	"github.com/strataforge/lsmkv/internal/compression"
)

// Reader opens an existing sstable file for point lookups and range
// scans. It loads the index and Bloom filter into memory at Open
// time and reads data records on demand (spec §4.3 / §6.3's two-tier
// "index in memory, data on disk" layout).
type Reader struct {
	path        string
	f           *os.File
	hdr         header
	index       []indexRecord
	bloom       *bloomfilter.Filter
	compression compression.Type
}

// Open reads and validates path's header, index, Bloom filter, and
// trailer checksum, returning a ready Reader.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	r, err := openFile(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func openFile(path string, f *os.File) (*Reader, error) {
	var hdrBuf [HeaderSize]byte
	if _, err := f.ReadAt(hdrBuf[:], 0); err != nil {
		return nil, fmt.Errorf("sstable: read header: %w", err)
	}
	hdr, err := decodeHeader(hdrBuf[:])
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("sstable: stat: %w", err)
	}
	if hdr.IndexOffset > uint64(info.Size()) {
		return nil, ErrTruncated
	}

	rest := make([]byte, info.Size()-int64(hdr.IndexOffset))
	if _, err := f.ReadAt(rest, int64(hdr.IndexOffset)); err != nil {
		return nil, fmt.Errorf("sstable: read index region: %w", err)
	}

	if len(rest) < 4 {
		return nil, ErrTruncated
	}
	count := binary.LittleEndian.Uint32(rest[0:4])
	rest = rest[4:]

	index := make([]indexRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		key, dataOffset, recordSize, n, err := decodeIndexEntry(rest)
		if err != nil {
			return nil, err
		}
		if len(index) > 0 && bytes.Compare(key, index[len(index)-1].key) <= 0 {
			return nil, ErrOutOfOrder
		}
		index = append(index, indexRecord{
			key:    append([]byte{}, key...),
			offset: dataOffset,
			size:   recordSize,
		})
		rest = rest[n:]
	}

	var bloom *bloomfilter.Filter
	bloomBytes := rest
	if len(bloomBytes) < 4 {
		return nil, ErrTruncated
	}
	bloomRegion := bloomBytes[:len(bloomBytes)-4]
	wantTrailer := binary.LittleEndian.Uint32(bloomBytes[len(bloomBytes)-4:])
	if checksum.Value(bloomRegion) != wantTrailer {
		return nil, ErrTrailerChecksum
	}
	if hdr.hasBloom() {
		bloom, err = bloomfilter.Open(bloomRegion)
		if err != nil {
			return nil, fmt.Errorf("sstable: open bloom region: %w", err)
		}
	}

	return &Reader{
		path:        path,
		f:           f,
		hdr:         hdr,
		index:       index,
		bloom:       bloom,
		compression: compression.Type(hdr.compression()),
	}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

// Unlink closes and removes the file, used by compaction to discard
// inputs once a compaction output is durable.
func (r *Reader) Unlink() error {
	r.f.Close()
	return os.Remove(r.path)
}

// Meta returns this file's metadata.
func (r *Reader) Meta() Meta {
	var minKey, maxKey []byte
	if len(r.index) > 0 {
		minKey = r.index[0].key
		maxKey = r.index[len(r.index)-1].key
	}
	return Meta{
		Path:        r.path,
		MinKey:      minKey,
		MaxKey:      maxKey,
		EntryCount:  r.hdr.EntryCount,
		Compression: r.hdr.compression(),
	}
}

// EntryCount returns the number of records in the file.
func (r *Reader) EntryCount() uint32 { return r.hdr.EntryCount }

// MightContain reports whether internalKey could be present, per the
// file's Bloom filter. A false return is a guarantee of absence; a
// true return requires Get to confirm (spec §4.3 testable property:
// "must never cause a false negative").
func (r *Reader) MightContain(internalKey []byte) bool {
	if r.bloom == nil {
		return true
	}
	return r.bloom.MayContain(internalKey)
}

// Get returns the value (decompressed if the file uses a codec) and
// tombstone flag for the index entry whose key equals internalKey
// exactly. Keys are matched byte for byte as they were added; the
// index holds one record per key and no sequence numbers.
func (r *Reader) Get(internalKey []byte) (value []byte, tombstone bool, found bool, err error) {
	if r.bloom != nil && !r.bloom.MayContain(internalKey) {
		return nil, false, false, nil
	}
	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].key, internalKey) >= 0
	})
	if i >= len(r.index) || !bytes.Equal(r.index[i].key, internalKey) {
		return nil, false, false, nil
	}
	return r.readAt(r.index[i])
}

func (r *Reader) readAt(e indexRecord) (value []byte, tombstone bool, found bool, err error) {
	buf := make([]byte, e.size)
	if _, err := r.f.ReadAt(buf, int64(e.offset)); err != nil {
		return nil, false, false, fmt.Errorf("sstable: read record: %w", err)
	}
	_, storedValue, isTombstone, _, derr := decodeRecord(buf)
	if derr != nil {
		return nil, false, false, derr
	}
	if isTombstone {
		return nil, true, true, nil
	}
	if r.compression != compression.None {
		dec, derr := compression.Decode(r.compression, storedValue)
		if derr != nil {
			return nil, false, false, fmt.Errorf("sstable: decompress record: %w", derr)
		}
		return dec, false, true, nil
	}
	return storedValue, false, true, nil
}

// IndexEntry is one key's location, exposed read-only for range scans
// and compaction merges.
type IndexEntry struct {
	Key []byte
}

// RangeIndex returns the internal keys of every record whose key lies
// in [startInclusive, endExclusive). A nil bound is unbounded on that
// side. Used by the engine to merge-scan across memtables and SSTs
// and by compaction to iterate a file in order.
func (r *Reader) RangeIndex(startInclusive, endExclusive []byte) []IndexEntry {
	lo := 0
	if startInclusive != nil {
		lo = sort.Search(len(r.index), func(i int) bool {
			return bytes.Compare(r.index[i].key, startInclusive) >= 0
		})
	}
	hi := len(r.index)
	if endExclusive != nil {
		hi = sort.Search(len(r.index), func(i int) bool {
			return bytes.Compare(r.index[i].key, endExclusive) >= 0
		})
	}
	out := make([]IndexEntry, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, IndexEntry{Key: r.index[i].key})
	}
	return out
}

// ReadAll decodes every record in the file in key order, used by full
// compaction merges. tombstone records yield a nil value.
func (r *Reader) ReadAll() ([]Record, error) {
	out := make([]Record, 0, len(r.index))
	for _, e := range r.index {
		value, tombstone, _, err := r.readAt(e)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Key: e.key, Value: value, Tombstone: tombstone})
	}
	return out, nil
}

// Record is one decoded (internalKey, value) pair.
type Record struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}
