// Package bloomfilter implements the probabilistic membership filter
// attached to every SST file (spec §4.1, component C1).
//
// Sizing follows the standard formulas bits = -n*ln(p)/(ln 2)^2 and
// k = (m/n)*ln 2, k >= 1, which is exactly what
// github.com/bits-and-blooms/bloom/v3's NewWithEstimates implements —
// so the filter itself is backed by that library rather than
// hand-rolled bit twiddling. Serialization is a length-prefixed bit
// buffer plus the hash-function count, per spec: the wire format below
// wraps the library's own binary marshaling in that envelope.
package bloomfilter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bloom/v3"
)

// ErrInvalidFilter is returned when deserializing a corrupt or
// truncated filter blob.
var ErrInvalidFilter = errors.New("bloomfilter: invalid serialized filter")

// Builder accumulates keys and produces a serialized Bloom filter
// sized for the expected insertion count and target false-positive
// rate.
type Builder struct {
	fpRate float64
	filter *bloom.BloomFilter
	n      uint
}

// NewBuilder creates a Builder sized for expectedInsertions keys at
// targetFPRate false positives. k (number of hash probes) is derived
// by the library from m/n, and is always >= 1.
func NewBuilder(expectedInsertions uint, targetFPRate float64) *Builder {
	if expectedInsertions == 0 {
		expectedInsertions = 1
	}
	if targetFPRate <= 0 || targetFPRate >= 1 {
		targetFPRate = 0.01
	}
	return &Builder{
		fpRate: targetFPRate,
		filter: bloom.NewWithEstimates(expectedInsertions, targetFPRate),
	}
}

// Add inserts a key into the filter under construction.
func (b *Builder) Add(key []byte) {
	b.filter.Add(key)
	b.n++
}

// Len returns the number of keys added so far.
func (b *Builder) Len() uint {
	return b.n
}

// EstimatedFalsePositiveRate returns the filter's configured target
// false-positive rate at its design load.
func (b *Builder) EstimatedFalsePositiveRate() float64 {
	return b.fpRate
}

// EstimatedSize returns the approximate serialized size in bytes.
func (b *Builder) EstimatedSize() int {
	return int(b.filter.Cap()/8) + headerSize
}

// headerSize is the length-prefix + hash-count envelope size:
// 4 bytes byte length of the serialized bit buffer + 4 bytes k (hash
// function count).
const headerSize = 8

// Finish serializes the filter: [u32 bufLen][u32 numHashes][bit buffer],
// where bufLen is the bit buffer's length in bytes.
func (b *Builder) Finish() ([]byte, error) {
	var bits bytes.Buffer
	if _, err := b.filter.WriteTo(&bits); err != nil {
		return nil, fmt.Errorf("bloomfilter: serialize: %w", err)
	}

	var out bytes.Buffer
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(bits.Len()))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(b.filter.K()))
	out.Write(hdr[:])
	out.Write(bits.Bytes())
	return out.Bytes(), nil
}

// Filter is a read-only, deserialized Bloom filter.
type Filter struct {
	filter *bloom.BloomFilter
}

// Open deserializes a filter produced by Builder.Finish.
func Open(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, ErrInvalidFilter
	}
	bitLen := binary.LittleEndian.Uint32(data[0:4])
	_ = binary.LittleEndian.Uint32(data[4:8]) // numHashes, informational only
	body := data[headerSize:]
	if uint32(len(body)) != bitLen {
		return nil, ErrInvalidFilter
	}

	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return &Filter{filter: f}, nil
}

// MayContain reports whether key might be present. A false return is
// a definitive negative (zero false negatives); a true return may be
// a false positive bounded by the filter's configured rate.
func (f *Filter) MayContain(key []byte) bool {
	if f == nil || f.filter == nil {
		return false
	}
	return f.filter.Test(key)
}

// NumHashes returns k, the number of hash probes per key.
func (f *Filter) NumHashes() uint {
	if f == nil || f.filter == nil {
		return 0
	}
	return f.filter.K()
}

// BitsFor returns the number of filter bits the standard sizing
// formula produces for n keys at false-positive rate p. Exposed for
// capacity planning / tests; Builder uses the library's own sizing.
func BitsFor(n uint, p float64) uint {
	if n == 0 {
		return 0
	}
	m := math.Ceil(-1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	return uint(m)
}
