// Package dbformat defines the shared record identity types used
// across the memtable, SST, and WAL layers: sequence numbers and value
// types, and the internal-key trailer that packs them together.
//
// lsmkv generalizes RocksDB's richer value-type set down to exactly
// the two spec requires (put, delete) — no merge operator, no range
// deletion, no blob indirection (all Non-goals).
package dbformat

import "encoding/binary"

// SequenceNumber orders writes across the whole engine. Larger values
// are newer; it is the tie-breaker spec invariant 2 (§3) requires
// between memtable, immutable memtables, and SSTs.
type SequenceNumber uint64

// ValueType distinguishes a live value from a tombstone.
type ValueType uint8

const (
	// TypeDeletion marks a tombstone.
	TypeDeletion ValueType = 0
	// TypeValue marks a live value.
	TypeValue ValueType = 1
)

// MaxSequenceNumber is used as a read snapshot that observes every
// committed write.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// PackTrailer combines a sequence number and value type into the
// 8-byte internal-key trailer: (seq << 8) | type. Packing the type
// into the low byte means that for equal user keys, a larger trailer
// always means "more recent, at least as new a type" — so comparing
// trailers directly implements invariant 2's shadowing rule.
func PackTrailer(seq SequenceNumber, typ ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(typ)
}

// UnpackTrailer reverses PackTrailer.
func UnpackTrailer(trailer uint64) (SequenceNumber, ValueType) {
	return SequenceNumber(trailer >> 8), ValueType(trailer & 0xff)
}

// AppendTrailer appends the 8-byte little-endian trailer for (seq,
// typ) to buf and returns the extended slice.
func AppendTrailer(buf []byte, seq SequenceNumber, typ ValueType) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], PackTrailer(seq, typ))
	return append(buf, tmp[:]...)
}

// DecodeTrailer reads the trailer from the last 8 bytes of b.
func DecodeTrailer(b []byte) (SequenceNumber, ValueType) {
	trailer := binary.LittleEndian.Uint64(b[len(b)-8:])
	return UnpackTrailer(trailer)
}
