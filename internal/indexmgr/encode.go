package indexmgr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeValue converts a column value into an order-preserving byte
// slice suitable as a btree.Tree key: equal Go values encode equal,
// and the byte-lexicographic order of the encoding matches the
// natural order of the value (spec §4.8: "keyed by a totally
// orderable value").
func encodeValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case bool:
		if x {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case int:
		return encodeInt64(int64(x)), nil
	case int32:
		return encodeInt64(int64(x)), nil
	case int64:
		return encodeInt64(x), nil
	case uint:
		return encodeUint64(uint64(x)), nil
	case uint32:
		return encodeUint64(uint64(x)), nil
	case uint64:
		return encodeUint64(x), nil
	case float32:
		return encodeFloat64(float64(x)), nil
	case float64:
		return encodeFloat64(x), nil
	default:
		return nil, fmt.Errorf("indexmgr: unsupported column value type %T", v)
	}
}

// encodeInt64 flips the sign bit so two's-complement signed integers
// sort correctly as unsigned big-endian byte strings.
func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// encodeFloat64 maps IEEE-754 bit patterns to an order-preserving
// unsigned encoding: flip the sign bit for non-negatives, flip every
// bit for negatives.
func encodeFloat64(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}
