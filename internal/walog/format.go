// Package walog implements the write-ahead log (spec §4.4, component
// C4): a sequence of segment files recording every durable mutation
// before it is applied to the active memtable, with configurable sync
// modes and crash-safe replay.
package walog

import (
	"encoding/binary"
	"errors"

	"github.com/strataforge/lsmkv/internal/checksum"
)

// Op identifies the mutation a WAL record represents.
type Op uint8

const (
	OpPut Op = iota
	OpDelete
)

// tombstoneValueLen mirrors sstable's convention: a record's value_len
// field is -1 for a delete, carrying the tombstone without a separate
// flag (spec §5's resolution of the tombstone Open Question, applied
// consistently at the WAL layer too).
const tombstoneValueLen int32 = -1

var (
	// ErrCorrupt is returned by decode when a record's CRC does not
	// match its bytes.
	ErrCorrupt = errors.New("walog: corrupt record")
	// ErrTruncated is returned when a record is cut off mid-write, the
	// expected tail of a crashed process (spec §4.4 replay rule).
	ErrTruncated = errors.New("walog: truncated record")
)

// Record is one decoded WAL entry.
type Record struct {
	Op    Op
	Key   []byte
	Value []byte
}

// Encode serializes rec as:
//
//	{u32 length, u8 op, u32 key_len, key_bytes, i32 value_len, value_bytes, u32 crc}
//
// length counts every field after itself up to but excluding the
// trailing crc. crc covers every preceding field of the record,
// length included.
func Encode(rec Record) []byte {
	vLen := int32(len(rec.Value))
	isDelete := rec.Op == OpDelete
	if isDelete {
		vLen = tombstoneValueLen
	}

	body := make([]byte, 0, 1+4+len(rec.Key)+4+len(rec.Value))
	body = append(body, byte(rec.Op))
	body = binary.LittleEndian.AppendUint32(body, uint32(len(rec.Key)))
	body = append(body, rec.Key...)
	body = binary.LittleEndian.AppendUint32(body, uint32(vLen))
	if !isDelete {
		body = append(body, rec.Value...)
	}

	length := uint32(len(body))

	out := make([]byte, 0, 4+len(body)+4)
	out = binary.LittleEndian.AppendUint32(out, length)
	out = append(out, body...)
	crc := checksum.Value(out)
	out = binary.LittleEndian.AppendUint32(out, crc)
	return out
}

// Decode parses one record from the head of buf. It returns the
// number of bytes consumed so the caller can advance a read cursor.
// ErrTruncated signals the caller has reached a legitimately
// incomplete tail (the crash-recovery stopping point, spec §4.4);
// ErrCorrupt signals a CRC mismatch on an otherwise complete record.
func Decode(buf []byte) (rec Record, consumed int, err error) {
	if len(buf) < 4 {
		return Record{}, 0, ErrTruncated
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	total := 4 + int(length) + 4
	if len(buf) < total {
		return Record{}, 0, ErrTruncated
	}
	body := buf[4 : 4+int(length)]
	wantCRC := binary.LittleEndian.Uint32(buf[4+int(length) : total])
	if checksum.Value(buf[:4+int(length)]) != wantCRC {
		return Record{}, 0, ErrCorrupt
	}

	if len(body) < 9 {
		return Record{}, 0, ErrCorrupt
	}
	op := Op(body[0])
	keyLen := binary.LittleEndian.Uint32(body[1:5])
	if int(keyLen) > len(body)-5 {
		return Record{}, 0, ErrCorrupt
	}
	key := body[5 : 5+keyLen]
	rest := body[5+keyLen:]
	if len(rest) < 4 {
		return Record{}, 0, ErrCorrupt
	}
	vLen := int32(binary.LittleEndian.Uint32(rest[0:4]))
	rest = rest[4:]
	var value []byte
	if vLen != tombstoneValueLen {
		if int(vLen) != len(rest) {
			return Record{}, 0, ErrCorrupt
		}
		value = rest
	} else {
		op = OpDelete
	}

	return Record{Op: op, Key: key, Value: value}, total, nil
}
