// Package sstable implements the immutable on-disk sorted-table file
// format (spec §4.3, component C3): a header, a data region of
// variable-length records, a block index, an optional Bloom filter,
// and a trailing checksum.
//
// All multi-byte integers are little-endian, fixed by the 2-byte format
// version field in the header (spec §9's endianness Open Question).
package sstable

import (
	"encoding/binary"
	"errors"

	"github.com/strataforge/lsmkv/internal/checksum"
)

// Magic identifies an lsmkv sstable file: ASCII "SSTB" read as a
// big-endian u32, per spec §4.3. Like every header field it is written
// little-endian, so the file's first four bytes are "BTSS".
const Magic uint32 = 0x53535442

// FormatVersion is the current on-disk format version.
const FormatVersion uint16 = 1

// HeaderSize is the fixed header size in bytes (spec §4.3).
const HeaderSize = 64

// Header flag bits. Bit 0 is spec-mandated ("has Bloom filter"); bits
// 2-3 are an additive use of the reserved flag space to carry the
// per-record compression codec (SPEC_FULL.md §6.3).
const (
	flagHasBloom       = 1 << 0
	flagCompressionMask = 0b1100
	flagCompressionShift = 2
)

var (
	// ErrBadMagic means the file does not start with the sstable magic.
	ErrBadMagic = errors.New("sstable: bad magic")
	// ErrUnsupportedVersion means the file's format version is unknown.
	ErrUnsupportedVersion = errors.New("sstable: unsupported format version")
	// ErrHeaderChecksum means the header's own CRC32 does not match.
	ErrHeaderChecksum = errors.New("sstable: header checksum mismatch")
	// ErrTrailerChecksum means the trailer CRC32 over the Bloom region
	// does not match.
	ErrTrailerChecksum = errors.New("sstable: trailer checksum mismatch")
	// ErrTruncated means the file is shorter than its own index_offset
	// plus the index-region length prefix requires.
	ErrTruncated = errors.New("sstable: truncated file")
	// ErrOutOfOrder means keys in the data region are not strictly
	// increasing, violating spec invariant 1.
	ErrOutOfOrder = errors.New("sstable: keys out of order")
)

// header is the parsed form of the fixed 64-byte file header.
type header struct {
	Magic       uint32
	Version     uint16
	Flags       uint16
	CreatedUnix int64
	EntryCount  uint32
	IndexOffset uint64
}

func (h header) hasBloom() bool { return h.Flags&flagHasBloom != 0 }

func (h header) compression() uint8 {
	return uint8((h.Flags & flagCompressionMask) >> flagCompressionShift)
}

func makeFlags(hasBloom bool, compression uint8) uint16 {
	var f uint16
	if hasBloom {
		f |= flagHasBloom
	}
	f |= uint16(compression) << flagCompressionShift & flagCompressionMask
	return f
}

// encodeHeader serializes h into a 64-byte buffer, computing the
// header CRC32 over bytes [0:28) (everything preceding the checksum
// field itself).
func encodeHeader(h header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.CreatedUnix))
	binary.LittleEndian.PutUint32(buf[16:20], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[20:28], h.IndexOffset)
	crc := checksum.Value(buf[:28])
	binary.LittleEndian.PutUint32(buf[28:32], crc)
	// buf[32:64] stays zero padding.
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, ErrTruncated
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return header{}, ErrBadMagic
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != FormatVersion {
		return header{}, ErrUnsupportedVersion
	}
	flags := binary.LittleEndian.Uint16(buf[6:8])
	created := int64(binary.LittleEndian.Uint64(buf[8:16]))
	count := binary.LittleEndian.Uint32(buf[16:20])
	indexOffset := binary.LittleEndian.Uint64(buf[20:28])
	wantCRC := binary.LittleEndian.Uint32(buf[28:32])
	if checksum.Value(buf[:28]) != wantCRC {
		return header{}, ErrHeaderChecksum
	}
	return header{
		Magic:       magic,
		Version:     version,
		Flags:       flags,
		CreatedUnix: created,
		EntryCount:  count,
		IndexOffset: indexOffset,
	}, nil
}

// record encoding: {u16 keyLen, i32 valueLen, keyBytes, valueBytes}.
// valueLen == -1 denotes a tombstone (spec §4.3 / §5's resolution of
// the tombstone Open Question).
const tombstoneValueLen int32 = -1

func encodeRecord(key, value []byte, tombstone bool) []byte {
	vLen := int32(len(value))
	if tombstone {
		vLen = tombstoneValueLen
	}
	buf := make([]byte, 0, 2+4+len(key)+len(value))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(key)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(vLen))
	buf = append(buf, key...)
	if !tombstone {
		buf = append(buf, value...)
	}
	return buf
}

// decodeRecord parses one record starting at offset 0 of buf, which
// must contain at least the record's bytes. Returns the record and
// its total encoded length.
func decodeRecord(buf []byte) (key, value []byte, tombstone bool, size int, err error) {
	if len(buf) < 6 {
		return nil, nil, false, 0, ErrTruncated
	}
	keyLen := binary.LittleEndian.Uint16(buf[0:2])
	vLen := int32(binary.LittleEndian.Uint32(buf[2:6]))
	tombstone = vLen == tombstoneValueLen
	valLen := 0
	if !tombstone {
		valLen = int(vLen)
	}
	total := 6 + int(keyLen) + valLen
	if len(buf) < total {
		return nil, nil, false, 0, ErrTruncated
	}
	key = buf[6 : 6+int(keyLen)]
	if !tombstone {
		value = buf[6+int(keyLen) : total]
	}
	return key, value, tombstone, total, nil
}

// index entry encoding: {u16 keyLen, keyBytes, u64 dataOffset, u32 recordSize}.
func encodeIndexEntry(key []byte, dataOffset uint64, recordSize uint32) []byte {
	buf := make([]byte, 0, 2+len(key)+8+4)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(key)))
	buf = append(buf, key...)
	buf = binary.LittleEndian.AppendUint64(buf, dataOffset)
	buf = binary.LittleEndian.AppendUint32(buf, recordSize)
	return buf
}

func decodeIndexEntry(buf []byte) (key []byte, dataOffset uint64, recordSize uint32, size int, err error) {
	if len(buf) < 2 {
		return nil, 0, 0, 0, ErrTruncated
	}
	keyLen := binary.LittleEndian.Uint16(buf[0:2])
	need := 2 + int(keyLen) + 8 + 4
	if len(buf) < need {
		return nil, 0, 0, 0, ErrTruncated
	}
	key = buf[2 : 2+int(keyLen)]
	dataOffset = binary.LittleEndian.Uint64(buf[2+int(keyLen) : 10+int(keyLen)])
	recordSize = binary.LittleEndian.Uint32(buf[10+int(keyLen) : 14+int(keyLen)])
	return key, dataOffset, recordSize, need, nil
}
