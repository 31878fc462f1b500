// Package checksum implements the CRC32C checksum used by the SST and
// WAL binary formats (spec §4.3, §4.4), plus a non-cryptographic
// 64-bit hash used for roles the on-disk formats do not pin
// (index-manager shard selection).
package checksum

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// Value computes the CRC32C checksum of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Extend computes the CRC32C of concat(A, data) given crc = Value(A).
func Extend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, table, data)
}
