package checksum

import "github.com/zeebo/xxh3"

// Hash64 returns a fast, non-cryptographic 64-bit hash of data. It is
// used where the on-disk formats do not mandate a specific checksum:
// the index manager's shard selection.
func Hash64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Hash64String is Hash64 without an allocation for the common case of
// hashing a string key.
func Hash64String(s string) uint64 {
	return xxh3.HashString(s)
}
