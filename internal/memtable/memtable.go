package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/strataforge/lsmkv/internal/dbformat"
)

// entryOverhead is charged per entry in addition to key+value bytes,
// approximating skip-list node/pointer overhead (spec §4.2: "Byte size
// must account for keys, values, and a small fixed per-entry overhead").
const entryOverhead = 24

// MemTable is the ordered in-memory write buffer (spec §4.2). Keys are
// internal keys (user key + trailer); values are stored inline.
// Entries are encoded as:
//
//	[u32 internalKeyLen][internalKey][u32 valueLen][value]
//
// valueLen has no dedicated tombstone sentinel in-memory — the type
// byte packed into the trailer (dbformat.TypeDeletion) carries that,
// matching spec §5's resolution of the tombstone Open Question.
type MemTable struct {
	mu         sync.Mutex
	list       *skipList
	compare    Comparator
	bytes      int64
	threshold  int64
	firstSeq   dbformat.SequenceNumber
	lastSeq    dbformat.SequenceNumber
}

// New creates an empty MemTable with the given byte-size threshold
// (memtable_max_bytes, spec §6) and user-key comparator.
func New(thresholdBytes int64, cmp Comparator) *MemTable {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	userCmp := cmp
	internalCmp := func(a, b []byte) int {
		return compareEntries(a, b, userCmp)
	}
	return &MemTable{
		list:      newSkipList(internalCmp),
		compare:   userCmp,
		threshold: thresholdBytes,
	}
}

func compareEntries(a, b []byte, userCmp Comparator) int {
	aIK, _ := splitInternalKey(a)
	bIK, _ := splitInternalKey(b)
	if aIK == nil || bIK == nil {
		return userCmp(a, b)
	}
	aUserKey, bUserKey := aIK[:len(aIK)-8], bIK[:len(bIK)-8]
	if c := userCmp(aUserKey, bUserKey); c != 0 {
		return c
	}
	// Equal user keys: higher trailer (newer seq, or newer type at
	// equal seq) sorts first.
	aSeq, aTyp := dbformat.DecodeTrailer(aIK)
	bSeq, bTyp := dbformat.DecodeTrailer(bIK)
	aTrailer := dbformat.PackTrailer(aSeq, aTyp)
	bTrailer := dbformat.PackTrailer(bSeq, bTyp)
	switch {
	case aTrailer > bTrailer:
		return -1
	case aTrailer < bTrailer:
		return 1
	default:
		return 0
	}
}

// entry wire helpers. Format: [u32 ikLen][internalKey][u32 vLen][value]
// internalKey = userKey + 8-byte trailer.

func encodeEntry(userKey []byte, seq dbformat.SequenceNumber, typ dbformat.ValueType, value []byte) []byte {
	ikLen := len(userKey) + 8
	buf := make([]byte, 0, 4+ikLen+4+len(value))
	buf = appendU32(buf, uint32(ikLen))
	buf = append(buf, userKey...)
	buf = dbformat.AppendTrailer(buf, seq, typ)
	buf = appendU32(buf, uint32(len(value)))
	buf = append(buf, value...)
	return buf
}

// splitInternalKey extracts the internal key from an encoded entry's
// prefix, and as its second result the internal key's last 8 bytes
// (the trailer). Returns nil,nil on malformed input.
func splitInternalKey(entry []byte) (internalKey []byte, rest []byte) {
	if len(entry) < 4 {
		return nil, nil
	}
	ikLen, n := readU32(entry)
	if n != 4 || int(ikLen) > len(entry)-4 || ikLen < 8 {
		return nil, nil
	}
	internalKey = entry[4 : 4+int(ikLen)]
	return internalKey, internalKey[len(internalKey)-8:]
}

func decodeEntry(entry []byte) (userKey, value []byte, seq dbformat.SequenceNumber, typ dbformat.ValueType, ok bool) {
	ik, _ := splitInternalKey(entry)
	if ik == nil {
		return nil, nil, 0, 0, false
	}
	userKey = ik[:len(ik)-8]
	seq, typ = dbformat.DecodeTrailer(ik)
	rest := entry[4+len(ik):]
	if len(rest) < 4 {
		return nil, nil, 0, 0, false
	}
	vLen, n := readU32(rest)
	rest = rest[n:]
	if n != 4 || int(vLen) > len(rest) {
		return nil, nil, 0, 0, false
	}
	value = rest[:vLen]
	return userKey, value, seq, typ, true
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func readU32(b []byte) (uint32, int) {
	if len(b) < 4 {
		return 0, 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, 4
}

// lookupEntry builds an encoded entry for seeking: userKey + trailer for
// the highest sequence number visible at readSeq, so the first match
// found is the newest visible version.
func lookupEntry(userKey []byte, readSeq dbformat.SequenceNumber) []byte {
	// dbformat.TypeValue is numerically the larger of the two value
	// types, so this trailer is the maximum representable trailer at
	// seq == readSeq: seeking to it lands on the first real entry
	// whose trailer is <= it, i.e. the newest version visible at
	// readSeq.
	ik := dbformat.AppendTrailer(append([]byte{}, userKey...), readSeq, dbformat.TypeValue)
	buf := make([]byte, 0, 4+len(ik))
	buf = appendU32(buf, uint32(len(ik)))
	buf = append(buf, ik...)
	return buf
}

// Put inserts key/value at seq. Returns true iff the memtable's byte
// size now meets or exceeds its configured threshold (spec §4.2).
func (m *MemTable) Put(seq dbformat.SequenceNumber, key, value []byte) bool {
	return m.add(seq, dbformat.TypeValue, key, value)
}

// Delete inserts a tombstone for key at seq. Same threshold-return
// contract as Put.
func (m *MemTable) Delete(seq dbformat.SequenceNumber, key []byte) bool {
	return m.add(seq, dbformat.TypeDeletion, key, nil)
}

func (m *MemTable) add(seq dbformat.SequenceNumber, typ dbformat.ValueType, key, value []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := encodeEntry(key, seq, typ, value)
	m.list.insert(entry)

	atomic.AddInt64(&m.bytes, int64(len(key)+len(value)+entryOverhead))
	if m.firstSeq == 0 || seq < m.firstSeq {
		m.firstSeq = seq
	}
	if seq > m.lastSeq {
		m.lastSeq = seq
	}
	return atomic.LoadInt64(&m.bytes) >= m.threshold
}

// LookupResult is the outcome of a Get.
type LookupResult int

const (
	Absent LookupResult = iota
	Found
	Tombstone
)

// Get looks up the latest version of key visible at readSeq.
func (m *MemTable) Get(key []byte, readSeq dbformat.SequenceNumber) ([]byte, LookupResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.list.newIterator()
	it.seek(lookupEntry(key, readSeq))
	if !it.valid() {
		return nil, Absent
	}
	userKey, value, seq, typ, ok := decodeEntry(it.entry())
	if !ok || m.compare(key, userKey) != 0 || seq > readSeq {
		return nil, Absent
	}
	if typ == dbformat.TypeDeletion {
		return nil, Tombstone
	}
	return value, Found
}

// ByteSize returns the current accounted byte size.
func (m *MemTable) ByteSize() int64 { return atomic.LoadInt64(&m.bytes) }

// IsEmpty reports whether the memtable has no entries.
func (m *MemTable) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list.count == 0
}

// Count returns the number of entries (including tombstones and
// superseded versions) held in the memtable.
func (m *MemTable) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list.count
}

// Entry is one (userKey, value, seq, type) tuple yielded by Snapshot.
type Entry struct {
	Key   []byte
	Value []byte
	Seq   dbformat.SequenceNumber
	Type  dbformat.ValueType
}

// Snapshot returns every entry in ascending (userKey, seq-descending)
// order, a consistent view of all writes that completed before
// Snapshot was called (spec §4.2). Used by flush to build an SST.
func (m *MemTable) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, m.list.count)
	it := m.list.newIterator()
	for it.seekToFirst(); it.valid(); it.next() {
		key, value, seq, typ, ok := decodeEntry(it.entry())
		if !ok {
			continue
		}
		out = append(out, Entry{Key: key, Value: value, Seq: seq, Type: typ})
	}
	return out
}
