// Package memtable implements the in-memory, ordered write buffer
// (spec §4.2, component C2): a skip list keyed by internal key
// (user key + 8-byte sequence/type trailer) so multiple versions of
// the same user key sort newest-first within one table.
//
// The skip list does no synchronization of its own: an insert rewrites
// the next pointers of nodes already linked in, so MemTable holds its
// mutex around every insert, lookup, and snapshot walk.
package memtable

import (
	"bytes"
	"math/rand"
)

const (
	maxHeight       = 12
	branchingFactor = 4
)

// Comparator orders two keys: negative if a < b, zero if equal,
// positive if a > b.
type Comparator func(a, b []byte) int

// BytewiseComparator orders keys by unsigned lexicographic comparison,
// per spec §3 ("Key ... totally ordered by unsigned lexicographic
// comparison").
func BytewiseComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

type skipNode struct {
	entry []byte
	next  []*skipNode
}

func newSkipNode(entry []byte, height int) *skipNode {
	return &skipNode{entry: entry, next: make([]*skipNode, height)}
}

type skipList struct {
	head    *skipNode
	height  int
	compare Comparator
	rng     *rand.Rand
	count   int64
}

func newSkipList(cmp Comparator) *skipList {
	return &skipList{
		head:    newSkipNode(nil, maxHeight),
		height:  1,
		compare: cmp,
		rng:     rand.New(rand.NewSource(0xC0FFEE)),
	}
}

// insert adds entry to the list. entry must not already be present —
// the memtable guarantees this by always inserting a fresh internal
// key (each write gets a new sequence number).
func (sl *skipList) insert(entry []byte) {
	var prev [maxHeight]*skipNode
	x := sl.findGreaterOrEqual(entry, prev[:])

	h := sl.randomHeight()
	if h > sl.height {
		for i := sl.height; i < h; i++ {
			prev[i] = sl.head
		}
		sl.height = h
	}

	node := newSkipNode(entry, h)
	for i := 0; i < h; i++ {
		node.next[i] = prev[i].next[i]
		prev[i].next[i] = node
	}
	sl.count++
	_ = x
}

func (sl *skipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := sl.height - 1
	for {
		next := x.next[level]
		if next != nil && sl.compare(next.entry, key) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

func (sl *skipList) findLessThan(key []byte) *skipNode {
	x := sl.head
	level := sl.height - 1
	for {
		next := x.next[level]
		if next != nil && sl.compare(next.entry, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *skipList) findLast() *skipNode {
	x := sl.head
	level := sl.height - 1
	for {
		next := x.next[level]
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *skipList) randomHeight() int {
	h := 1
	for h < maxHeight && sl.rng.Intn(branchingFactor) == 0 {
		h++
	}
	return h
}

// iterator walks entries in ascending order.
type iterator struct {
	list *skipList
	node *skipNode
}

func (sl *skipList) newIterator() *iterator {
	return &iterator{list: sl}
}

func (it *iterator) valid() bool { return it.node != nil }
func (it *iterator) entry() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.entry
}
func (it *iterator) next() {
	if it.node != nil {
		it.node = it.node.next[0]
	}
}
func (it *iterator) prev() {
	if it.node != nil {
		it.node = it.list.findLessThan(it.node.entry)
	}
}
func (it *iterator) seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}
func (it *iterator) seekToFirst() { it.node = it.list.head.next[0] }
func (it *iterator) seekToLast()  { it.node = it.list.findLast() }
