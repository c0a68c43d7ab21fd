// Package skiplist implements the ordered index backing the mutable
// table: a probabilistic, multi-level linked list offering O(log n)
// search while allowing concurrent lookups from many readers against a
// single writer without taking a lock.
//
// Grounded on LevelDB's db/skiplist.h
// (_examples/original_source/db/skiplist.h). The node's forward-pointer
// array is, in the original, a trailing flexible array member sized by
// the node's height at allocation time; idiomatic Go has no equivalent
// device; a node here holds an explicit []atomic.Pointer[node] slice of
// that same length instead, matching the "generalize the teacher's
// way" direction of this port — the atomic.Pointer publication
// discipline follows the AtomicPointer field used throughout
// AndrewTheMaster-.../pkg/memtable/memtable.go elsewhere in the
// retrieval pack.
package skiplist

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

const (
	maxHeight      = 12
	branchingFactor = 4
)

// Comparator orders the raw byte keys stored in the list. Keys are
// opaque to the list itself — package memtable supplies one that
// decodes the internal-key prefix of each entry.
type Comparator func(a, b []byte) int

type node struct {
	key  []byte
	next []atomic.Pointer[node]
}

func newNode(key []byte, height int) *node {
	return &node{key: key, next: make([]atomic.Pointer[node], height)}
}

func (n *node) getNext(level int) *node {
	return n.next[level].Load()
}

func (n *node) setNext(level int, x *node) {
	n.next[level].Store(x)
}

// SkipList is a single-writer, many-reader ordered index. All exported
// methods that read (Contains, NewIterator and the Iterator's methods) are
// safe to call concurrently with a single concurrent Insert, provided
// the Comparator and any keys already inserted are never mutated —
// exactly the contract the mutable table relies on.
type SkipList struct {
	cmp  Comparator
	head *node

	// height is read by every lookup and written only by Insert; a
	// reader observing a stale, smaller value simply starts its search
	// one level lower and still reaches every node, since every node's
	// level-0 pointer is always valid. Racy reads are intentional.
	height atomic.Int32

	rnd *rand.Rand
	mu  sync.Mutex // serializes concurrent Insert calls only
}

// New creates an empty SkipList ordered by cmp.
func New(cmp Comparator) *SkipList {
	sl := &SkipList{
		cmp:  cmp,
		head: newNode(nil, maxHeight),
		rnd:  rand.New(rand.NewSource(0xdeadbeef)),
	}
	sl.height.Store(1)
	return sl
}

func (sl *SkipList) randomHeight() int {
	h := 1
	for h < maxHeight && sl.rnd.Intn(branchingFactor) == 0 {
		h++
	}
	return h
}

func (sl *SkipList) keyIsAfterNode(key []byte, n *node) bool {
	return n != nil && sl.cmp(n.key, key) < 0
}

// findGreaterOrEqual returns the first node whose key is >= key, and if
// prev is non-nil, fills prev[level] with the last node at each level
// strictly before that node (the standard predecessor-chain used by
// Insert).
func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*node) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.getNext(level)
		if sl.keyIsAfterNode(key, next) {
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

// findLessThan returns the last node with a key strictly less than key.
func (sl *SkipList) findLessThan(key []byte) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.cmp(next.key, key) < 0 {
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

// findLast returns the last node in the list, or nil if it is empty.
func (sl *SkipList) findLast() *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.getNext(level)
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

// Insert adds key to the list. key must not compare equal to any key
// already present — the caller (the mutable table, whose internal keys
// are made unique by a monotonically increasing sequence number) is
// responsible for that invariant; Insert does not check it.
//
// Insert may run concurrently with any number of readers, but at most
// one Insert may run at a time (Insert itself serializes via an
// internal mutex to protect the predecessor search and the height
// counter; it is the per-node forward pointers, not Insert calls
// themselves, that need to support lock-free reads).
func (sl *SkipList) Insert(key []byte) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var prev [maxHeight]*node
	sl.findGreaterOrEqual(key, prev[:])

	height := sl.randomHeight()
	if curHeight := int(sl.height.Load()); height > curHeight {
		for i := curHeight; i < height; i++ {
			prev[i] = sl.head
		}
		// Racy write: a concurrent reader may see the new, larger
		// height before the node at that level is linked in. That
		// reader will then dereference a nil forward pointer at the
		// new top level and simply fall through to the next level
		// down, which is always safe because getNext on a nil node
		// pointer is never followed (the loop checks next != nil
		// before recursing).
		sl.height.Store(int32(height))
	}

	n := newNode(key, height)
	for i := 0; i < height; i++ {
		// Publish the new node's own forward pointers first (store),
		// then publish the predecessor's pointer to it (store). Every
		// forward-pointer field is an atomic.Pointer, so both stores
		// are release operations and every concurrent Load is an
		// acquire — a reader that observes the predecessor's updated
		// pointer is guaranteed to observe a fully initialized node.
		n.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, n)
	}
}

// Contains reports whether key is present in the list.
func (sl *SkipList) Contains(key []byte) bool {
	n := sl.findGreaterOrEqual(key, nil)
	return n != nil && sl.cmp(n.key, key) == 0
}

// Iterator returns a cursor over the list. An Iterator is not safe for
// concurrent use by multiple goroutines, but many independent Iterators
// may be active concurrently with each other and with a single Insert.
type Iterator struct {
	sl  *SkipList
	cur *node
}

func (sl *SkipList) NewIterator() *Iterator {
	return &Iterator{sl: sl}
}

// Valid reports whether the iterator is positioned at a valid entry.
func (it *Iterator) Valid() bool { return it.cur != nil }

// Key returns the current entry's key. Valid must be true.
func (it *Iterator) Key() []byte { return it.cur.key }

// Next advances to the next entry in ascending order.
func (it *Iterator) Next() { it.cur = it.cur.getNext(0) }

// Prev moves to the previous entry in ascending order. O(log n), since
// the list has no backward pointers.
func (it *Iterator) Prev() {
	it.cur = it.sl.findLessThan(it.cur.key)
}

// Seek positions the iterator at the first entry with a key >= target.
func (it *Iterator) Seek(target []byte) {
	it.cur = it.sl.findGreaterOrEqual(target, nil)
}

// SeekToFirst positions the iterator at the first entry in the list.
func (it *Iterator) SeekToFirst() {
	it.cur = it.sl.head.getNext(0)
}

// SeekToLast positions the iterator at the last entry in the list, or
// invalid if the list is empty.
func (it *Iterator) SeekToLast() {
	it.cur = it.sl.findLast()
}
