// Package iterator provides the merge step that fans many ordered,
// internal-key-keyed sources (a mutable table, immutable tables, SSTable
// readers) into one globally ordered stream: ascending user key, and for
// equal user keys, descending sequence number so the newest version of
// a key is seen first.
package iterator

import (
	"github.com/nexusdb/lsmkv/internalkey"
)

// Interface is the common shape of every internal-key iterator: a
// pull-style cursor over (internal key, value) pairs that can walk in
// either direction. A freshly constructed iterator starts invalid;
// callers must position it with Seek/SeekToFirst/SeekToLast before the
// first At(), mirroring LevelDB's Iterator contract.
type Interface interface {
	Next() bool
	Prev() bool
	Seek(target []byte) bool
	SeekToFirst() bool
	SeekToLast() bool
	// At returns the current internal key and value. The returned
	// slices are only valid until the next positioning call.
	At() (internalKey, value []byte)
	Error() error
	Close() error
}

type mergeDirection int

const (
	mergeForward mergeDirection = iota
	mergeReverse
)

// MergingIterator combines multiple internal-key iterators into one
// stream ordered by the internal-key comparator: ascending user key,
// then descending sequence number. It switches direction lazily, the
// way LevelDB's merger.cc does: every non-current child is re-seeked
// to the current key only when the scan direction actually flips, so a
// purely-forward or purely-reverse walk never pays for the other
// direction's bookkeeping. No merger.cc equivalent exists in the
// example pack alongside db_iter.cc; this is grounded on the Direction
// contract db_iter.cc documents and drives (see package dbiter).
type MergingIterator struct {
	iters []Interface
	valid []bool
	keys  [][]byte
	vals  [][]byte

	current   int
	direction mergeDirection
	err       error
}

// NewMergingIterator builds a MergingIterator over iters. It is
// constructed invalid; call SeekToFirst, SeekToLast, or Seek before
// reading.
func NewMergingIterator(iters []Interface) (*MergingIterator, error) {
	return &MergingIterator{
		iters:   iters,
		valid:   make([]bool, len(iters)),
		keys:    make([][]byte, len(iters)),
		vals:    make([][]byte, len(iters)),
		current: -1,
	}, nil
}

func (mi *MergingIterator) afterChildMove(i int, ok bool) {
	mi.valid[i] = ok
	if ok {
		k, v := mi.iters[i].At()
		mi.keys[i] = append(mi.keys[i][:0], k...)
		mi.vals[i] = append(mi.vals[i][:0], v...)
		return
	}
	if err := mi.iters[i].Error(); err != nil && mi.err == nil {
		mi.err = err
	}
}

func (mi *MergingIterator) findSmallest() {
	mi.current = -1
	for i, ok := range mi.valid {
		if !ok {
			continue
		}
		if mi.current == -1 || internalkey.CompareBytewise(mi.keys[i], mi.keys[mi.current]) < 0 {
			mi.current = i
		}
	}
}

func (mi *MergingIterator) findLargest() {
	mi.current = -1
	for i, ok := range mi.valid {
		if !ok {
			continue
		}
		if mi.current == -1 || internalkey.CompareBytewise(mi.keys[i], mi.keys[mi.current]) > 0 {
			mi.current = i
		}
	}
}

// SeekToFirst positions every child at its first entry and selects the
// smallest.
func (mi *MergingIterator) SeekToFirst() bool {
	for i, it := range mi.iters {
		mi.afterChildMove(i, it.SeekToFirst())
	}
	mi.direction = mergeForward
	mi.findSmallest()
	return mi.current >= 0
}

// SeekToLast positions every child at its last entry and selects the
// largest.
func (mi *MergingIterator) SeekToLast() bool {
	for i, it := range mi.iters {
		mi.afterChildMove(i, it.SeekToLast())
	}
	mi.direction = mergeReverse
	mi.findLargest()
	return mi.current >= 0
}

// Seek positions every child at its first entry >= target and selects
// the smallest.
func (mi *MergingIterator) Seek(target []byte) bool {
	for i, it := range mi.iters {
		mi.afterChildMove(i, it.Seek(target))
	}
	mi.direction = mergeForward
	mi.findSmallest()
	return mi.current >= 0
}

// Next advances to the next entry in the merged stream. Unlike a
// user-key-deduplicating merge, every internal key (including every
// version of a user key) is surfaced; callers needing "latest visible
// version per user key" semantics build that on top (see package
// dbiter).
func (mi *MergingIterator) Next() bool {
	if mi.current < 0 {
		return false
	}
	if mi.direction != mergeForward {
		key := append([]byte(nil), mi.keys[mi.current]...)
		for i, it := range mi.iters {
			if i == mi.current {
				continue
			}
			ok := it.Seek(key)
			if ok {
				k, _ := it.At()
				if internalkey.CompareBytewise(k, key) == 0 {
					ok = it.Next()
				}
			}
			mi.afterChildMove(i, ok)
		}
		mi.direction = mergeForward
	}
	mi.afterChildMove(mi.current, mi.iters[mi.current].Next())
	mi.findSmallest()
	return mi.current >= 0
}

// Prev moves to the previous entry in the merged stream.
func (mi *MergingIterator) Prev() bool {
	if mi.current < 0 {
		return false
	}
	if mi.direction != mergeReverse {
		key := append([]byte(nil), mi.keys[mi.current]...)
		for i, it := range mi.iters {
			if i == mi.current {
				continue
			}
			ok := it.Seek(key)
			if ok {
				ok = it.Prev()
			} else {
				ok = it.SeekToLast()
			}
			mi.afterChildMove(i, ok)
		}
		mi.direction = mergeReverse
	}
	mi.afterChildMove(mi.current, mi.iters[mi.current].Prev())
	mi.findLargest()
	return mi.current >= 0
}

// At returns the current internal key and value.
func (mi *MergingIterator) At() (internalKey, value []byte) {
	if mi.current < 0 {
		return nil, nil
	}
	return mi.keys[mi.current], mi.vals[mi.current]
}

func (mi *MergingIterator) Error() error { return mi.err }

func (mi *MergingIterator) Close() error {
	var firstErr error
	for _, it := range mi.iters {
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	mi.iters = nil
	mi.valid = nil
	mi.keys = nil
	mi.vals = nil
	return firstErr
}

// EmptyIterator is always exhausted; useful as a placeholder source.
type EmptyIterator struct{}

func NewEmptyIterator() Interface                  { return &EmptyIterator{} }
func (it *EmptyIterator) Next() bool               { return false }
func (it *EmptyIterator) Prev() bool               { return false }
func (it *EmptyIterator) Seek(target []byte) bool  { return false }
func (it *EmptyIterator) SeekToFirst() bool        { return false }
func (it *EmptyIterator) SeekToLast() bool         { return false }
func (it *EmptyIterator) At() ([]byte, []byte)     { return nil, nil }
func (it *EmptyIterator) Error() error             { return nil }
func (it *EmptyIterator) Close() error             { return nil }

var _ Interface = (*MergingIterator)(nil)
var _ Interface = (*EmptyIterator)(nil)
