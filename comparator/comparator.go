// Package comparator defines the ordering contract every component that
// stores user keys relies on: the mutable table, the table builder's
// index separators, and the internal-key codec all compare through a
// Comparator rather than assuming bytewise order directly.
//
// Grounded on LevelDB's util/comparator.cc
// (_examples/original_source/util/comparator.cc); the FindShortestSeparator/
// FindShortSuccessor signature shape (destination-first, returning the
// possibly-shortened slice) follows the syndtr/goleveldb Comparer
// convention present in the retrieval pack via bsm-sntable's go.mod
// dependency on that library.
package comparator

import "bytes"

// Comparator orders user keys and can produce a short key that still
// separates two ranges, so index entries and block separators can be
// kept small.
type Comparator interface {
	// Name identifies the comparator so a table reader can refuse to
	// open a file built with an incompatible one.
	Name() string
	// Compare returns <0, 0, >0 as a < b, a == b, a > b.
	Compare(a, b []byte) int
	// FindShortestSeparator returns a key s with start <= s < limit,
	// len(s) <= len(start), chosen to be as short as possible. It may
	// truncate and mutate start in place (the returned slice aliases
	// start's backing array) or return start unchanged.
	FindShortestSeparator(start, limit []byte) []byte
	// FindShortSuccessor returns a key s >= key with len(s) <= len(key),
	// chosen to be as short as possible. It may mutate key in place.
	FindShortSuccessor(key []byte) []byte
}

// BytewiseComparator orders keys by raw byte value, matching LevelDB's
// BytewiseComparatorImpl — the default and, for this engine, only
// comparator.
type BytewiseComparator struct{}

var Bytewise Comparator = BytewiseComparator{}

func (BytewiseComparator) Name() string { return "lsmkv.BytewiseComparator" }

func (BytewiseComparator) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func (BytewiseComparator) FindShortestSeparator(start, limit []byte) []byte {
	minLen := len(start)
	if len(limit) < minLen {
		minLen = len(limit)
	}
	diff := 0
	for diff < minLen && start[diff] == limit[diff] {
		diff++
	}
	if diff >= minLen {
		// One is a prefix of the other; leave start unchanged — it is
		// already the shortest valid separator.
		return start
	}
	if start[diff] < 0xff && start[diff]+1 < limit[diff] {
		start[diff]++
		return start[:diff+1]
	}
	return start
}

func (BytewiseComparator) FindShortSuccessor(key []byte) []byte {
	for i := 0; i < len(key); i++ {
		if key[i] != 0xff {
			key[i]++
			return key[:i+1]
		}
	}
	// key is all 0xff bytes; no shorter successor exists.
	return key
}
