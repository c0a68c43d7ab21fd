// Package dbiter implements the user-visible view over a merged
// internal-key stream: it collapses every (user_key, seq, type)
// version the storage engine holds into the single newest version
// visible at or before a snapshot sequence, hiding anything shadowed
// by a deletion marker. Grounded on LevelDB's db/db_iter.cc
// (_examples/original_source/db/db_iter.cc), ported literally for both
// directions: FindNextUserEntry drives the forward walk, FindPrevUserEntry
// the reverse one, and Next/Prev handle the direction switch exactly as
// db_iter.cc's DBIter does.
package dbiter

import (
	"fmt"
	"math/rand"

	"github.com/nexusdb/lsmkv/comparator"
	"github.com/nexusdb/lsmkv/internalkey"
	"github.com/nexusdb/lsmkv/iterator"
	"github.com/nexusdb/lsmkv/kvcore"
)

// ReadBytesPeriod is the mean number of key+value bytes scanned between
// read-sampling callbacks, mirroring LevelDB's config::kReadBytesPeriod.
const ReadBytesPeriod = 1 << 20

// ReadSampler receives the internal key of a record the iterator has
// just scanned past, once per ~ReadBytesPeriod bytes read on average.
// The DB façade can wire this into compaction heuristics; it has no
// effect on iteration results.
type ReadSampler func(internalKey []byte)

// direction tracks which way the underlying merged stream is being
// walked, mirroring db_iter.cc's DBIter::Direction:
//   - forward: inner is positioned at the exact entry that yields
//     Key()/Value().
//   - reverse: inner is positioned just before all entries whose user
//     key equals Key(); Key()/Value() come from the saved buffers.
type direction int

const (
	dirForward direction = iota
	dirReverse
)

// Iterator presents a merged internal-key stream as an ordinary
// bidirectional cursor over the newest value visible at or before
// sequence, skipping every entry a later deletion or overwrite shadows.
type Iterator struct {
	inner    iterator.Interface
	sequence uint64
	sampler  ReadSampler

	direction direction
	valid     bool
	key       []byte
	value     []byte
	err       error

	// savedKey/savedValue hold the current entry's contents while
	// direction == dirReverse (inner has already moved past it), and
	// double as scratch storage for the "skip past this user key"
	// value threaded through FindNextUserEntry/Seek/SeekToFirst, same
	// dual use as db_iter.cc's saved_key_/saved_value_.
	savedKey   []byte
	savedValue []byte

	rnd          *rand.Rand
	bytesCounter int64

	innerValid bool
	innerKey   []byte
	innerValue []byte
}

// New wraps inner (typically an *iterator.MergingIterator) to yield
// only entries visible at sequence, positioned at the first visible
// entry. seed controls the read-sampling jitter and should vary per
// iterator instance.
func New(inner iterator.Interface, sequence uint64, sampler ReadSampler, seed int64) *Iterator {
	it := &Iterator{
		inner:    inner,
		sequence: sequence,
		sampler:  sampler,
		rnd:      rand.New(rand.NewSource(seed)),
	}
	it.bytesCounter = it.randomPeriod()
	it.SeekToFirst()
	return it
}

func (it *Iterator) randomPeriod() int64 {
	return it.rnd.Int63n(2 * ReadBytesPeriod)
}

func (it *Iterator) syncInner(ok bool) {
	it.innerValid = ok
	if ok {
		it.innerKey, it.innerValue = it.inner.At()
		return
	}
	it.innerKey, it.innerValue = nil, nil
	if err := it.inner.Error(); err != nil {
		it.err = err
	}
}

func (it *Iterator) advanceInner()          { it.syncInner(it.inner.Next()) }
func (it *Iterator) retreatInner()          { it.syncInner(it.inner.Prev()) }
func (it *Iterator) seekInner(target []byte) { it.syncInner(it.inner.Seek(target)) }
func (it *Iterator) seekToFirstInner()      { it.syncInner(it.inner.SeekToFirst()) }
func (it *Iterator) seekToLastInner()       { it.syncInner(it.inner.SeekToLast()) }

// clearSavedValue drops the saved-value buffer, matching
// db_iter.cc's ClearSavedValue (minus its capacity-based reallocation,
// which only matters for C++'s manual memory management).
func (it *Iterator) clearSavedValue() { it.savedValue = it.savedValue[:0] }

// parseCurrent parses innerKey, charging its (and innerValue's) bytes
// against the read-sampling counter and invoking sampler on underflow,
// exactly as ParseKey does in db_iter.cc.
func (it *Iterator) parseCurrent() (userKey []byte, seq uint64, vt kvcore.ValueType, ok bool) {
	n := int64(len(it.innerKey) + len(it.innerValue))
	it.bytesCounter -= n
	for it.bytesCounter < 0 {
		it.bytesCounter += it.randomPeriod()
		if it.sampler != nil {
			it.sampler(it.innerKey)
		}
	}
	userKey, seq, vt, ok = internalkey.Parse(it.innerKey)
	if !ok {
		it.err = fmt.Errorf("dbiter: corrupted internal key in stream")
	}
	return
}

// findNextUserEntry implements DBIter::FindNextUserEntry: loop forward
// until an entry visible at it.sequence and not hidden by a prior
// deletion or newer version (skip) is found, or inner is exhausted.
// Requires direction == dirForward and inner already positioned.
func (it *Iterator) findNextUserEntry(skipping bool, skip []byte) {
	for it.innerValid {
		userKey, seq, vt, ok := it.parseCurrent()
		if it.err != nil {
			it.valid = false
			return
		}
		if ok && seq <= it.sequence {
			switch vt {
			case kvcore.TypeDelete:
				// Every upcoming entry for this key is hidden by this
				// deletion: arrange to skip it.
				skip = append(skip[:0], userKey...)
				skipping = true
			default:
				if skipping && comparator.Bytewise.Compare(userKey, skip) <= 0 {
					// Entry hidden.
				} else {
					it.key = append(it.key[:0], userKey...)
					it.value = append(it.value[:0], it.innerValue...)
					it.valid = true
					return
				}
			}
		}
		it.advanceInner()
	}
	it.valid = false
}

// findPrevUserEntry implements DBIter::FindPrevUserEntry: scan backward
// accumulating the newest visible version of each user key into
// savedKey/savedValue, stopping as soon as a non-deleted value from an
// earlier key is reached (so the entry just found is the one to yield).
// Requires direction == dirReverse.
func (it *Iterator) findPrevUserEntry() {
	valueType := kvcore.TypeDelete
	if it.innerValid {
		for it.innerValid {
			userKey, seq, vt, ok := it.parseCurrent()
			if it.err != nil {
				it.valid = false
				return
			}
			if ok && seq <= it.sequence {
				if valueType != kvcore.TypeDelete && comparator.Bytewise.Compare(userKey, it.savedKey) < 0 {
					// Reached a non-deleted value for a previous key:
					// the entry accumulated so far is the one to yield.
					break
				}
				valueType = vt
				if valueType == kvcore.TypeDelete {
					it.savedKey = it.savedKey[:0]
					it.clearSavedValue()
				} else {
					it.savedKey = append(it.savedKey[:0], userKey...)
					it.savedValue = append(it.savedValue[:0], it.innerValue...)
				}
			}
			it.retreatInner()
		}
	}

	if valueType == kvcore.TypeDelete {
		it.valid = false
		it.savedKey = it.savedKey[:0]
		it.clearSavedValue()
		it.direction = dirForward
		return
	}
	it.key = append(it.key[:0], it.savedKey...)
	it.value = append(it.value[:0], it.savedValue...)
	it.valid = true
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current entry's user key. Valid until the next
// positioning call.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current entry's value. Valid until the next
// positioning call.
func (it *Iterator) Value() []byte { return it.value }

// Error returns any error encountered while iterating.
func (it *Iterator) Error() error { return it.err }

// Next advances to the next visible user key, switching direction if
// the iterator was moving backward.
func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	if it.direction == dirReverse {
		it.direction = dirForward
		// inner is positioned just before the entries for Key(); step
		// into that range so the skip-forward code below applies.
		if !it.innerValid {
			it.seekToFirstInner()
		} else {
			it.advanceInner()
		}
		if !it.innerValid {
			it.valid = false
			it.savedKey = it.savedKey[:0]
			return false
		}
		// savedKey already holds the key to skip past.
	} else {
		it.savedKey = append(it.savedKey[:0], it.key...)
	}
	it.findNextUserEntry(true, it.savedKey)
	return it.valid
}

// Prev moves to the previous visible user key, switching direction if
// the iterator was moving forward.
func (it *Iterator) Prev() bool {
	if !it.valid {
		return false
	}
	if it.direction == dirForward {
		// inner is positioned at the current entry. Scan backward
		// until the user key changes, then fall into the normal
		// reverse-scanning code.
		it.savedKey = append(it.savedKey[:0], it.key...)
		for {
			it.retreatInner()
			if !it.innerValid {
				it.valid = false
				it.savedKey = it.savedKey[:0]
				it.clearSavedValue()
				return false
			}
			userKey, _, _, ok := internalkey.Parse(it.innerKey)
			if ok && comparator.Bytewise.Compare(userKey, it.savedKey) < 0 {
				break
			}
		}
		it.direction = dirReverse
	}
	it.findPrevUserEntry()
	return it.valid
}

// Seek positions the iterator at the first visible entry with a user
// key >= target.
func (it *Iterator) Seek(target []byte) bool {
	it.direction = dirForward
	it.clearSavedValue()
	lookup := internalkey.Make(target, it.sequence, kvcore.TypeForSeek)
	it.seekInner(lookup)
	if !it.innerValid {
		it.valid = false
		return false
	}
	it.findNextUserEntry(false, it.savedKey[:0])
	return it.valid
}

// SeekToFirst positions the iterator at the first visible entry.
func (it *Iterator) SeekToFirst() bool {
	it.direction = dirForward
	it.clearSavedValue()
	it.seekToFirstInner()
	if !it.innerValid {
		it.valid = false
		return false
	}
	it.findNextUserEntry(false, it.savedKey[:0])
	return it.valid
}

// SeekToLast positions the iterator at the last visible entry.
func (it *Iterator) SeekToLast() bool {
	it.direction = dirReverse
	it.clearSavedValue()
	it.seekToLastInner()
	it.findPrevUserEntry()
	return it.valid
}

// Close releases the underlying merged iterator's resources.
func (it *Iterator) Close() error {
	return it.inner.Close()
}
