package sstable

import (
	"github.com/nexusdb/lsmkv/internalkey"
)

// TableIterator walks a table's entries in internal-key order in
// either direction, implementing package iterator's Interface
// (Seek/SeekToFirst/SeekToLast position immediately and report
// validity; Next/Prev step relative to the current position).
// Grounded on nexusbase's sstable.sstableIterator for the
// block-at-a-time walk and on LevelDB's table/table.cc
// (Table::BlockReader-backed two-level iterator: an index-block
// cursor selecting the data block, a per-block cursor within it).
type TableIterator struct {
	table *SSTable

	indexIt *BlockIterator
	blockIt *BlockIterator

	key   []byte
	value []byte
	err   error

	// began is set by the first call to any positioning method, so
	// Next/Prev on a freshly constructed iterator know to bootstrap via
	// SeekToFirst/SeekToLast rather than assuming a prior position.
	began bool
}

func newTableIterator(s *SSTable) (*TableIterator, error) {
	indexIt, err := s.index.Iterator()
	if err != nil {
		return nil, err
	}
	return &TableIterator{table: s, indexIt: indexIt}, nil
}

func (it *TableIterator) loadBlockAt(handleValue []byte) bool {
	handle, _, err := DecodeBlockHandle(handleValue)
	if err != nil {
		it.err = err
		return false
	}
	raw, err := it.table.readDataBlock(handle, nil)
	if err != nil {
		it.err = err
		return false
	}
	blockIt, err := NewBlockIterator(raw, internalkey.CompareBytewise)
	if err != nil {
		it.err = err
		return false
	}
	it.blockIt = blockIt
	return true
}

func (it *TableIterator) setCurrent() {
	if it.blockIt != nil {
		it.key, it.value = it.blockIt.Key(), it.blockIt.Value()
	} else {
		it.key, it.value = nil, nil
	}
}

func (it *TableIterator) invalidate() {
	it.blockIt = nil
	it.key, it.value = nil, nil
}

// Seek positions the iterator at the first entry with internal key >=
// target.
func (it *TableIterator) Seek(target []byte) bool {
	it.began = true
	if it.err != nil {
		return false
	}
	if !it.indexIt.Seek(target) {
		if it.indexIt.Error() != nil {
			it.err = it.indexIt.Error()
		}
		it.invalidate()
		return false
	}
	if !it.loadBlockAt(it.indexIt.Value()) {
		return false
	}
	if it.blockIt.Seek(target) {
		it.setCurrent()
		return true
	}
	if it.blockIt.Error() != nil {
		it.err = it.blockIt.Error()
		return false
	}
	return it.advanceToNextBlock()
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *TableIterator) SeekToFirst() bool {
	it.began = true
	if it.err != nil {
		return false
	}
	if !it.indexIt.SeekToFirst() {
		if it.indexIt.Error() != nil {
			it.err = it.indexIt.Error()
		}
		it.invalidate()
		return false
	}
	if !it.loadBlockAt(it.indexIt.Value()) {
		return false
	}
	if it.blockIt.SeekToFirst() {
		it.setCurrent()
		return true
	}
	if it.blockIt.Error() != nil {
		it.err = it.blockIt.Error()
		return false
	}
	return it.advanceToNextBlock()
}

// SeekToLast positions the iterator at the table's last entry.
func (it *TableIterator) SeekToLast() bool {
	it.began = true
	if it.err != nil {
		return false
	}
	if !it.indexIt.SeekToLast() {
		if it.indexIt.Error() != nil {
			it.err = it.indexIt.Error()
		}
		it.invalidate()
		return false
	}
	if !it.loadBlockAt(it.indexIt.Value()) {
		return false
	}
	if it.blockIt.SeekToLast() {
		it.setCurrent()
		return true
	}
	if it.blockIt.Error() != nil {
		it.err = it.blockIt.Error()
		return false
	}
	return it.retreatToPrevBlock()
}

// Next advances to the next entry, loading successive data blocks as
// each is exhausted. Calling Next on a freshly constructed iterator
// (never Seek/SeekToFirst/SeekToLast'd) positions it at the first
// entry.
func (it *TableIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.began {
		return it.SeekToFirst()
	}
	if it.blockIt != nil {
		if it.blockIt.Next() {
			it.setCurrent()
			return true
		}
		if it.blockIt.Error() != nil {
			it.err = it.blockIt.Error()
			return false
		}
	}
	return it.advanceToNextBlock()
}

// Prev moves to the entry immediately before the current one, loading
// preceding data blocks as each is exhausted. Calling Prev on a
// freshly constructed iterator positions it at the last entry.
func (it *TableIterator) Prev() bool {
	if it.err != nil {
		return false
	}
	if !it.began {
		return it.SeekToLast()
	}
	if it.blockIt != nil {
		if it.blockIt.Prev() {
			it.setCurrent()
			return true
		}
		if it.blockIt.Error() != nil {
			it.err = it.blockIt.Error()
			return false
		}
	}
	return it.retreatToPrevBlock()
}

func (it *TableIterator) advanceToNextBlock() bool {
	for {
		if !it.indexIt.Next() {
			if it.indexIt.Error() != nil {
				it.err = it.indexIt.Error()
			}
			it.invalidate()
			return false
		}
		if !it.loadBlockAt(it.indexIt.Value()) {
			return false
		}
		if it.blockIt.SeekToFirst() {
			it.setCurrent()
			return true
		}
		if it.blockIt.Error() != nil {
			it.err = it.blockIt.Error()
			return false
		}
		// Empty block: keep scanning forward.
	}
}

func (it *TableIterator) retreatToPrevBlock() bool {
	for {
		if !it.indexIt.Prev() {
			if it.indexIt.Error() != nil {
				it.err = it.indexIt.Error()
			}
			it.invalidate()
			return false
		}
		if !it.loadBlockAt(it.indexIt.Value()) {
			return false
		}
		if it.blockIt.SeekToLast() {
			it.setCurrent()
			return true
		}
		if it.blockIt.Error() != nil {
			it.err = it.blockIt.Error()
			return false
		}
		// Empty block: keep scanning backward.
	}
}

// At returns the current entry's internal key and value.
func (it *TableIterator) At() (internalKey, value []byte) { return it.key, it.value }

// Error returns any error encountered while iterating.
func (it *TableIterator) Error() error { return it.err }

// Close is a no-op: TableIterator holds no resources beyond the
// already-open SSTable it was created from.
func (it *TableIterator) Close() error { return nil }
