// index.go implements the SSTable index block: a block (§ block.go's
// BlockBuilder/BlockIterator) whose keys are separator internal keys
// and whose values are encoded BlockHandles, mirroring LevelDB's
// convention that the index block is just another Block keyed by
// separator and valued by a BlockHandle (table/table_builder.cc).
package sstable

import (
	"fmt"

	"github.com/nexusdb/lsmkv/comparator"
	"github.com/nexusdb/lsmkv/internalkey"
)

// IndexBuilder accumulates one (separatorKey -> BlockHandle) entry per
// data block written to the table.
type IndexBuilder struct {
	block *BlockBuilder
}

// NewIndexBuilder returns an index builder. restartInterval controls
// the underlying block's restart-point spacing.
func NewIndexBuilder(restartInterval int) *IndexBuilder {
	return &IndexBuilder{block: NewBlockBuilder(restartInterval)}
}

// Add records that the data block identified by handle ended with
// lastKey, and that nextKey (the first key of the following block, or
// nil for the final block) follows it. The separator stored is the
// shortest internal key that is >= lastKey and < nextKey.
func (ib *IndexBuilder) Add(lastKey, nextKey []byte, handle BlockHandle) {
	var sep []byte
	if nextKey == nil {
		sep = internalkey.FindShortSuccessor(comparator.Bytewise, lastKey)
	} else {
		sep = internalkey.FindShortestSeparator(comparator.Bytewise, lastKey, nextKey)
	}
	ib.block.Add(sep, handle.EncodeTo(nil))
}

// Finish returns the index block's encoded bytes (uncompressed; the
// caller applies the same block-trailer framing used for data blocks).
func (ib *IndexBuilder) Finish() []byte {
	return ib.block.Finish()
}

// Index is the read side of an index block: given a user/internal key,
// it finds the handle of the data block that might contain it.
type Index struct {
	raw []byte
}

// NewIndex wraps a decoded (decompressed) index block's bytes.
func NewIndex(raw []byte) *Index {
	return &Index{raw: raw}
}

// Find returns the BlockHandle of the first data block whose separator
// key is >= key, i.e. the only block that could contain key.
func (idx *Index) Find(key []byte) (BlockHandle, bool, error) {
	it, err := NewBlockIterator(idx.raw, internalkey.CompareBytewise)
	if err != nil {
		return BlockHandle{}, false, err
	}
	if !it.Seek(key) {
		if it.Error() != nil {
			return BlockHandle{}, false, it.Error()
		}
		return BlockHandle{}, false, nil
	}
	handle, _, err := DecodeBlockHandle(it.Value())
	if err != nil {
		return BlockHandle{}, false, fmt.Errorf("sstable: index entry: %w", err)
	}
	return handle, true, nil
}

// Iterator returns a fresh BlockIterator over the index block, for
// table-level iteration (one index entry per data block).
func (idx *Index) Iterator() (*BlockIterator, error) {
	return NewBlockIterator(idx.raw, internalkey.CompareBytewise)
}
