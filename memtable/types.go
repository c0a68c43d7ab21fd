// Package memtable implements the mutable table: an in-memory, ordered
// index of internal-key-versioned entries backed by an arena-allocated
// skip list, plus the encode/decode of each entry's on-arena byte
// layout.
//
// Grounded on LevelDB's db/memtable.{h,cc}
// (_examples/original_source/db/memtable.cc) for the entry encoding and
// Get() lookup algorithm, and on nexusbase's memtable/memtable.go for
// the surrounding package shape (constructor, size accounting, flush
// hook), generalized here away from the teacher's fixed
// key+PointID TSDB schema to the spec's (seq, type) internal-key model.
package memtable

import (
	"encoding/binary"

	"github.com/nexusdb/lsmkv/kvcore"
)

// Entry is one decoded memtable record. Iterator does not produce
// Entry values; its At returns the raw internal key and value.
type Entry struct {
	UserKey []byte
	Value   []byte // nil for a tombstone
	Type    kvcore.ValueType
	SeqNum  uint64
}

func (e *Entry) TypeNode() string { return "MEMTABLE_ENTRY" }

// Size estimates the entry's contribution to the table's memory budget:
// key + value + the fixed trailer + encoding overhead, mirroring
// MemtableEntry.Size()'s role in the teacher's flush-threshold check.
func (e *Entry) Size() int64 {
	return int64(len(e.UserKey) + len(e.Value) + kvcore.TagSize + 3*binary.MaxVarintLen64)
}
