// Package batch implements the write-batch wire format: a sequence of
// Put/Delete records applied atomically to the mutable table under one
// assigned base sequence number, and framed identically whether it sits
// in memory or is appended as a single WAL record.
//
// Format: fixed64 seq ‖ fixed32 count ‖ record*, where
// record := u8 tag ‖ varstring key [‖ varstring value]
// (tag kvcore.TypePut=1 carries a value, tag kvcore.TypeDelete=0 does not).
//
// Grounded on LevelDB's db/write_batch.cc
// (_examples/original_source/db/write_batch.cc).
package batch

import (
	"encoding/binary"
	"fmt"

	"github.com/nexusdb/lsmkv/kvcore"
)

// headerSize is the width of the fixed seq+count prefix.
const headerSize = 8 + 4

// Batch accumulates Put/Delete operations to be applied atomically.
type Batch struct {
	rep []byte // headerSize-byte header followed by records
}

// New returns an empty batch with sequence number 0 and count 0. Put
// and Delete bump the count; the base sequence is set with SetSequence,
// and InsertInto assigns one sequence number per record from it.
func New() *Batch {
	b := &Batch{rep: make([]byte, headerSize)}
	return b
}

// Reset clears the batch back to empty, keeping the backing buffer.
func (b *Batch) Reset() {
	b.rep = b.rep[:headerSize]
	for i := range b.rep {
		b.rep[i] = 0
	}
}

// Count returns the number of records in the batch.
func (b *Batch) Count() uint32 {
	return binary.LittleEndian.Uint32(b.rep[8:12])
}

func (b *Batch) setCount(n uint32) {
	binary.LittleEndian.PutUint32(b.rep[8:12], n)
}

// Sequence returns the batch's base sequence number.
func (b *Batch) Sequence() uint64 {
	return binary.LittleEndian.Uint64(b.rep[0:8])
}

// SetSequence sets the batch's base sequence number.
func (b *Batch) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(b.rep[0:8], seq)
}

func putVarstring(dst []byte, s []byte) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	dst = append(dst, lenBuf[:n]...)
	return append(dst, s...)
}

// Put appends a Put record for key/value.
func (b *Batch) Put(key, value []byte) {
	b.rep = append(b.rep, byte(kvcore.TypePut))
	b.rep = putVarstring(b.rep, key)
	b.rep = putVarstring(b.rep, value)
	b.setCount(b.Count() + 1)
}

// Delete appends a Delete record for key.
func (b *Batch) Delete(key []byte) {
	b.rep = append(b.rep, byte(kvcore.TypeDelete))
	b.rep = putVarstring(b.rep, key)
	b.setCount(b.Count() + 1)
}

// Append concatenates src's records onto b, adjusting b's count. Used
// to merge several small batches into one before a single WAL append.
func (b *Batch) Append(src *Batch) {
	b.rep = append(b.rep, src.rep[headerSize:]...)
	b.setCount(b.Count() + src.Count())
}

// Contents returns the raw wire-format bytes of the batch.
func (b *Batch) Contents() []byte { return b.rep }

// SetContents replaces the batch's contents with a previously encoded
// wire-format buffer (e.g. a record read back from the WAL). It is not
// copied; the caller must not mutate data afterwards.
func SetContents(b *Batch, data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("batch: contents too short: %d bytes: %w", len(data), kvcore.ErrCorruption)
	}
	b.rep = data
	return nil
}

// Decode parses previously-encoded wire-format bytes into a new Batch.
func Decode(data []byte) (*Batch, error) {
	b := &Batch{}
	if err := SetContents(b, data); err != nil {
		return nil, err
	}
	return b, nil
}

// Record is one decoded Put or Delete operation.
type Record struct {
	Type  kvcore.ValueType
	Key   []byte
	Value []byte // nil for Delete
}

// Visitor is called once per decoded record, in order, by Iterate.
type Visitor func(Record) error

// Iterate walks every record in the batch, calling fn for each and
// returning an error (wrapping kvcore.ErrCorruption) if the encoded
// records don't exactly match the header's count, or if the stream is
// truncated or carries an unknown tag.
func (b *Batch) Iterate(fn Visitor) error {
	data := b.rep[headerSize:]
	found := uint32(0)
	for len(data) > 0 {
		tag := kvcore.ValueType(data[0])
		data = data[1:]
		switch tag {
		case kvcore.TypePut:
			key, rest, err := readVarstring(data)
			if err != nil {
				return err
			}
			value, rest, err := readVarstring(rest)
			if err != nil {
				return err
			}
			if err := fn(Record{Type: kvcore.TypePut, Key: key, Value: value}); err != nil {
				return err
			}
			data = rest
		case kvcore.TypeDelete:
			key, rest, err := readVarstring(data)
			if err != nil {
				return err
			}
			if err := fn(Record{Type: kvcore.TypeDelete, Key: key}); err != nil {
				return err
			}
			data = rest
		default:
			return fmt.Errorf("batch: unknown record tag %d: %w", tag, kvcore.ErrCorruption)
		}
		found++
	}
	if found != b.Count() {
		return fmt.Errorf("batch: record count mismatch: header says %d, found %d: %w", b.Count(), found, kvcore.ErrCorruption)
	}
	return nil
}

func readVarstring(data []byte) (value, rest []byte, err error) {
	n, nn := binary.Uvarint(data)
	if nn <= 0 {
		return nil, nil, fmt.Errorf("batch: truncated varstring length: %w", kvcore.ErrCorruption)
	}
	data = data[nn:]
	if uint64(len(data)) < n {
		return nil, nil, fmt.Errorf("batch: truncated varstring body: %w", kvcore.ErrCorruption)
	}
	return data[:n], data[n:], nil
}

// MemtableInserter is implemented by anything a batch can be applied to.
type MemtableInserter interface {
	Add(seq uint64, vt kvcore.ValueType, key, value []byte) error
}

// InsertInto applies every record in b to table, assigning each record
// the sequence number b.Sequence()+i for its position i in the batch,
// matching MemTableInserter in write_batch.cc.
func InsertInto(b *Batch, table MemtableInserter) error {
	seq := b.Sequence()
	return b.Iterate(func(r Record) error {
		err := table.Add(seq, r.Type, r.Key, r.Value)
		seq++
		return err
	})
}
