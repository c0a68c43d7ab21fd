package memtable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/nexusdb/lsmkv/arena"
	"github.com/nexusdb/lsmkv/comparator"
	"github.com/nexusdb/lsmkv/internalkey"
	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/nexusdb/lsmkv/skiplist"
)

// Table is the mutable table (LevelDB's MemTable): an ordered, versioned
// index of recently-written entries, backed by an arena-allocated skip
// list so a flush can discard the whole structure in one step instead
// of freeing every node.
//
// Each entry is encoded as one arena allocation:
//
//	varint(internal_key_len) ‖ internal_key ‖ varint(value_len) ‖ value
//
// exactly as MemTable::Add lays it out in db/memtable.cc, and the skip
// list's Comparator decodes just the internal_key prefix of that buffer
// to order entries — never any raw user-supplied value bytes.
type Table struct {
	mu         sync.RWMutex
	arena      *arena.Arena
	list       *skiplist.SkipList
	cmp        comparator.Comparator
	sizeBytes  int64
	threshold  int64
	createdAt  time.Time
}

// New creates an empty mutable table that reports IsFull once its
// arena-estimated size reaches threshold bytes.
func New(threshold int64) *Table {
	t := &Table{
		arena:     arena.New(),
		cmp:       comparator.Bytewise,
		threshold: threshold,
		createdAt: time.Now(),
	}
	t.list = skiplist.New(t.compareEncoded)
	return t
}

// compareEncoded orders two full entry buffers by decoding just their
// internal-key prefix and delegating to internalkey.Compare.
func (t *Table) compareEncoded(a, b []byte) int {
	return internalkey.Compare(t.cmp, decodeInternalKey(a), decodeInternalKey(b))
}

func decodeInternalKey(encoded []byte) []byte {
	klen, n := binary.Uvarint(encoded)
	return encoded[n : n+int(klen)]
}

func uvarintLen(v uint64) int {
	var scratch [binary.MaxVarintLen64]byte
	return binary.PutUvarint(scratch[:], v)
}

// Add inserts one versioned record. seq must be strictly greater than
// every sequence number already assigned to key within this table — the
// write path (package batch / the WAL replay loop) is responsible for
// that, since it owns sequence number assignment.
func (t *Table) Add(seq uint64, vt kvcore.ValueType, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ikeyLen := len(key) + internalkey.TrailerSize
	keyVarintLen := uvarintLen(uint64(ikeyLen))
	valVarintLen := uvarintLen(uint64(len(value)))
	total := keyVarintLen + ikeyLen + valVarintLen + len(value)

	buf := t.arena.Allocate(total)
	off := binary.PutUvarint(buf, uint64(ikeyLen))
	off += copy(buf[off:], key)
	binary.LittleEndian.PutUint64(buf[off:], internalkey.PackTrailer(seq, vt))
	off += internalkey.TrailerSize
	off += binary.PutUvarint(buf[off:], uint64(len(value)))
	copy(buf[off:], value)

	t.list.Insert(buf)
	t.sizeBytes += int64(total)
	return nil
}

// makeLookupKey builds a throwaway encoded-entry prefix (no value part)
// used only to seek the skip list: user_key ‖ pack64(seq<<8|ForSeek).
// Because ForSeek (0xff) is larger than any real type, this key sorts
// immediately before the newest real version of key whose sequence
// number is <= seq, and after every version with a larger sequence
// number — exactly LevelDB's LookupKey trick in db/dbformat.h.
func makeLookupKey(key []byte, seq uint64) []byte {
	ikey := internalkey.Make(key, seq, kvcore.TypeForSeek)
	buf := make([]byte, 0, uvarintLen(uint64(len(ikey)))+len(ikey))
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(len(ikey)))
	buf = append(buf, scratch[:n]...)
	buf = append(buf, ikey...)
	return buf
}

// Get looks up the most recent version of key visible at or before seq.
// found is false if no version of key with a sequence number <= seq
// exists in the table (the caller must then consult older
// tables/SSTables). When found is true
// and tombstone is true, the most recent visible version is a deletion.
func (t *Table) Get(key []byte, seq uint64) (value []byte, found, tombstone bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	it := t.list.NewIterator()
	it.Seek(makeLookupKey(key, seq))
	if !it.Valid() {
		return nil, false, false
	}
	entry := decodeFull(it.Key())
	if !bytes.Equal(entry.UserKey, key) {
		return nil, false, false
	}
	if entry.Type == kvcore.TypeDelete {
		return nil, true, true
	}
	return entry.Value, true, false
}

type decodedEntry struct {
	UserKey []byte
	Value   []byte
	Type    kvcore.ValueType
	SeqNum  uint64
}

func decodeFull(buf []byte) decodedEntry {
	klen, n := binary.Uvarint(buf)
	ikey := buf[n : n+int(klen)]
	rest := buf[n+int(klen):]
	vlen, n2 := binary.Uvarint(rest)
	value := rest[n2 : n2+int(vlen)]
	userKey, seqNum, vt, _ := internalkey.Parse(ikey)
	return decodedEntry{UserKey: userKey, Value: value, Type: vt, SeqNum: seqNum}
}

// Size returns the estimated number of bytes the table has allocated.
func (t *Table) Size() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sizeBytes
}

// IsFull reports whether the table has reached its size threshold and
// should be swapped out for a new mutable table and scheduled to flush.
func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sizeBytes >= t.threshold
}

// MemoryUsage reports the arena's cumulative allocation, which may
// exceed sizeBytes slightly due to per-chunk fragmentation — the same
// distinction LevelDB draws between MemTable::ApproximateMemoryUsage
// (arena-based) and exact logical size.
func (t *Table) MemoryUsage() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.arena.MemoryUsage()
}

// Iterator walks every entry in the table in internal-key order
// (ascending user key, descending sequence number) in either
// direction, implementing package iterator's Interface so it can feed
// a MergingIterator alongside SSTable readers. The reverse and seek
// support is a thin wrapper: skiplist.Iterator already provides
// Prev/Seek/SeekToFirst/SeekToLast (skiplist.go's findLessThan/
// findGreaterOrEqual/findLast), so this layer only adapts the void
// position-then-Valid() shape to Interface's boolean-returning one.
type Iterator struct {
	table  *Table
	inner  *skiplist.Iterator
	closed bool

	// began distinguishes "never positioned" from "walked off one end"
	// — both leave inner.Valid() false — so a freshly constructed
	// iterator's first Next()/Prev() bootstraps via SeekToFirst/
	// SeekToLast instead of staying stuck, the same role it plays in
	// sstable.TableIterator.
	began bool
}

// NewIterator returns an Iterator not yet positioned at any entry. The
// iterator holds a read lock on the table for its lifetime; callers
// must call Close to release it.
func (t *Table) NewIterator() *Iterator {
	t.mu.RLock()
	return &Iterator{table: t, inner: t.list.NewIterator()}
}

func (it *Iterator) Next() bool {
	switch {
	case !it.began:
		it.began = true
		it.inner.SeekToFirst()
	case it.inner.Valid():
		it.inner.Next()
	}
	return it.inner.Valid()
}

func (it *Iterator) Prev() bool {
	switch {
	case !it.began:
		it.began = true
		it.inner.SeekToLast()
	case it.inner.Valid():
		it.inner.Prev()
	}
	return it.inner.Valid()
}

func (it *Iterator) Seek(target []byte) bool {
	it.began = true
	it.inner.Seek(target)
	return it.inner.Valid()
}

func (it *Iterator) SeekToFirst() bool {
	it.began = true
	it.inner.SeekToFirst()
	return it.inner.Valid()
}

func (it *Iterator) SeekToLast() bool {
	it.began = true
	it.inner.SeekToLast()
	return it.inner.Valid()
}

// At returns the current entry's internal key and value.
func (it *Iterator) At() (internalKey, value []byte) {
	buf := it.inner.Key()
	klen, n := binary.Uvarint(buf)
	ikey := buf[n : n+int(klen)]
	rest := buf[n+int(klen):]
	vlen, n2 := binary.Uvarint(rest)
	return ikey, rest[n2 : n2+int(vlen)]
}

func (it *Iterator) Error() error { return nil }

func (it *Iterator) Close() error {
	if !it.closed {
		it.table.mu.RUnlock()
		it.closed = true
	}
	return nil
}

// FlushToSSTable writes every entry in the table, in order, to writer.
// Called when an immutable table is being persisted to a new SSTable;
// all versions are written, including superseded ones, since this table
// has no knowledge of which snapshots are still active — that decision
// belongs to the (external, not implemented here) compaction layer.
func (t *Table) FlushToSSTable(writer kvcore.SSTableWriterInterface) error {
	it := t.NewIterator()
	defer it.Close()
	for it.Next() {
		ikey, value := it.At()
		if err := writer.Add(ikey, value); err != nil {
			return fmt.Errorf("memtable: flush to sstable: %w", err)
		}
	}
	return nil
}

// Close releases the table's arena. Safe to call once, after the table
// has been flushed and is no longer referenced by any reader.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arena = nil
	t.list = nil
}
