// Package arena implements a bump-pointer memory allocator: allocations
// are served by slicing fixed-size chunks, never individually freed, and
// released all at once when the arena itself is discarded. It backs the
// mutable table (package memtable) so a flush can drop one object
// (the arena) instead of walking and freeing every entry.
//
// Grounded on LevelDB's util/arena.{h,cc} (see
// _examples/original_source/util/arena.h).
package arena

import "sync/atomic"

// blockSize is the size of each chunk the arena carves allocations out
// of, matching LevelDB's Arena::kBlockSize.
const blockSize = 4096

// Arena is a bump allocator. The zero value is ready to use. It is safe
// for concurrent Allocate/AllocateAligned calls in the sense that the
// atomic memoryUsage counter never races, but callers wanting concurrent
// allocation must still serialize access to the arena themselves — the
// engine's actual usage pattern is single-writer (the memtable owner).
type Arena struct {
	curBlock []byte // remaining space in the current chunk
	blocks   [][]byte

	memoryUsage atomic.Int64
}

// New returns a ready-to-use Arena.
func New() *Arena {
	return &Arena{}
}

// Allocate returns a slice of n freshly allocated bytes. The bytes are
// not zeroed beyond Go's normal allocation guarantees. n must be >= 0.
func (a *Arena) Allocate(n int) []byte {
	if n <= 0 {
		return nil
	}
	if n <= len(a.curBlock) {
		buf := a.curBlock[:n:n]
		a.curBlock = a.curBlock[n:]
		return buf
	}
	return a.allocateFallback(n)
}

// AllocateAligned behaves like Allocate but rounds n up to a multiple
// of the machine word size, matching Arena::AllocateAligned's use for
// pointer-bearing node headers. Go's skip-list nodes (package skiplist)
// are ordinary GC-tracked structs rather than arena bytes, so nothing
// in this codebase currently requires the alignment guarantee; the
// method is kept for API parity with the spec and for any future
// arena-resident fixed-layout record.
func (a *Arena) AllocateAligned(n int) []byte {
	const align = 8
	return a.Allocate((n + align - 1) &^ (align - 1))
}

// allocateFallback handles an allocation that doesn't fit in the
// current chunk: large requests (> a quarter of blockSize) get their
// own dedicated chunk so a single oversized value doesn't waste the
// remainder of a shared block; everything else starts a fresh
// blockSize chunk and the leftover tail of the old one is abandoned.
func (a *Arena) allocateFallback(n int) []byte {
	if n > blockSize/4 {
		buf := a.newBlock(n)
		return buf
	}
	buf := a.newBlock(blockSize)
	result := buf[:n:n]
	a.curBlock = buf[n:]
	return result
}

func (a *Arena) newBlock(size int) []byte {
	buf := make([]byte, size)
	a.blocks = append(a.blocks, buf)
	a.memoryUsage.Add(int64(size))
	return buf
}

// MemoryUsage reports the cumulative number of bytes allocated across
// all chunks, including bytes handed out as part of a chunk that still
// has unused room. Mirrors Arena::MemoryUsage, exposed so a mutable
// table can report its approximate size.
func (a *Arena) MemoryUsage() int64 {
	return a.memoryUsage.Load()
}
