package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateWithinChunk(t *testing.T) {
	a := New()
	b1 := a.Allocate(16)
	b2 := a.Allocate(16)
	require.Len(t, b1, 16)
	require.Len(t, b2, 16)
	// Both allocations should come out of the same chunk.
	require.Equal(t, int64(blockSize), a.MemoryUsage())
}

func TestAllocateOversizedGetsOwnChunk(t *testing.T) {
	a := New()
	a.Allocate(16)
	big := a.Allocate(blockSize)
	require.Len(t, big, blockSize)
	require.Equal(t, int64(blockSize+blockSize), a.MemoryUsage())
}

func TestAllocateZero(t *testing.T) {
	a := New()
	require.Nil(t, a.Allocate(0))
}

func TestMemoryUsageGrowsAcrossChunks(t *testing.T) {
	a := New()
	for i := 0; i < 10*blockSize; i += 100 {
		a.Allocate(100)
	}
	require.Greater(t, a.MemoryUsage(), int64(10*blockSize))
}
