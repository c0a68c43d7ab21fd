package sstable

import (
	"testing"

	"github.com/nexusdb/lsmkv/internalkey"
	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/stretchr/testify/require"
)

func TestIndexBuilderAndFind(t *testing.T) {
	ib := NewIndexBuilder(DefaultRestartInterval)

	blocks := []struct {
		last, next []byte
		handle     BlockHandle
	}{
		{internalkey.Make([]byte("apple"), 1, kvcore.TypePut), internalkey.Make([]byte("banana"), 2, kvcore.TypePut), BlockHandle{Offset: 0, Size: 100}},
		{internalkey.Make([]byte("banana"), 2, kvcore.TypePut), internalkey.Make([]byte("cherry"), 3, kvcore.TypePut), BlockHandle{Offset: 100, Size: 80}},
		{internalkey.Make([]byte("cherry"), 3, kvcore.TypePut), nil, BlockHandle{Offset: 180, Size: 60}},
	}
	for _, b := range blocks {
		ib.Add(b.last, b.next, b.handle)
	}

	idx := NewIndex(ib.Finish())

	handle, ok, err := idx.Find(internalkey.Make([]byte("apple"), 1, kvcore.TypePut))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), handle.Offset)

	handle, ok, err = idx.Find(internalkey.Make([]byte("bandana"), 99, kvcore.TypePut))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(180), handle.Offset)

	handle, ok, err = idx.Find(internalkey.Make([]byte("cherry"), 3, kvcore.TypePut))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(180), handle.Offset)
}

func TestIndexIteratorWalksAllBlocks(t *testing.T) {
	ib := NewIndexBuilder(DefaultRestartInterval)
	ib.Add(internalkey.Make([]byte("a"), 1, kvcore.TypePut), internalkey.Make([]byte("b"), 1, kvcore.TypePut), BlockHandle{Offset: 0, Size: 10})
	ib.Add(internalkey.Make([]byte("b"), 1, kvcore.TypePut), nil, BlockHandle{Offset: 10, Size: 10})

	idx := NewIndex(ib.Finish())
	it, err := idx.Iterator()
	require.NoError(t, err)

	count := 0
	for it.Next() {
		count++
	}
	require.NoError(t, it.Error())
	require.Equal(t, 2, count)
}
