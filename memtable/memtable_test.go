package memtable

import (
	"testing"

	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	tbl := New(1 << 20)
	require.NoError(t, tbl.Add(1, kvcore.TypePut, []byte("a"), []byte("1")))
	require.NoError(t, tbl.Add(2, kvcore.TypePut, []byte("b"), []byte("2")))

	v, found, tomb := tbl.Get([]byte("a"), 10)
	require.True(t, found)
	require.False(t, tomb)
	require.Equal(t, "1", string(v))

	_, found, _ = tbl.Get([]byte("missing"), 10)
	require.False(t, found)
}

func TestGetRespectsSnapshotSequence(t *testing.T) {
	tbl := New(1 << 20)
	require.NoError(t, tbl.Add(1, kvcore.TypePut, []byte("a"), []byte("v1")))
	require.NoError(t, tbl.Add(5, kvcore.TypePut, []byte("a"), []byte("v2")))

	v, found, _ := tbl.Get([]byte("a"), 1)
	require.True(t, found)
	require.Equal(t, "v1", string(v))

	v, found, _ = tbl.Get([]byte("a"), 5)
	require.True(t, found)
	require.Equal(t, "v2", string(v))

	v, found, _ = tbl.Get([]byte("a"), 100)
	require.True(t, found)
	require.Equal(t, "v2", string(v))
}

func TestGetSeesTombstone(t *testing.T) {
	tbl := New(1 << 20)
	require.NoError(t, tbl.Add(1, kvcore.TypePut, []byte("a"), []byte("v1")))
	require.NoError(t, tbl.Add(2, kvcore.TypeDelete, []byte("a"), nil))

	_, found, tomb := tbl.Get([]byte("a"), 2)
	require.True(t, found)
	require.True(t, tomb)
}

func TestIteratorOrdersByKeyThenSeqDesc(t *testing.T) {
	tbl := New(1 << 20)
	require.NoError(t, tbl.Add(1, kvcore.TypePut, []byte("b"), []byte("b1")))
	require.NoError(t, tbl.Add(2, kvcore.TypePut, []byte("a"), []byte("a1")))
	require.NoError(t, tbl.Add(3, kvcore.TypePut, []byte("a"), []byte("a2")))

	it := tbl.NewIterator()
	defer it.Close()

	require.True(t, it.Next())
	_, v := it.At()
	require.Equal(t, "a2", string(v)) // newest version of "a" first

	require.True(t, it.Next())
	_, v = it.At()
	require.Equal(t, "a1", string(v))

	require.True(t, it.Next())
	_, v = it.At()
	require.Equal(t, "b1", string(v))

	require.False(t, it.Next())
}

func TestIsFull(t *testing.T) {
	tbl := New(8)
	require.False(t, tbl.IsFull())
	require.NoError(t, tbl.Add(1, kvcore.TypePut, []byte("key"), []byte("value-bigger-than-threshold")))
	require.True(t, tbl.IsFull())
}
