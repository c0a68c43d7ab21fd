package batch

import (
	"testing"

	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/stretchr/testify/require"
)

func TestPutDeleteIterate(t *testing.T) {
	b := New()
	b.SetSequence(100)
	b.Put([]byte("a"), []byte("1"))
	b.Delete([]byte("b"))
	b.Put([]byte("c"), []byte("3"))
	require.Equal(t, uint32(3), b.Count())

	var got []Record
	require.NoError(t, b.Iterate(func(r Record) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 3)
	require.Equal(t, kvcore.TypePut, got[0].Type)
	require.Equal(t, "a", string(got[0].Key))
	require.Equal(t, "1", string(got[0].Value))
	require.Equal(t, kvcore.TypeDelete, got[1].Type)
	require.Equal(t, "b", string(got[1].Key))
	require.Nil(t, got[1].Value)
}

func TestDecodeRoundTrip(t *testing.T) {
	b := New()
	b.SetSequence(7)
	b.Put([]byte("x"), []byte("y"))

	decoded, err := Decode(b.Contents())
	require.NoError(t, err)
	require.Equal(t, uint64(7), decoded.Sequence())
	require.Equal(t, uint32(1), decoded.Count())
}

func TestIterateDetectsCountMismatch(t *testing.T) {
	b := New()
	b.Put([]byte("a"), []byte("1"))
	b.setCount(2) // corrupt: header now claims 2 records but only 1 is encoded
	err := b.Iterate(func(Record) error { return nil })
	require.ErrorIs(t, err, kvcore.ErrCorruption)
}

type fakeTable struct {
	applied []kvcore.ValueType
	seqs    []uint64
}

func (f *fakeTable) Add(seq uint64, vt kvcore.ValueType, key, value []byte) error {
	f.applied = append(f.applied, vt)
	f.seqs = append(f.seqs, seq)
	return nil
}

func TestInsertIntoAssignsSequentialSeqNums(t *testing.T) {
	b := New()
	b.SetSequence(10)
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	b.Delete([]byte("a"))

	ft := &fakeTable{}
	require.NoError(t, InsertInto(b, ft))
	require.Equal(t, []uint64{10, 11, 12}, ft.seqs)
}
