package internalkey

import (
	"testing"

	"github.com/nexusdb/lsmkv/comparator"
	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/stretchr/testify/require"
)

func TestAppendAndParse(t *testing.T) {
	ikey := Make([]byte("hello"), 42, kvcore.TypePut)
	uk, seq, vt, ok := Parse(ikey)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), uk)
	require.Equal(t, uint64(42), seq)
	require.Equal(t, kvcore.TypePut, vt)
}

func TestParseTooShort(t *testing.T) {
	_, _, _, ok := Parse([]byte("ab"))
	require.False(t, ok)
}

func TestCompareOrdersByUserKeyThenSeqDescThenTypeDesc(t *testing.T) {
	a := Make([]byte("a"), 1, kvcore.TypePut)
	b := Make([]byte("b"), 1, kvcore.TypePut)
	require.Less(t, CompareBytewise(a, b), 0)

	newer := Make([]byte("k"), 5, kvcore.TypePut)
	older := Make([]byte("k"), 3, kvcore.TypePut)
	require.Less(t, CompareBytewise(newer, older), 0, "higher sequence number sorts first")

	del := Make([]byte("k"), 5, kvcore.TypeDelete)
	put := Make([]byte("k"), 5, kvcore.TypePut)
	require.Less(t, CompareBytewise(put, del), 0, "at equal seq, Put (larger type) sorts first")
}

func TestPackUnpackTrailer(t *testing.T) {
	trailer := PackTrailer(12345, kvcore.TypeDelete)
	seq, vt := UnpackTrailer(trailer)
	require.Equal(t, uint64(12345), seq)
	require.Equal(t, kvcore.TypeDelete, vt)
}

func TestFindShortestSeparatorOrdersBetween(t *testing.T) {
	last := Make([]byte("helloworld"), 10, kvcore.TypePut)
	next := Make([]byte("jellomorld"), 20, kvcore.TypePut)
	sep := FindShortestSeparator(comparator.Bytewise, last, next)
	require.Less(t, CompareBytewise(last, sep), 0)
	require.Less(t, CompareBytewise(sep, next), 0)
}

func TestFindShortestSeparatorNoNext(t *testing.T) {
	last := Make([]byte("k"), 10, kvcore.TypePut)
	sep := FindShortestSeparator(comparator.Bytewise, last, nil)
	require.Equal(t, last, sep)
}

func TestFindShortSuccessorShortensOrStaysEqual(t *testing.T) {
	ikey := Make([]byte("hello"), 10, kvcore.TypePut)
	succ := FindShortSuccessor(comparator.Bytewise, ikey)
	require.LessOrEqual(t, CompareBytewise(ikey, succ), 0)
}
