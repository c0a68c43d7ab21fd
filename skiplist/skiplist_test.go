package skiplist

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertAndContains(t *testing.T) {
	sl := New(bytes.Compare)
	keys := []string{"banana", "apple", "cherry", "date"}
	for _, k := range keys {
		sl.Insert([]byte(k))
	}
	for _, k := range keys {
		require.True(t, sl.Contains([]byte(k)))
	}
	require.False(t, sl.Contains([]byte("eggplant")))
}

func TestIteratorOrdersAscending(t *testing.T) {
	sl := New(bytes.Compare)
	input := []string{"d", "b", "a", "c"}
	for _, k := range input {
		sl.Insert([]byte(k))
	}
	it := sl.NewIterator()
	it.SeekToFirst()
	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestIteratorSeekAndPrev(t *testing.T) {
	sl := New(bytes.Compare)
	for _, k := range []string{"a", "c", "e", "g"} {
		sl.Insert([]byte(k))
	}
	it := sl.NewIterator()
	it.Seek([]byte("d"))
	require.True(t, it.Valid())
	require.Equal(t, "e", string(it.Key()))

	it.Prev()
	require.True(t, it.Valid())
	require.Equal(t, "c", string(it.Key()))

	it.SeekToLast()
	require.Equal(t, "g", string(it.Key()))

	it.Seek([]byte("z"))
	require.False(t, it.Valid())
}

func TestManyInsertsStayOrdered(t *testing.T) {
	sl := New(bytes.Compare)
	r := rand.New(rand.NewSource(1))
	n := 2000
	seen := map[string]bool{}
	for len(seen) < n {
		k := fmt.Sprintf("key-%06d", r.Intn(100000))
		if seen[k] {
			continue
		}
		seen[k] = true
		sl.Insert([]byte(k))
	}
	it := sl.NewIterator()
	it.SeekToFirst()
	var prev []byte
	count := 0
	for it.Valid() {
		if prev != nil {
			require.Less(t, bytes.Compare(prev, it.Key()), 0)
		}
		prev = append([]byte(nil), it.Key()...)
		count++
		it.Next()
	}
	require.Equal(t, n, count)
}
