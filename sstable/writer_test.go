package sstable

import (
	"fmt"
	"os"
	"testing"

	"github.com/nexusdb/lsmkv/compressors"
	"github.com/nexusdb/lsmkv/internalkey"
	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/stretchr/testify/require"
)

// buildTestTable writes a table of n sequential "keyNNNN" -> "valNNNN"
// entries (seq == index) and returns it opened for reading.
func buildTestTable(t *testing.T, n int, compressor kvcore.Compressor) (*SSTable, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewSSTableWriter(kvcore.SSTableWriterOptions{
		DataDir:                      dir,
		ID:                           1,
		BloomFilterFalsePositiveRate: 0.01,
		BlockSize:                    256,
		RestartInterval:              4,
		Compressor:                   compressor,
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		key := internalkey.Make([]byte(fmt.Sprintf("key%04d", i)), uint64(i), kvcore.TypePut)
		require.NoError(t, w.Add(key, []byte(fmt.Sprintf("val%04d", i))))
	}
	require.NoError(t, w.Finish())

	path := w.FilePath()
	require.FileExists(t, path)

	sst, err := LoadSSTable(LoadSSTableOptions{FilePath: path, ID: 1})
	require.NoError(t, err)
	return sst, dir
}

func TestSSTableWriterAndReaderRoundTrip(t *testing.T) {
	for _, compressor := range []kvcore.Compressor{&compressors.NoCompressionCompressor{}, &compressors.SnappyCompressor{}} {
		t.Run(compressor.Type().String(), func(t *testing.T) {
			sst, _ := buildTestTable(t, 200, compressor)
			defer sst.Close()

			for i := 0; i < 200; i++ {
				value, found, tombstone, err := sst.Get([]byte(fmt.Sprintf("key%04d", i)), uint64(i))
				require.NoError(t, err)
				require.True(t, found, "key%04d", i)
				require.False(t, tombstone)
				require.Equal(t, fmt.Sprintf("val%04d", i), string(value))
			}

			_, found, _, err := sst.Get([]byte("nonexistent"), 1000)
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestSSTableGetRespectsSnapshotSequence(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSSTableWriter(kvcore.SSTableWriterOptions{
		DataDir:                      dir,
		ID:                           2,
		BloomFilterFalsePositiveRate: 0.01,
		Compressor:                   &compressors.NoCompressionCompressor{},
	})
	require.NoError(t, err)

	// Two versions of the same user key, newest (highest seq) first, as
	// internal-key order requires.
	require.NoError(t, w.Add(internalkey.Make([]byte("k"), 20, kvcore.TypePut), []byte("new")))
	require.NoError(t, w.Add(internalkey.Make([]byte("k"), 10, kvcore.TypePut), []byte("old")))
	require.NoError(t, w.Finish())

	sst, err := LoadSSTable(LoadSSTableOptions{FilePath: w.FilePath(), ID: 2})
	require.NoError(t, err)
	defer sst.Close()

	value, found, _, err := sst.Get([]byte("k"), 20)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "new", string(value))

	value, found, _, err = sst.Get([]byte("k"), 15)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "old", string(value))

	_, found, _, err = sst.Get([]byte("k"), 5)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSSTableGetReturnsTombstone(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSSTableWriter(kvcore.SSTableWriterOptions{
		DataDir:    dir,
		ID:         3,
		Compressor: &compressors.NoCompressionCompressor{},
	})
	require.NoError(t, err)
	require.NoError(t, w.Add(internalkey.Make([]byte("k"), 1, kvcore.TypeDelete), nil))
	require.NoError(t, w.Finish())

	sst, err := LoadSSTable(LoadSSTableOptions{FilePath: w.FilePath(), ID: 3})
	require.NoError(t, err)
	defer sst.Close()

	_, found, tombstone, err := sst.Get([]byte("k"), 1)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, tombstone)
}

func TestSSTableIteratorWalksInOrder(t *testing.T) {
	sst, _ := buildTestTable(t, 50, &compressors.NoCompressionCompressor{})
	defer sst.Close()

	it, err := sst.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	count := 0
	for it.Next() {
		ikey, value := it.At()
		userKey := internalkey.UserKey(ikey)
		require.Equal(t, fmt.Sprintf("key%04d", count), string(userKey))
		require.Equal(t, fmt.Sprintf("val%04d", count), string(value))
		count++
	}
	require.NoError(t, it.Error())
	require.Equal(t, 50, count)
}

func TestSSTableIteratorSeeksToStartKey(t *testing.T) {
	sst, _ := buildTestTable(t, 50, &compressors.NoCompressionCompressor{})
	defer sst.Close()

	it, err := sst.NewIterator(internalkey.Make([]byte("key0025"), 25, kvcore.TypeForSeek))
	require.NoError(t, err)
	defer it.Close()

	ikey, _ := it.At()
	require.Equal(t, "key0025", string(internalkey.UserKey(ikey)))
}

func TestSSTableIteratorWalksInReverse(t *testing.T) {
	sst, _ := buildTestTable(t, 50, &compressors.NoCompressionCompressor{})
	defer sst.Close()

	it, err := sst.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	count := 49
	for it.Prev() {
		ikey, value := it.At()
		userKey := internalkey.UserKey(ikey)
		require.Equal(t, fmt.Sprintf("key%04d", count), string(userKey))
		require.Equal(t, fmt.Sprintf("val%04d", count), string(value))
		count--
	}
	require.NoError(t, it.Error())
	require.Equal(t, -1, count)
}

func TestSSTableAbortRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSSTableWriter(kvcore.SSTableWriterOptions{
		DataDir:    dir,
		ID:         4,
		Compressor: &compressors.NoCompressionCompressor{},
	})
	require.NoError(t, err)
	require.NoError(t, w.Add(internalkey.Make([]byte("k"), 1, kvcore.TypePut), []byte("v")))

	path := w.FilePath()
	require.NoError(t, w.Abort())
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestSSTableVerifyIntegrity(t *testing.T) {
	sst, _ := buildTestTable(t, 30, &compressors.NoCompressionCompressor{})
	defer sst.Close()
	errs := sst.VerifyIntegrity(true)
	require.Empty(t, errs)
}
