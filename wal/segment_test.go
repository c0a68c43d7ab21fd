package wal

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadSmallRecords(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateSegment(dir, 1)
	require.NoError(t, err)

	require.NoError(t, w.AddRecord([]byte("hello")))
	require.NoError(t, w.AddRecord([]byte("world")))
	require.NoError(t, w.Close())

	r, err := OpenSegmentForRead(w.Path())
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, "hello", string(rec))

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, "world", string(rec))

	_, err = r.ReadRecord()
	require.Equal(t, io.EOF, err)
}

func TestRecordLargerThanBlockFragments(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateSegment(dir, 1)
	require.NoError(t, err)

	big := bytes.Repeat([]byte("x"), BlockSize*3+123)
	require.NoError(t, w.AddRecord(big))
	require.NoError(t, w.Close())

	r, err := OpenSegmentForRead(w.Path())
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, big, rec)

	_, err = r.ReadRecord()
	require.Equal(t, io.EOF, err)
}

func TestRecordStraddlingBlockBoundaryGetsPadded(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateSegment(dir, 1)
	require.NoError(t, err)

	// Fill most of the first block so the next record's header would
	// straddle the boundary and must trigger zero-padding instead.
	require.NoError(t, w.AddRecord(bytes.Repeat([]byte("a"), BlockSize-HeaderSize-3)))
	require.NoError(t, w.AddRecord([]byte("tail")))
	require.NoError(t, w.Close())

	r, err := OpenSegmentForRead(w.Path())
	require.NoError(t, err)
	defer r.Close()

	first, err := r.ReadRecord()
	require.NoError(t, err)
	require.Len(t, first, BlockSize-HeaderSize-3)

	second, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, "tail", string(second))
}

func TestCorruptedFirstRecordHeaderIsSkipped(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateSegment(dir, 1)
	require.NoError(t, err)

	require.NoError(t, w.AddRecord([]byte("first")))
	require.NoError(t, w.Close())

	path := w.Path()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var h kvcore.FileHeader
	headerSize := h.Size()
	// Flip a byte inside the masked-CRC field of the first physical
	// record's header, breaking its checksum without touching the file
	// header or the record's length/type fields.
	data[headerSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	r, err := OpenSegmentForRead(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadRecord()
	require.Equal(t, io.EOF, err)
}

func TestFormatSegmentFileNameUsedForPath(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateSegment(dir, 42)
	require.NoError(t, err)
	defer w.Close()

	require.Equal(t, filepath.Join(dir, "00000042.wal"), w.Path())
	require.Equal(t, uint64(42), w.Index())
}
