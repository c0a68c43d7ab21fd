// Package sstable implements the on-disk sorted-string table: the
// table builder/reader pair (§4.9–§4.10), the block builder/reader
// pair (§4.7) blocks are encoded with, and the footer/handle framing
// that ties them together.
//
// Grounded on nexusbase's sstable/ package for the surrounding
// writer/reader/options shape (temp-file-then-rename, OpenTelemetry
// spans, slog logging, block-cache integration), adapted to the
// spec's restart-point block format, filter-block layout (package
// filter), and 48-byte varint-handle footer from LevelDB's
// table/format.{h,cc} (_examples/original_source/table/format.h).
package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// FooterMagic is the fixed 8-byte trailer identifying a valid table
// file, read big-endian-free as a little-endian uint64 the same way
// LevelDB's kTableMagicNumber is.
const FooterMagic uint64 = 0xDB4775248B80FB57

// FooterSize is the fixed, padded size of the footer: two varint
// BlockHandles (at most 2*binary.MaxVarintLen64 bytes each) zero-padded
// out to 40 bytes, plus the 8-byte magic.
const FooterSize = 2*(2*binary.MaxVarintLen64) + 8

// BlockTrailerSize is the per-block trailer written after every data,
// index, metaindex, and filter block: a 1-byte compression type flag
// followed by a 4-byte masked CRC-32C of (compressed data ‖ type byte).
const BlockTrailerSize = 5

const (
	DefaultBlockSize       = 4 * 1024
	DefaultRestartInterval = 16
)

var (
	ErrNotFound  = errors.New("sstable: key not found")
	ErrCorrupted = errors.New("sstable: corrupted data")
	ErrClosed    = errors.New("sstable: closed")
)

// BlockHandle points to a block within the table file.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the varint-encoded handle to dst.
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	dst = binary.AppendUvarint(dst, h.Size)
	return dst
}

// DecodeBlockHandle reads a varint-encoded handle from the front of
// src, returning the number of bytes consumed.
func DecodeBlockHandle(src []byte) (BlockHandle, int, error) {
	offset, n1 := binary.Uvarint(src)
	if n1 <= 0 {
		return BlockHandle{}, 0, fmt.Errorf("sstable: malformed block handle offset: %w", ErrCorrupted)
	}
	size, n2 := binary.Uvarint(src[n1:])
	if n2 <= 0 {
		return BlockHandle{}, 0, fmt.Errorf("sstable: malformed block handle size: %w", ErrCorrupted)
	}
	return BlockHandle{Offset: offset, Size: size}, n1 + n2, nil
}

// Footer is the fixed-size trailer written at the end of every table
// file, pointing at the metaindex block (which in turn points at the
// filter block) and the index block.
type Footer struct {
	MetaindexHandle BlockHandle
	IndexHandle     BlockHandle
}

// EncodeTo renders the footer into its fixed FooterSize-byte form.
func (f Footer) EncodeTo() [FooterSize]byte {
	var out [FooterSize]byte
	enc := f.MetaindexHandle.EncodeTo(nil)
	enc = f.IndexHandle.EncodeTo(enc)
	copy(out[:], enc)
	binary.LittleEndian.PutUint64(out[FooterSize-8:], FooterMagic)
	return out
}

// DecodeFooter parses a FooterSize-byte buffer.
func DecodeFooter(data []byte) (Footer, error) {
	if len(data) != FooterSize {
		return Footer{}, fmt.Errorf("sstable: footer must be %d bytes, got %d: %w", FooterSize, len(data), ErrCorrupted)
	}
	magic := binary.LittleEndian.Uint64(data[FooterSize-8:])
	if magic != FooterMagic {
		return Footer{}, fmt.Errorf("sstable: bad footer magic %#x: %w", magic, ErrCorrupted)
	}
	mh, n1, err := DecodeBlockHandle(data)
	if err != nil {
		return Footer{}, err
	}
	ih, _, err := DecodeBlockHandle(data[n1:])
	if err != nil {
		return Footer{}, err
	}
	return Footer{MetaindexHandle: mh, IndexHandle: ih}, nil
}

// filterMetaindexKey is the fixed key the metaindex block stores the
// filter block's handle under, mirroring LevelDB's
// "filter.leveldb.BuiltinBloomFilter" convention of naming the filter
// policy in the key.
const filterMetaindexKey = "filter.bloom"

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// maskCRC applies LevelDB's rotate-and-add mask to a raw CRC-32C value
// before it is stored, so accidentally zeroed bytes on disk never look
// like a valid (zero) checksum. Package wal has its own copy of the
// identical mask for log record checksums.
func maskCRC(c uint32) uint32 {
	return ((c >> 15) | (c << 17)) + 0xa282ead8
}

// blockChecksum computes the masked CRC-32C over payload followed by
// the 1-byte compression type, matching the block trailer's
// `payload ‖ u8 compression ‖ fixed32 mask(crc32c(payload ‖ compression))`
// framing.
func blockChecksum(payload []byte, compression byte) uint32 {
	c := crc32.Update(0, crcTable, payload)
	c = crc32.Update(c, crcTable, []byte{compression})
	return maskCRC(c)
}

// writeBlockTrailer appends the 1-byte compression type and 4-byte
// masked checksum to dst, following payload (which must already be in dst).
func writeBlockTrailer(dst []byte, payload []byte, compression byte) []byte {
	dst = append(dst, compression)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], blockChecksum(payload, compression))
	return append(dst, crcBuf[:]...)
}

// verifyBlockTrailer checks a BlockTrailerSize-byte trailer (compression
// byte ‖ masked CRC) against payload, returning the compression type.
func verifyBlockTrailer(payload []byte, trailer []byte) (byte, error) {
	if len(trailer) != BlockTrailerSize {
		return 0, fmt.Errorf("sstable: block trailer must be %d bytes, got %d: %w", BlockTrailerSize, len(trailer), ErrCorrupted)
	}
	compression := trailer[0]
	want := binary.LittleEndian.Uint32(trailer[1:])
	got := blockChecksum(payload, compression)
	if want != got {
		return 0, fmt.Errorf("sstable: block checksum mismatch (want %#x, got %#x): %w", want, got, ErrCorrupted)
	}
	return compression, nil
}
