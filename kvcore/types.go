package kvcore

import (
	"bytes"
	"io"
)

// CompressionType identifies the block compression algorithm recorded on
// disk next to every compressed block, so a reader knows how to undo it
// without consulting anything outside the block itself.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
)

// Compressor compresses and decompresses block payloads.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	CompressTo(dst *bytes.Buffer, src []byte) error
	Decompress(data []byte) (io.ReadCloser, error)
	Type() CompressionType
}

func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// ValueType tags a value as either a live put or a tombstone. It is the
// low byte of the packed sequence/type trailer appended to every internal
// key (see package internalkey).
type ValueType uint8

const (
	// TypeDelete marks a point deletion (tombstone).
	TypeDelete ValueType = 0
	// TypePut marks a live value.
	TypePut ValueType = 1
	// TypeForSeek is a sentinel larger than any real type, used only to
	// build a lookup key whose trailer sorts before every real entry at
	// the same or smaller sequence number.
	TypeForSeek ValueType = 0xff
)

func (vt ValueType) String() string {
	switch vt {
	case TypeDelete:
		return "delete"
	case TypePut:
		return "put"
	case TypeForSeek:
		return "for-seek"
	default:
		return "unknown"
	}
}

const (
	SeqNumSize    = 8 // fixed64 sequence number
	ValueTypeSize = 1 // single tag byte, packed with the sequence number
	TagSize       = SeqNumSize
	ChecksumSize  = 4 // crc32c checksum
)
