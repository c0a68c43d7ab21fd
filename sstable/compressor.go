package sstable

import (
	"fmt"

	"github.com/nexusdb/lsmkv/compressors"
	"github.com/nexusdb/lsmkv/kvcore"
)

// GetCompressor returns a Compressor instance for compressionType, used
// to decompress a block after its trailer has been verified.
func GetCompressor(compressionType kvcore.CompressionType) (kvcore.Compressor, error) {
	switch compressionType {
	case kvcore.CompressionNone:
		return &compressors.NoCompressionCompressor{}, nil
	case kvcore.CompressionSnappy:
		return &compressors.SnappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("sstable: unknown compression type %d: %w", compressionType, ErrCorrupted)
	}
}
