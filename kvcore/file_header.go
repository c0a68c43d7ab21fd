package kvcore

import (
	"encoding/binary"
	"time"
)

// FileHeader is a small fixed-size header written at the start of every
// persistent file (WAL segment, SSTable) so a reader can identify the
// format and version before trusting the rest of the bytes.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64 // UnixNano timestamp
	CompressorType CompressionType
}

func (h *FileHeader) Size() int {
	return binary.Size(h)
}

// NewFileHeader creates a header stamped with the current time.
func NewFileHeader(magic uint32, compressorType CompressionType) FileHeader {
	return FileHeader{
		Magic:          magic,
		Version:        FormatVersion,
		CreatedAt:      time.Now().UnixNano(),
		CompressorType: compressorType,
	}
}
