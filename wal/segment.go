// Package wal implements the log record framer: the write-ahead log's
// on-disk block-oriented format that fragments arbitrary-length records
// across fixed 32 KiB blocks so a reader can resynchronize after a
// corrupted block without losing every record that follows it.
//
// Grounded on LevelDB's db/log_writer.cc and db/log_reader.cc
// (_examples/original_source/db/log_writer.cc); the surrounding
// Segment/SegmentWriter/SegmentReader naming and sys.FileHandle-based
// file lifecycle follow nexusbase's wal/segment.go, whose simpler
// length-prefix-plus-checksum framing is replaced here by the spec's
// block-fragment format.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/nexusdb/lsmkv/sys"
)

// BlockSize is the fixed size of each physical block a record is
// fragmented across.
const BlockSize = 32768

// HeaderSize is the width of the physical-record header: a masked
// CRC-32C (4 bytes), a fragment length (2 bytes), and a fragment type
// (1 byte).
const HeaderSize = 7

// FragmentType identifies how a physical record relates to the logical
// record it's a piece of.
type FragmentType uint8

const (
	// FragmentZero never appears on the wire; a header parsed as all
	// zero bytes (length 0, type 0) marks the zero-padded tail of a
	// block and is treated as "no more records in this block".
	FragmentZero FragmentType = 0
	// FragmentFull means the record fit entirely within one fragment.
	FragmentFull FragmentType = 1
	// FragmentFirst is the first of several fragments of a record.
	FragmentFirst FragmentType = 2
	// FragmentMiddle is an interior fragment of a record.
	FragmentMiddle FragmentType = 3
	// FragmentLast is the final fragment of a record.
	FragmentLast FragmentType = 4
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// maskCRC applies LevelDB's CRC masking (crc32c::Mask): the raw CRC-32C
// is rotated and offset so that a record containing another encoded CRC
// doesn't produce a deceptively similar checksum.
func maskCRC(c uint32) uint32 {
	return ((c >> 15) | (c << 17)) + 0xa282ead8
}

// Segment identifies one WAL segment file on disk.
type Segment struct {
	file  sys.FileHandle
	path  string
	index uint64
}

func (s *Segment) Path() string  { return s.path }
func (s *Segment) Index() uint64 { return s.index }

// Size returns the current size of the segment file.
func (s *Segment) Size() (int64, error) {
	if s.file == nil {
		return 0, os.ErrClosed
	}
	stat, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

// Writer appends records to a segment, fragmenting each one across
// BlockSize-byte blocks.
type Writer struct {
	*Segment
	w           *bufio.Writer
	blockOffset int // bytes already written into the current block
}

// CreateSegment creates a new segment file in dir and returns a Writer
// for it, having already written the file header.
func CreateSegment(dir string, index uint64) (*Writer, error) {
	path := filepath.Join(dir, kvcore.FormatSegmentFileName(index))
	file, err := sys.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment file %s: %w", path, err)
	}

	header := kvcore.NewFileHeader(kvcore.WALMagicNumber, kvcore.CompressionNone)
	if err := binary.Write(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: write segment header to %s: %w", path, err)
	}

	return &Writer{
		Segment: &Segment{file: file, path: path, index: index},
		w:       bufio.NewWriterSize(file, BlockSize),
	}, nil
}

var zeroes = make([]byte, HeaderSize)

// AddRecord appends one logical record, splitting it across as many
// physical fragments as needed.
func (w *Writer) AddRecord(data []byte) error {
	if w.file == nil {
		return os.ErrClosed
	}

	begin := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			if leftover > 0 {
				if _, err := w.w.Write(zeroes[:leftover]); err != nil {
					return fmt.Errorf("wal: pad block: %w", err)
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		fragLen := len(data)
		end := true
		if fragLen > avail {
			fragLen = avail
			end = false
		}

		var typ FragmentType
		switch {
		case begin && end:
			typ = FragmentFull
		case begin:
			typ = FragmentFirst
		case end:
			typ = FragmentLast
		default:
			typ = FragmentMiddle
		}

		if err := w.emitPhysicalRecord(typ, data[:fragLen]); err != nil {
			return err
		}
		data = data[fragLen:]
		begin = false
		if len(data) == 0 {
			return nil
		}
	}
}

func (w *Writer) emitPhysicalRecord(typ FragmentType, data []byte) error {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint16(header[4:6], uint16(len(data)))
	header[6] = byte(typ)

	crc := crc32.Update(0, crcTable, []byte{byte(typ)})
	crc = crc32.Update(crc, crcTable, data)
	binary.LittleEndian.PutUint32(header[0:4], maskCRC(crc))

	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("wal: write record header: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("wal: write record data: %w", err)
	}
	w.blockOffset += HeaderSize + len(data)
	return nil
}

// Sync flushes buffered data and fsyncs the file.
func (w *Writer) Sync() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes, syncs, and closes the segment file.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Reader reads records back out of a segment, reassembling fragments
// and resynchronizing to the next block boundary if it encounters a
// corrupted physical record.
type Reader struct {
	*Segment
	r   io.Reader
	buf []byte // current block's remaining unread bytes

	eof bool
}

// OpenSegmentForRead opens an existing segment file for reading.
func OpenSegmentForRead(path string) (*Reader, error) {
	file, err := sys.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment file %s: %w", path, err)
	}

	var header kvcore.FileHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		file.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("wal: segment %s is empty or truncated at header: %w", path, kvcore.ErrCorruption)
		}
		return nil, fmt.Errorf("wal: read segment header from %s: %w", path, err)
	}
	if header.Magic != kvcore.WALMagicNumber {
		file.Close()
		return nil, fmt.Errorf("wal: invalid magic in segment %s: got %x, want %x: %w", path, header.Magic, kvcore.WALMagicNumber, kvcore.ErrCorruption)
	}

	index, err := kvcore.ParseSegmentFileName(filepath.Base(path))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: parse segment index from %s: %w", path, err)
	}

	return &Reader{
		Segment: &Segment{file: file, path: path, index: index},
		r:       file,
	}, nil
}

// fillBlock reads up to BlockSize bytes into r.buf. A short final read
// (end of file mid-block) is not an error; it just yields a partial
// trailing block.
func (r *Reader) fillBlock() error {
	block := make([]byte, BlockSize)
	n, err := io.ReadFull(r.r, block)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	if n == 0 {
		r.eof = true
		r.buf = nil
		return io.EOF
	}
	r.buf = block[:n]
	if n < BlockSize {
		r.eof = true // no more blocks after this short one
	}
	return nil
}

// readPhysicalRecord reads one header+data fragment, skipping forward
// to the next block boundary if the checksum doesn't match (the
// record's length byte or type byte was itself corrupted, so trusting
// the length to locate the next record isn't safe).
func (r *Reader) readPhysicalRecord() (FragmentType, []byte, error) {
	for {
		if len(r.buf) < HeaderSize {
			if r.eof {
				return FragmentZero, nil, io.EOF
			}
			if err := r.fillBlock(); err != nil {
				return FragmentZero, nil, err
			}
			if len(r.buf) < HeaderSize {
				// Trailing partial header: treat the rest of the file
				// as zero padding and stop.
				return FragmentZero, nil, io.EOF
			}
		}

		maskedCRC := binary.LittleEndian.Uint32(r.buf[0:4])
		length := binary.LittleEndian.Uint16(r.buf[4:6])
		typ := FragmentType(r.buf[6])

		if maskedCRC == 0 && length == 0 && typ == FragmentZero {
			// Zero-padded tail of the block; nothing more to read here.
			r.buf = nil
			continue
		}

		if int(HeaderSize)+int(length) > len(r.buf) {
			// Truncated write (e.g. a crash mid-record). Drop the rest
			// of this block and report EOF.
			r.buf = nil
			return FragmentZero, nil, io.EOF
		}

		data := r.buf[HeaderSize : HeaderSize+int(length)]
		crc := crc32.Update(0, crcTable, []byte{byte(typ)})
		crc = crc32.Update(crc, crcTable, data)
		if maskCRC(crc) != maskedCRC {
			// Corrupted fragment: resynchronize by discarding the rest
			// of this block (the length field itself may be the
			// corrupted byte, so we cannot trust it to skip just this
			// record) and continue with the next block.
			r.buf = nil
			continue
		}

		r.buf = r.buf[HeaderSize+int(length):]
		return typ, data, nil
	}
}

// ReadRecord reads and reassembles the next logical record, returning
// io.EOF once no more records remain.
func (r *Reader) ReadRecord() ([]byte, error) {
	var record []byte
	inFragment := false
	for {
		typ, data, err := r.readPhysicalRecord()
		if err != nil {
			if err == io.EOF {
				if inFragment {
					// A First/Middle fragment with no Last: the writer
					// crashed mid-record. Treat as end of valid data.
					return nil, io.EOF
				}
				return nil, io.EOF
			}
			return nil, err
		}

		switch typ {
		case FragmentFull:
			return data, nil
		case FragmentFirst:
			record = append([]byte(nil), data...)
			inFragment = true
		case FragmentMiddle:
			if !inFragment {
				continue // orphaned fragment; skip
			}
			record = append(record, data...)
		case FragmentLast:
			if !inFragment {
				continue
			}
			record = append(record, data...)
			return record, nil
		}
	}
}

// Close closes the segment file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
