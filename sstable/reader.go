package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nexusdb/lsmkv/cache"
	"github.com/nexusdb/lsmkv/filter"
	"github.com/nexusdb/lsmkv/internalkey"
	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/nexusdb/lsmkv/sys"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SSTable is an open, immutable table file ready for point lookups and
// iteration. Grounded on nexusbase's sstable.SSTable for the block-cache
// integration, OpenTelemetry spans, and slog logging idiom; the on-disk
// layout it parses follows LevelDB's table/table.cc
// (_examples/original_source/table/table.cc).
type SSTable struct {
	mu       sync.RWMutex
	file     sys.FileHandle
	filePath string
	id       uint64

	index  *Index
	filter *filter.Reader
	minKey []byte // internal key of the first entry
	maxKey []byte // internal key of the last entry
	size   int64

	blockCache cache.Interface
	tracer     trace.Tracer
	logger     *slog.Logger

	closed atomic.Bool
}

// LoadSSTableOptions configures LoadSSTable.
type LoadSSTableOptions struct {
	FilePath   string
	ID         uint64
	BlockCache cache.Interface
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// LoadSSTable opens an existing table file, validates its header and
// footer, and loads its index and filter blocks into memory.
func LoadSSTable(opts LoadSSTableOptions) (sst *SSTable, err error) {
	var span trace.Span
	if opts.Tracer != nil {
		_, span = opts.Tracer.Start(context.Background(), "SSTable.LoadSSTable")
		span.SetAttributes(attribute.String("sstable.filepath", opts.FilePath), attribute.Int64("sstable.id", int64(opts.ID)))
		defer span.End()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("sstable_id", opts.ID)

	f, err := sys.Open(opts.FilePath)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", opts.FilePath, err)
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	var header kvcore.FileHeader
	headerBuf := make([]byte, header.Size())
	if _, err = io.ReadFull(f, headerBuf); err != nil {
		return nil, fmt.Errorf("sstable: read header from %s: %w", opts.FilePath, err)
	}
	if err = binary.Read(bytes.NewReader(headerBuf), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("sstable: parse header from %s: %w", opts.FilePath, err)
	}
	if header.Magic != kvcore.SSTableMagicNumber {
		return nil, fmt.Errorf("sstable: bad magic in %s (got %#x, want %#x): %w", opts.FilePath, header.Magic, kvcore.SSTableMagicNumber, ErrCorrupted)
	}

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("sstable: stat %s: %w", opts.FilePath, err)
	}
	fileSize := stat.Size()
	if fileSize < int64(header.Size()+FooterSize) {
		return nil, fmt.Errorf("sstable: %s too small (%d bytes) to be valid: %w", opts.FilePath, fileSize, ErrCorrupted)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err = f.ReadAt(footerBuf, fileSize-int64(FooterSize)); err != nil {
		return nil, fmt.Errorf("sstable: read footer from %s: %w", opts.FilePath, err)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", opts.FilePath, err)
	}

	sst = &SSTable{
		file:       f,
		filePath:   opts.FilePath,
		id:         opts.ID,
		size:       fileSize,
		blockCache: opts.BlockCache,
		tracer:     opts.Tracer,
		logger:     logger,
	}

	metaindexRaw, err := sst.readRawBlock(footer.MetaindexHandle)
	if err != nil {
		return nil, fmt.Errorf("sstable: read metaindex block from %s: %w", opts.FilePath, err)
	}
	metaIt, err := NewBlockIterator(metaindexRaw, bytes.Compare)
	if err != nil {
		return nil, fmt.Errorf("sstable: parse metaindex block from %s: %w", opts.FilePath, err)
	}
	for metaIt.Next() {
		if string(metaIt.Key()) == filterMetaindexKey {
			filterHandle, _, decErr := DecodeBlockHandle(metaIt.Value())
			if decErr != nil {
				return nil, fmt.Errorf("sstable: decode filter handle in %s: %w", opts.FilePath, decErr)
			}
			filterRaw, readErr := sst.readRawBlock(filterHandle)
			if readErr != nil {
				return nil, fmt.Errorf("sstable: read filter block from %s: %w", opts.FilePath, readErr)
			}
			fr, frErr := filter.NewReader(filterRaw)
			if frErr != nil {
				return nil, fmt.Errorf("sstable: parse filter block from %s: %w", opts.FilePath, frErr)
			}
			sst.filter = fr
			break
		}
	}
	if metaIt.Error() != nil {
		return nil, fmt.Errorf("sstable: iterate metaindex block in %s: %w", opts.FilePath, metaIt.Error())
	}

	indexRaw, err := sst.readRawBlock(footer.IndexHandle)
	if err != nil {
		return nil, fmt.Errorf("sstable: read index block from %s: %w", opts.FilePath, err)
	}
	sst.index = NewIndex(indexRaw)

	if err = sst.loadMinMaxKeys(); err != nil {
		return nil, fmt.Errorf("sstable: determine min/max keys in %s: %w", opts.FilePath, err)
	}

	return sst, nil
}

// loadMinMaxKeys reads the first entry of the first data block and the
// last entry of the last data block to learn the table's key range,
// since the 48-byte footer (unlike nexusbase's original footer) does
// not carry min/max keys directly.
func (s *SSTable) loadMinMaxKeys() error {
	it, err := s.index.Iterator()
	if err != nil {
		return err
	}
	if !it.Next() {
		return it.Error()
	}
	firstHandle, _, err := DecodeBlockHandle(it.Value())
	if err != nil {
		return err
	}
	firstBlock, err := s.readDataBlock(firstHandle, nil)
	if err != nil {
		return err
	}
	firstIt, err := NewBlockIterator(firstBlock, internalkey.CompareBytewise)
	if err != nil {
		return err
	}
	if !firstIt.Next() {
		if firstIt.Error() != nil {
			return firstIt.Error()
		}
		return fmt.Errorf("sstable: first data block is empty")
	}
	s.minKey = append([]byte(nil), firstIt.Key()...)

	var lastHandle BlockHandle
	for it.Next() {
		lastHandle, _, err = DecodeBlockHandle(it.Value())
		if err != nil {
			return err
		}
	}
	if it.Error() != nil {
		return it.Error()
	}
	if lastHandle == (BlockHandle{}) {
		lastHandle = firstHandle
	}
	lastBlock, err := s.readDataBlock(lastHandle, nil)
	if err != nil {
		return err
	}
	lastIt, err := NewBlockIterator(lastBlock, internalkey.CompareBytewise)
	if err != nil {
		return err
	}
	var lastKey []byte
	for lastIt.Next() {
		lastKey = lastIt.Key()
	}
	if lastIt.Error() != nil {
		return lastIt.Error()
	}
	s.maxKey = append([]byte(nil), lastKey...)
	return nil
}

// Get looks up the most recent version of key visible at or before
// seq. found is false if the table holds no version of key with a
// sequence number <= seq; when found is true and tombstone is true the
// live version is a deletion marker.
func (s *SSTable) Get(key []byte, seq uint64) (value []byte, found, tombstone bool, err error) {
	if s.closed.Load() {
		return nil, false, false, ErrClosed
	}
	var span trace.Span
	if s.tracer != nil {
		_, span = s.tracer.Start(context.Background(), "SSTable.Get")
		defer span.End()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return nil, false, false, ErrClosed
	}

	if s.minKey != nil && bytes.Compare(key, internalkey.UserKey(s.minKey)) < 0 {
		return nil, false, false, nil
	}
	if s.maxKey != nil && bytes.Compare(key, internalkey.UserKey(s.maxKey)) > 0 {
		return nil, false, false, nil
	}

	lookupKey := internalkey.Make(key, seq, kvcore.TypeForSeek)
	handle, ok, err := s.index.Find(lookupKey)
	if err != nil {
		return nil, false, false, fmt.Errorf("sstable: index lookup: %w", err)
	}
	if !ok {
		return nil, false, false, nil
	}

	if s.filter != nil && !s.filter.MayContain(handle.Offset, key) {
		if span != nil {
			span.SetAttributes(attribute.Bool("sstable.filter.rejected", true))
		}
		return nil, false, false, nil
	}

	raw, err := s.readDataBlock(handle, nil)
	if err != nil {
		return nil, false, false, fmt.Errorf("sstable: read data block: %w", err)
	}
	it, err := NewBlockIterator(raw, internalkey.CompareBytewise)
	if err != nil {
		return nil, false, false, err
	}
	if !it.Seek(lookupKey) {
		if it.Error() != nil {
			return nil, false, false, it.Error()
		}
		return nil, false, false, nil
	}
	userKey, entrySeq, vt, okParse := internalkey.Parse(it.Key())
	if !okParse || !bytes.Equal(userKey, key) || entrySeq > seq {
		return nil, false, false, nil
	}
	if vt == kvcore.TypeDelete {
		return nil, true, true, nil
	}
	return append([]byte(nil), it.Value()...), true, false, nil
}

// Contains reports whether key might be present, consulting only the
// filter block (or true, forcing a disk read, if no filter was built).
func (s *SSTable) Contains(key []byte) bool {
	if s.filter == nil || s.index == nil {
		return true
	}
	handle, ok, err := s.index.Find(internalkey.Make(key, internalkey.MaxSeq, kvcore.TypeForSeek))
	// MaxSeq ensures the lookup key sorts before every real entry for key,
	// no matter which snapshot wrote it, matching the filter-only,
	// version-agnostic semantics Contains promises.
	if err != nil || !ok {
		return true
	}
	return s.filter.MayContain(handle.Offset, key)
}

// readRawBlock reads handle's bytes (payload + trailer) and verifies
// the trailer checksum, returning the raw (possibly compressed) payload
// decompressed according to its stored compression type.
func (s *SSTable) readRawBlock(handle BlockHandle) ([]byte, error) {
	buf := make([]byte, handle.Size)
	if _, err := s.file.ReadAt(buf, int64(handle.Offset)); err != nil {
		return nil, fmt.Errorf("read at offset %d: %w", handle.Offset, err)
	}
	if len(buf) < BlockTrailerSize {
		return nil, fmt.Errorf("block at offset %d shorter than trailer size: %w", handle.Offset, ErrCorrupted)
	}
	payload := buf[:len(buf)-BlockTrailerSize]
	trailer := buf[len(buf)-BlockTrailerSize:]
	compressionByte, err := verifyBlockTrailer(payload, trailer)
	if err != nil {
		return nil, err
	}
	return decompress(payload, kvcore.CompressionType(compressionByte))
}

// readDataBlock is readRawBlock plus the shared block cache, used for
// every data-block read (unlike filter/metaindex/index, which are read
// once at load time).
func (s *SSTable) readDataBlock(handle BlockHandle, sem chan struct{}) ([]byte, error) {
	if sem != nil {
		sem <- struct{}{}
		defer func() { <-sem }()
	}
	if s.blockCache != nil {
		cacheKey := fmt.Sprintf("%d-%d", s.id, handle.Offset)
		if cached, ok := s.blockCache.Get(cacheKey); ok {
			if data, ok := cached.([]byte); ok {
				return data, nil
			}
		}
		data, err := s.readRawBlock(handle)
		if err != nil {
			return nil, err
		}
		s.blockCache.Put(cacheKey, data)
		return data, nil
	}
	return s.readRawBlock(handle)
}

func decompress(payload []byte, compressionType kvcore.CompressionType) ([]byte, error) {
	if compressionType == kvcore.CompressionNone {
		return payload, nil
	}
	compressor, err := GetCompressor(compressionType)
	if err != nil {
		return nil, err
	}
	r, err := compressor.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("decompress block: %w", err)
	}
	defer r.Close()

	buf := kvcore.BufferPool.Get()
	defer kvcore.BufferPool.Put(buf)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("copy decompressed block: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// NewIterator returns a bidirectional iterator over the table's
// entries, optionally seeking to startKey. If startKey is nil, the
// iterator is left unpositioned: the first call to Next (or Prev)
// positions it at the first (or last) entry.
func (s *SSTable) NewIterator(startKey []byte) (*TableIterator, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	it, err := newTableIterator(s)
	if err != nil {
		return nil, err
	}
	if startKey != nil {
		it.Seek(startKey)
	}
	return it, nil
}

// GetIndex returns the table's loaded index block, for introspection.
func (s *SSTable) GetIndex() *Index { return s.index }

// Close closes the underlying file. Idempotent.
func (s *SSTable) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *SSTable) MinKey() []byte   { return s.minKey }
func (s *SSTable) MaxKey() []byte   { return s.maxKey }
func (s *SSTable) Size() int64      { return s.size }
func (s *SSTable) ID() uint64       { return s.id }
func (s *SSTable) FilePath() string { return s.filePath }

// VerifyIntegrity checks internal consistency: min <= max, the index's
// separators are strictly increasing, and (if deepCheck) every Bloom
// filter bit implied by a scan of the table's own keys is actually set.
func (s *SSTable) VerifyIntegrity(deepCheck bool) []error {
	if s.closed.Load() {
		return []error{ErrClosed}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []error
	if s.minKey != nil && s.maxKey != nil && internalkey.CompareBytewise(s.minKey, s.maxKey) > 0 {
		errs = append(errs, fmt.Errorf("sstable %d: minKey sorts after maxKey", s.id))
	}

	it, err := s.index.Iterator()
	if err != nil {
		return append(errs, fmt.Errorf("sstable %d: index iterator: %w", s.id, err))
	}
	var prevKey []byte
	for it.Next() {
		if prevKey != nil && internalkey.CompareBytewise(prevKey, it.Key()) >= 0 {
			errs = append(errs, fmt.Errorf("sstable %d: index separators out of order", s.id))
		}
		prevKey = append(prevKey[:0], it.Key()...)
	}
	if it.Error() != nil {
		errs = append(errs, fmt.Errorf("sstable %d: index iteration: %w", s.id, it.Error()))
	}

	if deepCheck && s.filter != nil {
		tableIt, err := s.NewIterator(nil)
		if err != nil {
			return append(errs, fmt.Errorf("sstable %d: table iterator: %w", s.id, err))
		}
		defer tableIt.Close()
		for tableIt.Next() {
			ikey, _ := tableIt.At()
			userKey := internalkey.UserKey(ikey)
			if !s.Contains(userKey) {
				errs = append(errs, fmt.Errorf("sstable %d: filter false negative for key %q", s.id, userKey))
			}
		}
		if tableIt.Error() != nil {
			errs = append(errs, fmt.Errorf("sstable %d: deep scan: %w", s.id, tableIt.Error()))
		}
	}
	return errs
}
