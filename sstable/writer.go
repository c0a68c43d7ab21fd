package sstable

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nexusdb/lsmkv/filter"
	"github.com/nexusdb/lsmkv/internalkey"
	"github.com/nexusdb/lsmkv/kvcore"
	"github.com/nexusdb/lsmkv/sys"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// SSTableWriter builds one immutable table file: a sequence of
// restart-point data blocks, a filter block, a metaindex block, an
// index block, and a fixed 48-byte footer. Grounded on nexusbase's
// sstable.SSTableWriter for the temp-file-then-rename lifecycle,
// OpenTelemetry span instrumentation, and slog logging; the block/
// filter/footer framing itself follows LevelDB's table_builder.cc
// (_examples/original_source/table/table_builder.cc).
type SSTableWriter struct {
	mu sync.Mutex

	filePath string
	file     sys.FileHandle
	offset   int64

	dataBlock  *BlockBuilder
	indexBlock *IndexBuilder
	filter     *filter.Builder

	blockSize       int
	restartInterval int
	compressor      kvcore.Compressor

	firstKeyInBlock []byte
	lastKey         []byte
	pendingHandle   BlockHandle
	havePending     bool

	minKey []byte
	maxKey []byte

	tracer trace.Tracer
	logger *slog.Logger
}

// NewSSTableWriter creates a writer backed by a temporary file under
// opts.DataDir; Finish renames it to its final ".sst" name.
func NewSSTableWriter(opts kvcore.SSTableWriterOptions) (kvcore.SSTableWriterInterface, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Compressor == nil {
		return nil, fmt.Errorf("sstable: NewSSTableWriter requires a non-nil compressor")
	}
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	restartInterval := opts.RestartInterval
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}

	tempFilePath := filepath.Join(opts.DataDir, fmt.Sprintf("%d.tmp", opts.ID))
	f, err := sys.OpenFile(tempFilePath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sstable: create temp file %s: %w", tempFilePath, err)
	}

	header := kvcore.NewFileHeader(kvcore.SSTableMagicNumber, opts.Compressor.Type())
	if err := binary.Write(f, binary.LittleEndian, &header); err != nil {
		f.Close()
		sys.Remove(tempFilePath)
		return nil, fmt.Errorf("sstable: write file header: %w", err)
	}

	bitsPerKey := filter.EstimateBitsPerKey(opts.BloomFilterFalsePositiveRate)

	w := &SSTableWriter{
		filePath:        tempFilePath,
		file:            f,
		offset:          int64(header.Size()),
		dataBlock:       NewBlockBuilder(restartInterval),
		indexBlock:      NewIndexBuilder(restartInterval),
		filter:          filter.NewBuilder(filter.NewPolicy(bitsPerKey)),
		blockSize:       blockSize,
		restartInterval: restartInterval,
		compressor:      opts.Compressor,
		tracer:          opts.Tracer,
		logger:          opts.Logger,
	}
	w.filter.StartBlock(uint64(w.offset))
	return w, nil
}

// Add inserts one internal-key/value entry. Keys must arrive in
// strictly increasing internal-key order.
func (w *SSTableWriter) Add(internalKey, value []byte) error {
	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "SSTableWriter.Add")
		defer span.End()
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.havePending {
		w.indexBlock.Add(w.pendingLastKeyCopy(), internalKey, w.pendingHandle)
		w.havePending = false
	}

	// The filter is probed with bare user keys at read time (Get takes
	// a user key, not an internal key), so it is built from user keys
	// too — mirroring LevelDB's InternalFilterPolicy, which strips the
	// seq/type trailer before delegating to the configured policy.
	w.filter.AddKey(internalkey.UserKey(internalKey))
	w.dataBlock.Add(internalKey, value)

	if w.firstKeyInBlock == nil {
		w.firstKeyInBlock = append([]byte(nil), internalKey...)
	}
	w.lastKey = append(w.lastKey[:0], internalKey...)

	if w.minKey == nil {
		w.minKey = append([]byte(nil), internalKey...)
	}
	w.maxKey = append(w.maxKey[:0], internalKey...)

	if w.dataBlock.CurrentSizeEstimate() >= w.blockSize {
		if err := w.flush(); err != nil {
			if span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
	return nil
}

// pendingLastKeyCopy exists so index.Add's lastKey argument doesn't
// alias w.lastKey, which flush() mutates right after the call.
func (w *SSTableWriter) pendingLastKeyCopy() []byte {
	return append([]byte(nil), w.lastKey...)
}

// flush writes the current data block to the file as a raw block
// (compressed, falling back to uncompressed when compression saves
// less than 1/8), records its handle as pending for the next index
// entry, and starts a fresh filter region.
func (w *SSTableWriter) flush() error {
	if w.dataBlock.Empty() {
		return nil
	}
	raw := w.dataBlock.Finish()

	compressed, err := w.compressor.Compress(raw)
	if err != nil {
		return fmt.Errorf("sstable: compress block: %w", err)
	}
	payload := compressed
	compressionByte := byte(w.compressor.Type())
	if w.compressor.Type() != kvcore.CompressionNone && len(compressed) > len(raw)-len(raw)/8 {
		payload = raw
		compressionByte = byte(kvcore.CompressionNone)
	}

	handle := BlockHandle{Offset: uint64(w.offset), Size: uint64(len(payload) + BlockTrailerSize)}

	out := make([]byte, 0, len(payload)+BlockTrailerSize)
	out = append(out, payload...)
	out = writeBlockTrailer(out, payload, compressionByte)

	n, err := w.file.Write(out)
	if err != nil {
		return fmt.Errorf("sstable: write data block at offset %d: %w", w.offset, err)
	}
	w.offset += int64(n)

	w.pendingHandle = handle
	w.havePending = true
	w.firstKeyInBlock = nil
	w.dataBlock.Reset()
	w.filter.StartBlock(uint64(w.offset))
	return nil
}

// Finish flushes the final data block, writes the filter, metaindex,
// and index blocks, writes the footer, syncs, closes, and renames the
// temp file to its final ".sst" path.
func (w *SSTableWriter) Finish() error {
	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "SSTableWriter.Finish")
		defer span.End()
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flush(); err != nil {
		w.abort()
		return fmt.Errorf("sstable: flush final block: %w", err)
	}
	if w.havePending {
		w.indexBlock.Add(w.pendingLastKeyCopy(), nil, w.pendingHandle)
		w.havePending = false
	}

	var filterBytes, indexBytes []byte
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		filterBytes = w.filter.Finish()
		return nil
	})
	g.Go(func() error {
		indexBytes = w.indexBlock.Finish()
		return nil
	})
	_ = g.Wait()

	filterHandle, err := w.writeRawBlock(filterBytes, kvcore.CompressionNone)
	if err != nil {
		w.abort()
		return fmt.Errorf("sstable: write filter block: %w", err)
	}

	metaBuilder := NewBlockBuilder(w.restartInterval)
	metaBuilder.Add([]byte(filterMetaindexKey), filterHandle.EncodeTo(nil))
	metaindexHandle, err := w.writeRawBlock(metaBuilder.Finish(), kvcore.CompressionNone)
	if err != nil {
		w.abort()
		return fmt.Errorf("sstable: write metaindex block: %w", err)
	}

	indexHandle, err := w.writeRawBlock(indexBytes, kvcore.CompressionNone)
	if err != nil {
		w.abort()
		return fmt.Errorf("sstable: write index block: %w", err)
	}

	footer := Footer{MetaindexHandle: metaindexHandle, IndexHandle: indexHandle}
	encoded := footer.EncodeTo()
	if _, err := w.file.Write(encoded[:]); err != nil {
		w.abort()
		return fmt.Errorf("sstable: write footer: %w", err)
	}
	w.offset += int64(len(encoded))

	if err := w.file.Sync(); err != nil {
		w.abort()
		return fmt.Errorf("sstable: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		w.logger.Warn("sstable: close after finish", "error", err)
	}
	w.file = nil

	if err := sys.GC(); err != nil {
		w.logger.Warn("sstable: GC before rename", "error", err)
	}

	finalPath := w.filePath[:len(w.filePath)-len(filepath.Ext(w.filePath))] + ".sst"
	const maxRetries = 5
	var renameErr error
	for i := 0; i < maxRetries; i++ {
		if renameErr = os.Rename(w.filePath, finalPath); renameErr == nil {
			break
		}
		w.logger.Warn("sstable: rename retry", "from", w.filePath, "to", finalPath, "attempt", i+1, "error", renameErr)
		time.Sleep(50 * time.Millisecond)
	}
	if renameErr != nil {
		w.abort()
		return fmt.Errorf("sstable: rename %s to %s: %w", w.filePath, finalPath, renameErr)
	}
	w.filePath = finalPath

	if span != nil {
		span.SetAttributes(
			attribute.String("sstable.final_path", finalPath),
			attribute.Int64("sstable.size_bytes", w.offset),
		)
	}
	return nil
}

// writeRawBlock writes data uncompressed (filter/metaindex/index
// blocks are never compressed) with its trailer, returning its handle.
func (w *SSTableWriter) writeRawBlock(data []byte, compression kvcore.CompressionType) (BlockHandle, error) {
	handle := BlockHandle{Offset: uint64(w.offset), Size: uint64(len(data) + BlockTrailerSize)}
	out := make([]byte, 0, len(data)+BlockTrailerSize)
	out = append(out, data...)
	out = writeBlockTrailer(out, data, byte(compression))
	n, err := w.file.Write(out)
	if err != nil {
		return BlockHandle{}, err
	}
	w.offset += int64(n)
	return handle, nil
}

func (w *SSTableWriter) abort() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
		sys.GC()
	}
	if w.filePath == "" {
		return nil
	}
	const maxRetries = 5
	var removeErr error
	for i := 0; i < maxRetries; i++ {
		removeErr = sys.Remove(w.filePath)
		if removeErr == nil || os.IsNotExist(removeErr) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("sstable: remove temp file %s: %w", w.filePath, removeErr)
	}
	w.filePath = ""
	return nil
}

// Abort discards the writer and removes its temporary file.
func (w *SSTableWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.abort()
}

// FilePath returns the writer's current file path (temp path until
// Finish succeeds, final path afterward).
func (w *SSTableWriter) FilePath() string { return w.filePath }

// CurrentSize returns the number of bytes written to the file so far.
func (w *SSTableWriter) CurrentSize() int64 { return w.offset }
