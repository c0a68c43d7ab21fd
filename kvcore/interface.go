package kvcore

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// SSTableWriterInterface is the table builder's public surface, kept as
// an interface so tests can substitute a mock writer.
type SSTableWriterInterface interface {
	Add(internalKey, value []byte) error
	Finish() error
	Abort() error
	FilePath() string
	CurrentSize() int64
}

// SSTableWriterOptions configures a new table builder.
type SSTableWriterOptions struct {
	DataDir                      string
	ID                           uint64
	EstimatedKeys                uint64
	BloomFilterFalsePositiveRate float64
	BlockSize                    int
	RestartInterval              int
	Tracer                       trace.Tracer
	Compressor                   Compressor
	Logger                       *slog.Logger
}

type SSTableWriterFactory func(opts SSTableWriterOptions) (SSTableWriterInterface, error)

type SSTableNextIDFactory func() uint64
