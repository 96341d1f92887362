// Package riegeli implements the record layer: RecordWriter and
// RecordReader buffer records into chunks, hand them to the block-framing
// layer, and expose stable per-record positions and seeking.
package riegeli

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/chunk"
	"github.com/dyu/riegeli/compress"
	"github.com/dyu/riegeli/internal/base"
)

// Options configures a RecordWriter or RecordReader.
type Options struct {
	// Compression selects the codec used for chunk payloads.
	Compression compress.Options
	// Transpose selects the Transpose chunk encoder over Simple.
	Transpose bool
	// ChunkSize is the approximate number of uncompressed record bytes
	// buffered before a chunk is closed and handed to the ChunkWriter.
	ChunkSize int
	// Parallelism, when > 1, enables the parallel-chunks pipeline: chunks
	// are encoded on up to Parallelism worker goroutines while being
	// written to the ChunkWriter in submission order.
	Parallelism int
	// PadToBlockBoundary emits a padding chunk before closing so the file
	// ends on a 64 KiB boundary.
	PadToBlockBoundary bool

	// SkipErrors enables the reader's corruption-recovery policy: a
	// corrupt chunk is counted and skipped rather than failing the reader.
	SkipErrors bool
	// FieldFilter restricts which protobuf fields a Transpose-encoded file
	// decodes; nil decodes every field.
	FieldFilter *chunk.FieldFilter

	// Logger receives a line each time SkipErrors recovers from a corrupt
	// chunk, and is where an unrecoverable invariant violation is reported
	// before the process terminates. Defaults to base.DefaultLogger.
	Logger base.Logger
}

// DefaultOptions returns zstd compression, Simple encoding, no
// parallelism: the baseline every other configuration is a variation on.
func DefaultOptions() Options {
	return Options{
		Compression: compress.DefaultOptions(),
		ChunkSize:   1 << 20,
		Logger:      base.DefaultLogger{},
	}
}

// ParseOptions parses a compressor-options string plus the
// riegeli-specific "transpose" token, and applies it on top of
// DefaultOptions.
func ParseOptions(text string) (Options, error) {
	opts := DefaultOptions()
	if text == "" {
		return opts, nil
	}
	var compressorParts []string
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "transpose" {
			opts.Transpose = true
			continue
		}
		if strings.HasPrefix(part, "chunk_size:") {
			n, err := strconv.Atoi(strings.TrimPrefix(part, "chunk_size:"))
			if err != nil {
				return Options{}, errors.Newf("riegeli: invalid chunk_size option %q", part)
			}
			opts.ChunkSize = n
			continue
		}
		if strings.HasPrefix(part, "parallelism:") {
			n, err := strconv.Atoi(strings.TrimPrefix(part, "parallelism:"))
			if err != nil {
				return Options{}, errors.Newf("riegeli: invalid parallelism option %q", part)
			}
			opts.Parallelism = n
			continue
		}
		// Everything else, including "window_log:...", belongs to the
		// compressor-options grammar; collect it and parse as one string
		// so window_log and codec selection compose regardless of order.
		compressorParts = append(compressorParts, part)
	}
	if len(compressorParts) > 0 {
		co, err := compress.ParseOptions(strings.Join(compressorParts, ","))
		if err != nil {
			return Options{}, err
		}
		opts.Compression = co
	}
	return opts, nil
}

// RecordPosition addresses a record by the chunk that contains it and its
// index within that chunk.
type RecordPosition struct {
	ChunkBegin  int64
	RecordIndex int
}
