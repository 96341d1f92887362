package riegeli

import (
	"bytes"
	"context"
	"io"

	"github.com/dyu/riegeli/chunk"
	"github.com/dyu/riegeli/internal/base"
	"github.com/dyu/riegeli/wire"
	"golang.org/x/sync/semaphore"
)

// recordEncoder is the contract shared by SimpleEncoder and
// TransposeEncoder, letting RecordWriter pick either without caring which.
type recordEncoder interface {
	AddRecord(data []byte) error
	EncodeAndClose(dst io.Writer) (numRecords, decodedDataSize uint64, err error)
}

// chunkJob is one chunk's encode-then-write unit of work in the parallel
// pipeline: the worker pool fills in body/numRecords/decodedDataSize/err
// concurrently, and the sequencer goroutine drains jobs in submission
// order so ChunkWriter always sees chunks in the order they were closed.
type chunkJob struct {
	body            bytes.Buffer
	numRecords      uint64
	decodedDataSize uint64
	err             error
	done            chan struct{}
}

// RecordWriter buffers records into chunks and writes them through a
// ChunkWriter, optionally encoding chunks on a bounded worker pool while
// preserving submission order.
type RecordWriter struct {
	base.Object
	opts Options
	cw   *wire.ChunkWriter

	cur            recordEncoder
	pendingBytes   int
	pendingRecords int

	sem           *semaphore.Weighted
	jobsCh        chan *chunkJob
	sequencerDone chan struct{}
	sequencerErr  error
}

func newRecordEncoder(opts Options) recordEncoder {
	if opts.Transpose {
		return chunk.NewTransposeEncoder(opts.Compression)
	}
	enc, err := chunk.NewSimpleEncoder(opts.Compression)
	if err != nil {
		// opts.Compression is always validated by ParseOptions/DefaultOptions
		// before reaching here; a failure means a caller built Options by
		// hand with a type the compressor doesn't recognize.
		logger := opts.Logger
		if logger == nil {
			logger = base.DefaultLogger{}
		}
		logger.Fatalf("riegeli: %v", err)
	}
	return enc
}

// NewRecordWriter returns a RecordWriter over dst. The file signature
// chunk is written immediately.
func NewRecordWriter(dst io.Writer, opts Options) (*RecordWriter, error) {
	w := &RecordWriter{opts: opts, cw: wire.NewChunkWriter(dst)}
	if err := w.cw.WriteChunk(0, 0, []byte{byte(chunk.FileSignature)}); err != nil {
		return nil, err
	}
	if opts.Parallelism > 1 {
		w.sem = semaphore.NewWeighted(int64(opts.Parallelism))
		w.jobsCh = make(chan *chunkJob, opts.Parallelism*2)
		w.sequencerDone = make(chan struct{})
		go w.runSequencer()
	}
	w.cur = newRecordEncoder(opts)
	return w, nil
}

// runSequencer drains jobsCh in FIFO order, waiting for each job's worker
// to finish before writing it, so chunks always land on the ChunkWriter in
// the order they were submitted even though they were encoded out of
// order. A worker or write failure fails w immediately, rather than only
// being noticed at Close, so AddRecord/Flush stop accepting records as
// soon as the pipeline is broken instead of silently discarding them.
func (w *RecordWriter) runSequencer() {
	defer close(w.sequencerDone)
	for job := range w.jobsCh {
		<-job.done
		if job.err != nil {
			if w.sequencerErr == nil {
				w.sequencerErr = job.err
			}
			w.Fail(job.err)
			continue
		}
		if w.sequencerErr != nil {
			continue
		}
		if err := w.cw.WriteChunk(job.numRecords, job.decodedDataSize, job.body.Bytes()); err != nil {
			w.sequencerErr = err
			w.Fail(err)
		}
	}
}

// Position returns the position the next record added via AddRecord will
// occupy: the chunk-begin offset of the chunk currently being accumulated,
// plus its index within that chunk. Mirrors RecordReader.Position's
// (chunk_begin, record_index) addressing.
//
// With Options.Parallelism enabled, chunks are encoded and written out of
// band by the worker pool, so the chunk-begin offset of the
// currently-accumulating chunk is only final once every chunk submitted
// ahead of it has actually been written; Close (or draining the pipeline)
// is required before a position observed mid-stream is guaranteed stable.
func (w *RecordWriter) Position() RecordPosition {
	return RecordPosition{ChunkBegin: w.cw.Pos(), RecordIndex: w.pendingRecords}
}

// AddRecord appends one record, closing the current chunk first if it has
// grown past Options.ChunkSize.
func (w *RecordWriter) AddRecord(data []byte) error {
	if !w.Healthy() {
		return w.Err()
	}
	if w.opts.ChunkSize > 0 && w.pendingBytes > 0 && w.pendingBytes+len(data) > w.opts.ChunkSize {
		if err := w.closeChunk(); err != nil {
			return w.Fail(err)
		}
	}
	if err := w.cur.AddRecord(data); err != nil {
		return w.Fail(err)
	}
	w.pendingBytes += len(data)
	w.pendingRecords++
	return nil
}

// closeChunk finalizes the current chunk and starts a new one, either
// synchronously or by submitting it to the parallel pipeline.
func (w *RecordWriter) closeChunk() error {
	enc := w.cur
	w.cur = newRecordEncoder(w.opts)
	w.pendingBytes = 0
	w.pendingRecords = 0

	if w.jobsCh == nil {
		var body bytes.Buffer
		numRecords, decodedDataSize, err := enc.EncodeAndClose(&body)
		if err != nil {
			return err
		}
		if numRecords == 0 {
			return nil
		}
		return w.cw.WriteChunk(numRecords, decodedDataSize, body.Bytes())
	}

	job := &chunkJob{done: make(chan struct{})}
	w.jobsCh <- job
	if err := w.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	go func() {
		defer w.sem.Release(1)
		defer close(job.done)
		job.numRecords, job.decodedDataSize, job.err = enc.EncodeAndClose(&job.body)
	}()
	return nil
}

// Flush forces the current chunk to be written even if it hasn't reached
// ChunkSize.
func (w *RecordWriter) Flush() error {
	if !w.Healthy() {
		return w.Err()
	}
	if w.pendingRecords == 0 {
		return nil
	}
	if err := w.closeChunk(); err != nil {
		return w.Fail(err)
	}
	return nil
}

// Close flushes any pending records, drains the parallel pipeline if
// active, optionally pads to a block boundary, and closes the underlying
// ChunkWriter.
func (w *RecordWriter) Close() error {
	return w.Object.Close(func() error {
		if err := w.Flush(); err != nil {
			return err
		}
		if w.jobsCh != nil {
			close(w.jobsCh)
			<-w.sequencerDone
			if w.sequencerErr != nil {
				return w.sequencerErr
			}
		}
		if w.opts.PadToBlockBoundary {
			if err := w.cw.WritePadding(); err != nil {
				return err
			}
		}
		return w.cw.Close()
	})
}
