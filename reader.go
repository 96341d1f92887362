package riegeli

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/chunk"
	"github.com/dyu/riegeli/internal/base"
	"github.com/dyu/riegeli/wire"
)

// RecordReader reads records written by RecordWriter, skipping
// non-record chunks (file signature, metadata, padding) transparently and
// optionally recovering from corruption.
type RecordReader struct {
	base.Object
	opts Options
	src  io.Reader
	cr   *wire.ChunkReader

	dec         chunk.Decoder
	chunkBegin  int64
	recordIndex int

	recovered int
}

// NewRecordReader returns a RecordReader over src.
func NewRecordReader(src io.Reader, opts Options) *RecordReader {
	return &RecordReader{opts: opts, src: src, cr: wire.NewChunkReader(src)}
}

// Recovered returns the number of chunks skipped due to corruption so far
// (only nonzero when Options.SkipErrors is set).
func (r *RecordReader) Recovered() int {
	return r.recovered
}

// Position returns the position of the next record ReadRecord will
// return.
func (r *RecordReader) Position() RecordPosition {
	return RecordPosition{ChunkBegin: r.chunkBegin, RecordIndex: r.recordIndex}
}

// ReadRecord returns the next record, advancing past chunk and non-record
// boundaries as needed.
func (r *RecordReader) ReadRecord() ([]byte, error) {
	if !r.Healthy() {
		return nil, r.Err()
	}
	for r.dec == nil || r.recordIndex >= r.dec.NumRecords() {
		if err := r.advanceChunk(); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, r.Fail(err)
		}
	}
	rec, err := r.dec.Record(r.recordIndex)
	if err != nil {
		return nil, r.Fail(err)
	}
	r.recordIndex++
	return rec, nil
}

// advanceChunk loads the next record-bearing chunk (Simple or Transpose),
// transparently skipping FileSignature/FileMetadata/Padding chunks and, if
// Options.SkipErrors is set, recovering from corrupt ones.
func (r *RecordReader) advanceChunk() error {
	for {
		chunkBegin := r.cr.Pos()
		header, body, err := r.cr.NextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			if base.IsCorruption(err) && r.opts.SkipErrors {
				if err := r.recover(); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if len(body) == 0 {
			return base.MarkCorruption(errors.New("riegeli: empty chunk body"))
		}

		switch chunk.Type(body[0]) {
		case chunk.FileSignature, chunk.FileMetadata, chunk.Padding:
			continue
		case chunk.Simple:
			dec, derr := chunk.ParseSimple(header, body[1:])
			if derr != nil {
				if r.opts.SkipErrors {
					if err := r.recover(); err != nil {
						return err
					}
					continue
				}
				return derr
			}
			r.dec, r.chunkBegin, r.recordIndex = dec, chunkBegin, 0
			return nil
		case chunk.Transpose:
			dec, derr := chunk.ParseTranspose(header, body[1:], r.opts.FieldFilter)
			if derr != nil {
				if r.opts.SkipErrors {
					if err := r.recover(); err != nil {
						return err
					}
					continue
				}
				return derr
			}
			r.dec, r.chunkBegin, r.recordIndex = dec, chunkBegin, 0
			return nil
		default:
			if r.opts.SkipErrors {
				if err := r.recover(); err != nil {
					return err
				}
				continue
			}
			return base.MarkCorruption(errors.Newf("riegeli: unknown chunk type %#x", body[0]))
		}
	}
}

func (r *RecordReader) recover() error {
	begin := r.cr.Pos()
	ok, err := r.cr.Resync()
	if err != nil {
		return err
	}
	r.recovered++
	if !ok {
		return io.EOF
	}
	if r.opts.Logger != nil {
		r.opts.Logger.Infof("riegeli: recovered from corrupt chunk at offset %d, resumed at %d", begin, r.cr.Pos())
	}
	return nil
}

// Seek positions the reader at pos. The underlying source must implement
// io.Seeker.
func (r *RecordReader) Seek(pos RecordPosition) error {
	seeker, ok := r.src.(io.Seeker)
	if !ok {
		return errors.New("riegeli: Seek requires a seekable source")
	}
	if _, err := seeker.Seek(pos.ChunkBegin, io.SeekStart); err != nil {
		return err
	}
	r.cr = wire.NewChunkReaderAt(r.src, pos.ChunkBegin)
	r.dec = nil
	if err := r.advanceChunk(); err != nil {
		return err
	}
	if pos.RecordIndex < 0 || pos.RecordIndex >= r.dec.NumRecords() {
		return errors.Newf("riegeli: seek record index %d out of range", pos.RecordIndex)
	}
	r.recordIndex = pos.RecordIndex
	return nil
}

// SeekApprox positions the reader at the first valid chunk starting
// at-or-after offset, resynchronizing against block headers as needed. The
// underlying source must implement io.Seeker.
func (r *RecordReader) SeekApprox(offset int64) error {
	seeker, ok := r.src.(io.Seeker)
	if !ok {
		return errors.New("riegeli: SeekApprox requires a seekable source")
	}
	// Resync at the last 64 KiB block boundary before offset, then walk
	// forward to the first chunk beginning at-or-after offset.
	blockBegin := int64(0)
	if offset > 0 {
		blockBegin = (offset - 1) / 65536 * 65536
	}
	if _, err := seeker.Seek(blockBegin, io.SeekStart); err != nil {
		return err
	}
	r.cr = wire.NewChunkReaderAt(r.src, blockBegin)
	found, err := r.cr.Resync()
	if err != nil {
		return err
	}
	if !found {
		return io.EOF
	}
	for r.cr.Pos() < offset {
		if _, _, err := r.cr.NextChunk(); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return io.EOF
			}
			return err
		}
	}
	r.dec = nil
	return r.advanceChunk()
}

// Close releases the RecordReader.
func (r *RecordReader) Close() error {
	return r.Object.Close(func() error { return r.cr.Close() })
}
