package wire

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/bytesio"
	"github.com/dyu/riegeli/chunk"
	"github.com/dyu/riegeli/internal/base"
)

// maxChunkDataSize bounds how much a single chunk's declared data_size may
// claim, so a corrupted header can't make the reader try to allocate an
// absurd buffer before the data hash check has a chance to fail it.
const maxChunkDataSize = 1 << 32

// ChunkReader reads chunks from an underlying byte source, transparently
// skipping interleaved block headers and supporting resync after
// corruption.
type ChunkReader struct {
	base.Object
	r                *bytesio.Reader
	origin           int64 // absolute file offset corresponding to r.r.Pos() == 0
	recoverableCount int
}

// NewChunkReader returns a ChunkReader over src, treating src's first byte
// as absolute file offset 0.
func NewChunkReader(src io.Reader) *ChunkReader {
	return &ChunkReader{r: bytesio.NewReader(src)}
}

// NewChunkReaderAt returns a ChunkReader over src whose first byte is
// absolute file offset startOffset, so block-boundary alignment matches
// the real file's grid even when src was opened mid-file.
func NewChunkReaderAt(src io.Reader, startOffset int64) *ChunkReader {
	return &ChunkReader{r: bytesio.NewReader(src), origin: startOffset}
}

// Pos returns the absolute file offset the reader has reached, i.e. the
// chunk_begin of whatever chunk NextChunk will read next.
func (r *ChunkReader) Pos() int64 {
	return r.origin + r.r.Pos()
}

// RecoverableErrors returns the number of times Resync has been used to
// skip past corruption.
func (r *ChunkReader) RecoverableErrors() int {
	return r.recoverableCount
}

// readLogical reads n bytes of logical (chunk) content, transparently
// consuming and validating any block header the stream crosses along the
// way.
func (r *ChunkReader) readLogical(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if r.Pos()%blockSize == 0 {
			var hdr [BlockHeaderSize]byte
			got, ok := r.r.Read(hdr[:])
			if !ok || got != BlockHeaderSize {
				return nil, r.ioErr()
			}
			if _, _, err := decodeBlockHeader(hdr); err != nil {
				return nil, err
			}
			continue
		}
		remain := n - len(out)
		boundary := (r.Pos()/blockSize + 1) * blockSize
		avail := boundary - r.Pos()
		toRead := int64(remain)
		if avail < toRead {
			toRead = avail
		}
		buf := make([]byte, toRead)
		got, ok := r.r.Read(buf)
		out = append(out, buf[:got]...)
		if !ok {
			if got == 0 {
				return nil, r.ioErr()
			}
			return out, r.ioErr()
		}
	}
	return out, nil
}

func (r *ChunkReader) ioErr() error {
	if err := r.r.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

// NextChunk reads one chunk's header and body at the current position.
func (r *ChunkReader) NextChunk() (chunk.Header, []byte, error) {
	if !r.Healthy() {
		return chunk.Header{}, nil, r.Err()
	}
	hdrBytes, err := r.readLogical(chunk.HeaderSize)
	if err != nil {
		return chunk.Header{}, nil, err
	}
	var hdrArr [chunk.HeaderSize]byte
	copy(hdrArr[:], hdrBytes)
	header, err := chunk.DecodeHeader(hdrArr)
	if err != nil {
		return chunk.Header{}, nil, err
	}
	if header.DataSize > maxChunkDataSize {
		return chunk.Header{}, nil, base.MarkCorruption(errors.New("riegeli: chunk data_size too large"))
	}
	body, err := r.readLogical(int(header.DataSize))
	if err != nil {
		return chunk.Header{}, nil, err
	}
	if err := header.VerifyData(body); err != nil {
		return chunk.Header{}, nil, err
	}
	return header, body, nil
}

func (r *ChunkReader) discard(n int64) error {
	var buf [4096]byte
	for n > 0 {
		k := int64(len(buf))
		if n < k {
			k = n
		}
		got, ok := r.r.Read(buf[:k])
		n -= int64(got)
		if !ok {
			if got == 0 {
				return r.ioErr()
			}
		}
	}
	return nil
}

// Resync recovers from a corrupted chunk by scanning forward to the next
// block boundary, verifying its BlockHeader, and skipping to the chunk it
// points at. If the block header itself is corrupt, Resync skips a full
// block and tries the next one. Returns false only when the underlying
// source is exhausted first.
func (r *ChunkReader) Resync() (found bool, err error) {
	defer func() {
		// Running out of source while skipping leaves nothing to resync to.
		if errors.Is(err, io.ErrUnexpectedEOF) {
			found, err = false, nil
		}
	}()
	cur := r.Pos()
	boundary := cur
	if cur%blockSize != 0 {
		boundary = (cur/blockSize + 1) * blockSize
	}
	if err := r.discard(boundary - cur); err != nil {
		return false, err
	}
	for {
		var hdr [BlockHeaderSize]byte
		got, ok := r.r.Read(hdr[:])
		if !ok {
			if got == 0 {
				return false, nil
			}
			return false, r.ioErr()
		}
		_, next, err := decodeBlockHeader(hdr)
		if err != nil {
			if err := r.discard(blockSize - BlockHeaderSize); err != nil {
				return false, err
			}
			continue
		}
		// next is measured from the block boundary, and the header itself
		// has already been consumed.
		if err := r.discard(int64(next) - BlockHeaderSize); err != nil {
			return false, err
		}
		r.recoverableCount++
		return true, nil
	}
}

// Close releases the ChunkReader.
func (r *ChunkReader) Close() error {
	return r.Object.Close(func() error { return nil })
}
