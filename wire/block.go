// Package wire implements the block framing layer: ChunkWriter and
// ChunkReader align chunks to 64 KiB block boundaries, interleaving
// 24-byte BlockHeaders so a reader opened at an arbitrary offset can
// resynchronize.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/bytesio"
	"github.com/dyu/riegeli/chunk"
	"github.com/dyu/riegeli/internal/base"
	"github.com/dyu/riegeli/internal/highway"
)

const blockSize = 65536

// BlockHeaderSize is the fixed on-disk size of a BlockHeader.
const BlockHeaderSize = 24

func encodeBlockHeader(previousChunk, nextChunk uint64) [BlockHeaderSize]byte {
	var buf [BlockHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[8:16], previousChunk)
	binary.LittleEndian.PutUint64(buf[16:24], nextChunk)
	h := highway.Hash64(buf[8:24])
	binary.LittleEndian.PutUint64(buf[0:8], h)
	return buf
}

func decodeBlockHeader(buf [BlockHeaderSize]byte) (previousChunk, nextChunk uint64, err error) {
	got := highway.Hash64(buf[8:24])
	want := binary.LittleEndian.Uint64(buf[0:8])
	if got != want {
		return 0, 0, base.MarkCorruption(errors.New("riegeli: block header_hash mismatch"))
	}
	return binary.LittleEndian.Uint64(buf[8:16]), binary.LittleEndian.Uint64(buf[16:24]), nil
}

// blockHeaderPositions returns the absolute file offsets of every block
// boundary that falls within [start, start+logicalLen), and the absolute
// offset at which the next chunk will begin once this chunk (and its
// interleaved block headers) is fully written.
func blockHeaderPositions(start int64, logicalLen int64) (chunkEnd int64, positions []int64) {
	pos := start
	remaining := logicalLen
	for remaining > 0 {
		if pos%blockSize == 0 {
			positions = append(positions, pos)
			pos += BlockHeaderSize
			continue
		}
		boundary := (pos/blockSize + 1) * blockSize
		step := boundary - pos
		if remaining < step {
			step = remaining
		}
		pos += step
		remaining -= step
	}
	return pos, positions
}

// ChunkWriter writes chunks to an underlying byte sink, interleaving block
// headers as required by the file format.
type ChunkWriter struct {
	base.Object
	w   *bytesio.Writer
	pos int64
}

// NewChunkWriter returns a ChunkWriter over dst.
func NewChunkWriter(dst io.Writer) *ChunkWriter {
	return &ChunkWriter{w: bytesio.NewWriter(dst)}
}

// Pos returns the absolute file offset the writer has reached.
func (w *ChunkWriter) Pos() int64 {
	return w.pos
}

// WriteChunk frames one chunk (40-byte ChunkHeader plus body, body already
// beginning with its chunk_type byte) and writes it, splitting around any
// block boundaries it straddles.
func (w *ChunkWriter) WriteChunk(numRecords, decodedDataSize uint64, body []byte) error {
	if !w.Healthy() {
		return w.Err()
	}
	header := chunk.Header{
		DataSize:        uint64(len(body)),
		DataHash:        highway.Hash64(body),
		NumRecords:      numRecords,
		DecodedDataSize: decodedDataSize,
	}
	hdrBytes := header.Encode()

	logical := make([]byte, 0, chunk.HeaderSize+len(body))
	logical = append(logical, hdrBytes[:]...)
	logical = append(logical, body...)

	chunkStart := w.pos
	chunkEnd, positions := blockHeaderPositions(chunkStart, int64(len(logical)))

	pos := chunkStart
	idx := 0
	for len(logical) > 0 {
		if idx < len(positions) && pos == positions[idx] {
			bh := encodeBlockHeader(uint64(pos-chunkStart), uint64(chunkEnd-pos))
			if !w.w.Write(bh[:]) {
				return w.Fail(w.w.Err())
			}
			pos += BlockHeaderSize
			idx++
			continue
		}
		limit := int64(len(logical))
		if idx < len(positions) {
			if avail := positions[idx] - pos; avail < limit {
				limit = avail
			}
		}
		if !w.w.Write(logical[:limit]) {
			return w.Fail(w.w.Err())
		}
		logical = logical[limit:]
		pos += limit
	}
	w.pos = pos
	return nil
}

// minPaddingChunkLen is the smallest a chunk can be: a full ChunkHeader
// plus the one chunk_type byte every body must carry.
const minPaddingChunkLen = chunk.HeaderSize + 1

// WritePadding emits a padding chunk that fills the remainder of the
// current block, so the next chunk written begins at a fresh block
// boundary. A no-op if already at a boundary.
//
// When the remainder is smaller than minPaddingChunkLen, no chunk can fit
// in it at all; rather than clamp to a chunk that overruns the boundary,
// the padding chunk spills across it, filling the rest of this block, the
// whole of the next one, and landing exactly on the boundary after that.
func (w *ChunkWriter) WritePadding() error {
	remaining := int64(blockSize) - w.pos%blockSize
	if remaining == blockSize {
		return nil
	}
	dataLen := remaining - minPaddingChunkLen
	if dataLen < 0 {
		dataLen = remaining + blockSize - BlockHeaderSize - minPaddingChunkLen
	}
	body := make([]byte, 1+dataLen)
	body[0] = byte(chunk.Padding)
	return w.WriteChunk(0, 0, body)
}

// Flush flushes buffered bytes to the underlying sink per policy.
func (w *ChunkWriter) Flush(policy bytesio.FlushPolicy) bool {
	return w.w.Flush(policy)
}

// Close flushes and releases the ChunkWriter.
func (w *ChunkWriter) Close() error {
	return w.Object.Close(func() error {
		if !w.w.Flush(bytesio.FlushFromProcess) {
			return w.w.Err()
		}
		return w.w.Close()
	})
}
