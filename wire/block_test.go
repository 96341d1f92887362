package wire

import (
	"bytes"
	"testing"

	"github.com/dyu/riegeli/chunk"
	"github.com/stretchr/testify/require"
)

func TestWriteReadSingleChunk(t *testing.T) {
	var dst bytes.Buffer
	w := NewChunkWriter(&dst)
	body := append([]byte{0x72}, bytes.Repeat([]byte("x"), 100)...)
	require.NoError(t, w.WriteChunk(3, 100, body))
	require.NoError(t, w.Close())

	r := NewChunkReader(bytes.NewReader(dst.Bytes()))
	header, gotBody, err := r.NextChunk()
	require.NoError(t, err)
	require.Equal(t, uint64(3), header.NumRecords)
	require.Equal(t, uint64(100), header.DecodedDataSize)
	require.Equal(t, body, gotBody)
}

func TestWriteReadMultipleChunksAcrossBlocks(t *testing.T) {
	var dst bytes.Buffer
	w := NewChunkWriter(&dst)
	var bodies [][]byte
	for i := 0; i < 20; i++ {
		body := append([]byte{0x72}, bytes.Repeat([]byte{byte('a' + i)}, 5000)...)
		bodies = append(bodies, body)
		require.NoError(t, w.WriteChunk(1, 5000, body))
	}
	require.NoError(t, w.Close())
	require.Greater(t, dst.Len(), blockSize)

	r := NewChunkReader(bytes.NewReader(dst.Bytes()))
	for _, want := range bodies {
		_, got, err := r.NextChunk()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestWritePaddingAlignsToBoundary(t *testing.T) {
	var dst bytes.Buffer
	w := NewChunkWriter(&dst)
	body := append([]byte{0x72}, bytes.Repeat([]byte("y"), 100)...)
	require.NoError(t, w.WriteChunk(1, 100, body))
	require.NoError(t, w.WritePadding())
	require.Equal(t, int64(0), w.Pos()%blockSize)
	require.NoError(t, w.Close())

	r := NewChunkReader(bytes.NewReader(dst.Bytes()))
	_, got, err := r.NextChunk()
	require.NoError(t, err)
	require.Equal(t, body, got)
	_, padBody, err := r.NextChunk()
	require.NoError(t, err)
	require.Equal(t, byte(0x70), padBody[0])
}

func TestWritePaddingSpillsWhenRemainderTooNarrow(t *testing.T) {
	var dst bytes.Buffer
	w := NewChunkWriter(&dst)
	// Land 20 bytes short of the next block boundary: less room than a
	// minimal chunk (ChunkHeader + 1 tag byte = 41 bytes) needs.
	const shortfall = 20
	fill := blockSize - shortfall - 65 // 65 = initial block header + ChunkHeader + tag byte
	body := append([]byte{0x72}, bytes.Repeat([]byte("p"), fill)...)
	require.NoError(t, w.WriteChunk(1, uint64(fill), body))
	require.Equal(t, int64(blockSize-shortfall), w.Pos()%blockSize)

	require.NoError(t, w.WritePadding())
	require.Equal(t, int64(0), w.Pos()%blockSize)
	require.NoError(t, w.Close())

	r := NewChunkReader(bytes.NewReader(dst.Bytes()))
	_, _, err := r.NextChunk()
	require.NoError(t, err)
	_, padBody, err := r.NextChunk()
	require.NoError(t, err)
	require.Equal(t, byte(chunk.Padding), padBody[0])
}

func TestTamperedChunkFailsDataHash(t *testing.T) {
	var dst bytes.Buffer
	w := NewChunkWriter(&dst)
	body := append([]byte{0x72}, bytes.Repeat([]byte("z"), 50)...)
	require.NoError(t, w.WriteChunk(1, 50, body))
	require.NoError(t, w.Close())

	tampered := dst.Bytes()
	// Bytes 64..114 are the chunk body (after the 24-byte block header and
	// the 40-byte ChunkHeader).
	tampered[100] ^= 0xFF

	r := NewChunkReader(bytes.NewReader(tampered))
	_, _, err := r.NextChunk()
	require.Error(t, err)
	require.Contains(t, err.Error(), "chunk data hash mismatch")
}

func TestResyncRecoversAtNextBlock(t *testing.T) {
	var dst bytes.Buffer
	w := NewChunkWriter(&dst)
	for i := 0; i < 30; i++ {
		body := append([]byte{0x72}, bytes.Repeat([]byte{byte('a' + i%26)}, 5000)...)
		require.NoError(t, w.WriteChunk(1, 5000, body))
	}
	require.NoError(t, w.Close())

	raw := dst.Bytes()
	for i := 10; i < 60; i++ {
		raw[i] ^= 0xFF
	}

	r := NewChunkReader(bytes.NewReader(raw))
	_, _, err := r.NextChunk()
	require.Error(t, err)
	ok, err := r.Resync()
	require.NoError(t, err)
	require.True(t, ok)
	// Each chunk is 5041 logical bytes; the one straddling the first block
	// boundary ends 45 bytes past it (24-byte block header plus its last 21
	// bytes), which is where the next chunk begins.
	require.Equal(t, int64(blockSize+45), r.Pos())
	require.Equal(t, 1, r.RecoverableErrors())

	_, _, err = r.NextChunk()
	require.NoError(t, err)
	require.Equal(t, 1, r.RecoverableErrors())
}

func TestOpenAtArbitraryOffsetResyncs(t *testing.T) {
	var dst bytes.Buffer
	w := NewChunkWriter(&dst)
	for i := 0; i < 30; i++ {
		body := append([]byte{0x72}, bytes.Repeat([]byte{byte('a' + i%26)}, 5000)...)
		require.NoError(t, w.WriteChunk(1, 5000, body))
	}
	require.NoError(t, w.Close())

	raw := dst.Bytes()
	r := NewChunkReaderAt(bytes.NewReader(raw[500:]), 500)
	ok, err := r.Resync()
	require.NoError(t, err)
	require.True(t, ok)
	_, _, err = r.NextChunk()
	require.NoError(t, err)
}
