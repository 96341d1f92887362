package riegeli

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/chunk"
	"github.com/dyu/riegeli/compress"
	"github.com/stretchr/testify/require"
)

// seekableBuffer adapts a bytes.Reader so it satisfies io.ReadSeeker for
// tests that exercise Seek/SeekApprox.
type seekableBuffer struct {
	*bytes.Reader
}

func newSeekable(data []byte) *seekableBuffer {
	return &seekableBuffer{bytes.NewReader(data)}
}

func writeRecords(t *testing.T, opts Options, records [][]byte) []byte {
	t.Helper()
	var dst bytes.Buffer
	w, err := NewRecordWriter(&dst, opts)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.AddRecord(r))
	}
	require.NoError(t, w.Close())
	return dst.Bytes()
}

func readAllRecords(t *testing.T, opts Options, data []byte) [][]byte {
	t.Helper()
	r := NewRecordReader(newSeekable(data), opts)
	var got [][]byte
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, append([]byte{}, rec...))
	}
	return got
}

func TestRoundTripSimpleUncompressed(t *testing.T) {
	records := [][]byte{[]byte("hello"), []byte(""), []byte("world")}
	data := writeRecords(t, Options{Compression: compress.Options{Type: compress.None}, ChunkSize: 1 << 20}, records)
	require.Equal(t, records, readAllRecords(t, DefaultOptions(), data))
}

func TestRoundTripAcrossMultipleChunks(t *testing.T) {
	var records [][]byte
	for i := 0; i < 500; i++ {
		records = append(records, []byte(fmt.Sprintf("record-%04d-%s", i, bytes.Repeat([]byte("x"), 50))))
	}
	opts := DefaultOptions()
	opts.ChunkSize = 2000
	data := writeRecords(t, opts, records)
	require.Equal(t, records, readAllRecords(t, DefaultOptions(), data))
}

func TestRoundTripParallelPipeline(t *testing.T) {
	var records [][]byte
	for i := 0; i < 300; i++ {
		records = append(records, []byte(fmt.Sprintf("rec-%d", i)))
	}
	opts := DefaultOptions()
	opts.ChunkSize = 500
	opts.Parallelism = 4
	data := writeRecords(t, opts, records)
	require.Equal(t, records, readAllRecords(t, DefaultOptions(), data))
}

// failingEncoder is a recordEncoder stand-in that always fails, used to
// inject a deterministic worker failure into the parallel pipeline without
// depending on a real compressor's internal failure modes.
type failingEncoder struct{}

func (failingEncoder) AddRecord(data []byte) error { return nil }

func (failingEncoder) EncodeAndClose(dst io.Writer) (numRecords, decodedDataSize uint64, err error) {
	return 0, 0, errors.New("riegeli: injected worker failure")
}

func TestParallelPipelineFailsFastOnWorkerError(t *testing.T) {
	opts := DefaultOptions()
	opts.ChunkSize = 1
	opts.Parallelism = 2
	var dst bytes.Buffer
	w, err := NewRecordWriter(&dst, opts)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	w.cur = failingEncoder{}
	require.NoError(t, w.AddRecord([]byte("x")))
	require.NoError(t, w.Flush())

	require.Eventually(t, func() bool { return !w.Healthy() }, time.Second, time.Millisecond)

	err = w.AddRecord([]byte("more"))
	require.Error(t, err)
}

func TestRecordWriterPositionTracksPendingRecords(t *testing.T) {
	opts := DefaultOptions()
	opts.ChunkSize = 1 << 20
	var dst bytes.Buffer
	w, err := NewRecordWriter(&dst, opts)
	require.NoError(t, err)

	initial := w.Position()
	require.Equal(t, 0, initial.RecordIndex)

	require.NoError(t, w.AddRecord([]byte("one")))
	require.NoError(t, w.AddRecord([]byte("two")))
	pos := w.Position()
	require.Equal(t, initial.ChunkBegin, pos.ChunkBegin)
	require.Equal(t, 2, pos.RecordIndex)

	require.NoError(t, w.Flush())
	pos = w.Position()
	require.Equal(t, 0, pos.RecordIndex)
	require.Greater(t, pos.ChunkBegin, initial.ChunkBegin)

	require.NoError(t, w.Close())

	r := NewRecordReader(newSeekable(dst.Bytes()), DefaultOptions())
	require.NoError(t, r.Seek(RecordPosition{ChunkBegin: initial.ChunkBegin, RecordIndex: 1}))
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, []byte("two"), rec)
}

func TestRoundTripTranspose(t *testing.T) {
	records := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	opts := DefaultOptions()
	opts.Transpose = true
	data := writeRecords(t, opts, records)
	readOpts := DefaultOptions()
	readOpts.Transpose = true
	require.Equal(t, records, readAllRecords(t, readOpts, data))
}

func TestSeekToKnownPosition(t *testing.T) {
	var records [][]byte
	for i := 0; i < 200; i++ {
		records = append(records, []byte(fmt.Sprintf("item-%d", i)))
	}
	opts := DefaultOptions()
	opts.ChunkSize = 300
	data := writeRecords(t, opts, records)

	r := NewRecordReader(newSeekable(data), DefaultOptions())
	var positions []RecordPosition
	for i := 0; i < len(records); i++ {
		positions = append(positions, r.Position())
		_, err := r.ReadRecord()
		require.NoError(t, err)
	}

	r2 := NewRecordReader(newSeekable(data), DefaultOptions())
	require.NoError(t, r2.Seek(positions[123]))
	rec, err := r2.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, records[123], rec)
}

func TestSkipErrorsRecoversFromCorruptChunk(t *testing.T) {
	var records [][]byte
	for i := 0; i < 30; i++ {
		records = append(records, bytes.Repeat([]byte{byte('a' + i)}, 2000))
	}
	opts := DefaultOptions()
	opts.ChunkSize = 1
	data := writeRecords(t, opts, records)

	// corrupt a byte inside one chunk's body, well past the header.
	data[300] ^= 0xFF

	readOpts := DefaultOptions()
	readOpts.SkipErrors = true
	r := NewRecordReader(newSeekable(data), readOpts)
	var got [][]byte
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, append([]byte{}, rec...))
	}
	require.Greater(t, r.Recovered(), 0)
	require.Less(t, len(got), len(records))
}

func TestSeekApproxFindsNextChunk(t *testing.T) {
	var records [][]byte
	for i := 0; i < 200; i++ {
		records = append(records, []byte(fmt.Sprintf("item-%d", i)))
	}
	opts := DefaultOptions()
	opts.ChunkSize = 300
	data := writeRecords(t, opts, records)

	r := NewRecordReader(newSeekable(data), DefaultOptions())
	require.NoError(t, r.SeekApprox(int64(len(data)/2)))
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.Contains(t, records, rec)
}

// readOnly strips any io.Seeker the underlying reader would otherwise
// satisfy, so SeekApprox's source-capability check can be exercised.
type readOnly struct{ io.Reader }

func TestSeekApproxRequiresSeekableSource(t *testing.T) {
	data := writeRecords(t, DefaultOptions(), [][]byte{[]byte("x")})
	r := NewRecordReader(readOnly{bytes.NewReader(data)}, DefaultOptions())
	err := r.SeekApprox(0)
	require.Error(t, err)
}

func TestFileBeginsWithSignatureChunk(t *testing.T) {
	data := writeRecords(t, Options{Compression: compress.Options{Type: compress.None}}, [][]byte{[]byte("x")})
	require.Equal(t, byte(chunk.FileSignature), data[24+chunk.HeaderSize])
}
