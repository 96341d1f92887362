package chunk

import (
	"bytes"
	"testing"

	"github.com/dyu/riegeli/compress"
	"github.com/dyu/riegeli/internal/base"
	"github.com/stretchr/testify/require"
)

func encodeSimple(t *testing.T, opts compress.Options, records [][]byte) ([]byte, Header) {
	t.Helper()
	enc, err := NewSimpleEncoder(opts)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, enc.AddRecord(r))
	}
	var body bytes.Buffer
	numRecords, decodedDataSize, err := enc.EncodeAndClose(&body)
	require.NoError(t, err)
	require.Equal(t, uint64(len(records)), numRecords)

	h := Header{
		NumRecords:      numRecords,
		DecodedDataSize: decodedDataSize,
	}
	return body.Bytes(), h
}

func TestSimpleRoundTripUncompressed(t *testing.T) {
	records := [][]byte{[]byte("hello"), []byte(""), []byte("world")}
	data, h := encodeSimple(t, compress.Options{Type: compress.None}, records)
	require.Equal(t, byte(Simple), data[0])

	h.DataSize = uint64(len(data))
	h.DataHash = 0 // not checked by ParseSimple
	dec, err := ParseSimple(h, data[1:])
	require.NoError(t, err)
	require.Equal(t, 3, dec.NumRecords())
	for i, want := range records {
		got, err := dec.Record(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestSimpleRoundTripZstd(t *testing.T) {
	records := [][]byte{
		bytes.Repeat([]byte("a"), 500),
		bytes.Repeat([]byte("b"), 500),
	}
	data, h := encodeSimple(t, compress.DefaultOptions(), records)
	dec, err := ParseSimple(h, data[1:])
	require.NoError(t, err)
	for i, want := range records {
		got, err := dec.Record(i)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestSimpleRecordIndexOutOfRange(t *testing.T) {
	data, h := encodeSimple(t, compress.Options{Type: compress.None}, [][]byte{[]byte("x")})
	dec, err := ParseSimple(h, data[1:])
	require.NoError(t, err)
	_, err = dec.Record(5)
	require.Error(t, err)
}

func TestSimpleDecodedSizeMismatchIsCorruption(t *testing.T) {
	data, h := encodeSimple(t, compress.Options{Type: compress.None}, [][]byte{[]byte("hello")})
	h.DecodedDataSize++
	_, err := ParseSimple(h, data[1:])
	require.Error(t, err)
	require.True(t, base.IsCorruption(err))
}
