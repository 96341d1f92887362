package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, opts Options, data []byte) {
	t.Helper()
	c, err := NewCompressor(opts)
	require.NoError(t, err)
	require.True(t, c.Write(data))
	var dst bytes.Buffer
	require.NoError(t, c.EncodeAndClose(&dst))

	got, err := Decompress(opts.Type, dst.Bytes())
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestRoundTripNone(t *testing.T) {
	roundTrip(t, Options{Type: None}, []byte("hello world"))
}

func TestRoundTripBrotli(t *testing.T) {
	roundTrip(t, Options{Type: Brotli, Level: 5}, bytes.Repeat([]byte("riegeli"), 200))
}

func TestRoundTripZstd(t *testing.T) {
	roundTrip(t, Options{Type: Zstd, Level: 3}, bytes.Repeat([]byte("riegeli"), 200))
}

func TestRoundTripEmpty(t *testing.T) {
	roundTrip(t, DefaultOptions(), []byte{})
}

func TestParseOptions(t *testing.T) {
	cases := []struct {
		text string
		want Options
	}{
		{"none", Options{Type: None, WindowLog: -1}},
		{"", Options{Type: None, WindowLog: -1}},
		{"brotli", Options{Type: Brotli, Level: brotliDefaultLevel, WindowLog: -1}},
		{"brotli:7", Options{Type: Brotli, Level: 7, WindowLog: -1}},
		{"zstd", Options{Type: Zstd, Level: zstdDefaultLevel, WindowLog: -1}},
		{"zstd:19", Options{Type: Zstd, Level: 19, WindowLog: -1}},
		{"zstd:9,window_log:20", Options{Type: Zstd, Level: 9, WindowLog: 20}},
		{"window_log:20,zstd:9", Options{Type: Zstd, Level: 9, WindowLog: 20}},
		{"brotli:5,window_log:auto", Options{Type: Brotli, Level: 5, WindowLog: -1}},
	}
	for _, c := range cases {
		got, err := ParseOptions(c.text)
		require.NoError(t, err, c.text)
		require.Equal(t, c.want, got, c.text)
	}
}

func TestParseOptionsInvalid(t *testing.T) {
	_, err := ParseOptions("bogus")
	require.Error(t, err)
	_, err = ParseOptions("brotli:99")
	require.Error(t, err)
	_, err = ParseOptions("window_log:9")
	require.Error(t, err)
	_, err = ParseOptions("window_log:nope")
	require.Error(t, err)
}

func TestDecompressCorruptVarint(t *testing.T) {
	_, err := Decompress(Brotli, nil)
	require.Error(t, err)
}
