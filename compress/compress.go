// Package compress implements the chunk-body compression scheme: each
// chunk payload is either stored verbatim or compressed by brotli or
// zstd, prefixed by a varint giving the decoded size so a decoder can
// size its output buffer before inflating.
//
// The streaming Compressor buffers fully before handing bytes off, matching
// a compress-then-checksum pipeline; Decompress instead operates on an
// already fully-buffered blob, since chunk decoding is entirely
// slice-oriented rather than incremental.
package compress

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/internal/base"
	"github.com/klauspost/compress/zstd"
)

// Type selects the compressor used for a chunk's data payload.
type Type byte

const (
	None Type = iota
	Brotli
	Zstd
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Brotli:
		return "brotli"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Options bundles a Type with its level and window size, matching the
// "brotli:Q" / "zstd:Q" / "window_log:W" text grammar.
type Options struct {
	Type  Type
	Level int
	// WindowLog is the codec's window size, log2(bytes), in 10..31.
	// The sentinel -1 means "codec default" (the usual choice).
	WindowLog int
}

// DefaultOptions returns the options riegeli uses absent any override:
// zstd at its default level, balancing ratio against CPU cost.
func DefaultOptions() Options {
	return Options{Type: Zstd, Level: zstdDefaultLevel, WindowLog: -1}
}

const (
	brotliDefaultLevel = 9
	zstdDefaultLevel   = 9
)

// ParseOptions parses the compressor-options text grammar: a comma
// separated list of "none"/"uncompressed", "brotli[:Q]" (0..11),
// "zstd[:Q]" (1..22), and "window_log:(auto|W)" (10..31) tokens. Codec
// selection and window_log are independent axes and may appear in either
// order; window_log is a no-op on the streams this package builds, since
// brotli/zstd's own encoders pick their window size from the level.
func ParseOptions(text string) (Options, error) {
	opts := Options{Type: None, WindowLog: -1}
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "window_log:auto" {
			opts.WindowLog = -1
			continue
		}
		if strings.HasPrefix(part, "window_log:") {
			v := strings.TrimPrefix(part, "window_log:")
			n, err := strconv.Atoi(v)
			if err != nil || n < 10 || n > 31 {
				return Options{}, errors.Newf("riegeli: invalid window_log option %q", part)
			}
			opts.WindowLog = n
			continue
		}
		if part == "none" || part == "uncompressed" {
			opts.Type = None
			continue
		}
		sub := strings.SplitN(part, ":", 2)
		switch sub[0] {
		case "brotli":
			opts.Type = Brotli
			opts.Level = brotliDefaultLevel
			if len(sub) == 2 {
				lvl, err := strconv.Atoi(sub[1])
				if err != nil || lvl < 0 || lvl > 11 {
					return Options{}, errors.Newf("riegeli: invalid brotli level %q", sub[1])
				}
				opts.Level = lvl
			}
		case "zstd":
			opts.Type = Zstd
			opts.Level = zstdDefaultLevel
			if len(sub) == 2 {
				lvl, err := strconv.Atoi(sub[1])
				if err != nil || lvl < 1 || lvl > 22 {
					return Options{}, errors.Newf("riegeli: invalid zstd level %q", sub[1])
				}
				opts.Level = lvl
			}
		default:
			return Options{}, errors.Newf("riegeli: unrecognized compression option %q", text)
		}
	}
	return opts, nil
}

// Compressor is a streaming sink that accumulates compressed bytes in
// memory, tracking the raw (uncompressed) size as it goes so EncodeAndClose
// can prefix it.
type Compressor struct {
	base.Object
	opts   Options
	rawPos int64
	buf    bytes.Buffer
	enc    io.WriteCloser
}

// NewCompressor returns a Compressor for opts, ready to accept Write calls.
func NewCompressor(opts Options) (*Compressor, error) {
	c := &Compressor{opts: opts}
	switch opts.Type {
	case None:
		c.enc = nopWriteCloser{&c.buf}
	case Brotli:
		c.enc = brotli.NewWriterLevel(&c.buf, opts.Level)
	case Zstd:
		enc, err := zstd.NewWriter(&c.buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)))
		if err != nil {
			return nil, errors.Wrapf(err, "riegeli: zstd compressor")
		}
		c.enc = enc
	default:
		return nil, errors.Newf("riegeli: unknown compression type %d", opts.Type)
	}
	return c, nil
}

// Write compresses p into the Compressor's internal buffer.
func (c *Compressor) Write(p []byte) bool {
	if !c.Healthy() {
		return false
	}
	n, err := c.enc.Write(p)
	c.rawPos += int64(n)
	if err != nil {
		c.Fail(errors.Wrapf(err, "riegeli: compressor"))
		return false
	}
	return true
}

// Pos returns the number of raw (uncompressed) bytes written so far.
func (c *Compressor) Pos() int64 {
	return c.rawPos
}

// EncodeAndClose finishes compression and writes the chunk's compressed
// data payload (a leading varint(rawPos) when Type != None, followed by
// the compressed bytes) to dst. The varint lets a decoder size its
// output buffer before inflating.
func (c *Compressor) EncodeAndClose(dst io.Writer) error {
	if err := c.enc.Close(); err != nil {
		c.Fail(err)
		return errors.Wrapf(err, "riegeli: compressor close")
	}
	if c.opts.Type != None {
		var lenBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenBuf[:], uint64(c.rawPos))
		if _, err := dst.Write(lenBuf[:n]); err != nil {
			return errors.Wrapf(err, "riegeli: compressor header")
		}
	}
	if _, err := dst.Write(c.buf.Bytes()); err != nil {
		return errors.Wrapf(err, "riegeli: compressor body")
	}
	return c.Close(func() error { return nil })
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Decompress inflates blob according to compressionType, returning the
// decoded bytes. blob must be exactly what EncodeAndClose produced: a
// varint decoded-size prefix (for Brotli/Zstd) followed by compressed
// data, or the raw bytes verbatim for None.
func Decompress(compressionType Type, blob []byte) ([]byte, error) {
	if compressionType == None {
		return blob, nil
	}
	decodedSize, n := binary.Uvarint(blob)
	if n <= 0 {
		return nil, base.MarkCorruption(errors.New("riegeli: missing decoded size varint"))
	}
	body := blob[n:]
	switch compressionType {
	case Brotli:
		out := make([]byte, 0, decodedSize)
		buf := bytes.NewBuffer(out)
		r := brotli.NewReader(bytes.NewReader(body))
		if _, err := io.Copy(buf, r); err != nil {
			return nil, base.MarkCodec(errors.Wrapf(err, "riegeli: brotli decompress"))
		}
		return buf.Bytes(), nil
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrapf(err, "riegeli: zstd decompressor")
		}
		defer dec.Close()
		out, err := dec.DecodeAll(body, make([]byte, 0, decodedSize))
		if err != nil {
			return nil, base.MarkCodec(errors.Wrapf(err, "riegeli: zstd decompress"))
		}
		return out, nil
	default:
		return nil, errors.Newf("riegeli: unknown compression type %d", compressionType)
	}
}
