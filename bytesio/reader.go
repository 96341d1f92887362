package bytesio

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/internal/base"
)

// Reader is a buffered, zero-copy-friendly source over an io.Reader.
type Reader struct {
	base.Object
	src        io.Reader
	buf        []byte
	begin, end int   // buf[begin:end] is the unread window
	pos        int64 // absolute stream position of buf[begin]
	eof        bool
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, buf: make([]byte, minBufferSize)}
}

// Avail returns the current unread window.
func (r *Reader) Avail() []byte {
	return r.buf[r.begin:r.end]
}

// Advance marks n bytes of Avail() as consumed.
func (r *Reader) Advance(n int) {
	r.begin += n
	r.pos += int64(n)
}

// Push ensures Avail() returns at least one byte, refilling from src if
// the window is empty. Returns false on failure or EOF; check Err().
func (r *Reader) Push() bool {
	if !r.Healthy() {
		return false
	}
	if r.begin < r.end {
		return true
	}
	if r.eof {
		return false
	}
	n, err := r.src.Read(r.buf)
	r.begin, r.end = 0, n
	if n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		if err == io.EOF {
			r.eof = true
			return false
		}
		r.Fail(errors.Wrapf(err, "riegeli: reader"))
		return false
	}
	if err != nil && err != io.EOF {
		r.Fail(errors.Wrapf(err, "riegeli: reader"))
	} else if err == io.EOF {
		r.eof = true
	}
	return true
}

// Read fills p, using the fast path when p fits in Avail().
func (r *Reader) Read(p []byte) (int, bool) {
	if !r.Healthy() {
		return 0, false
	}
	total := 0
	for len(p) > 0 {
		if len(r.Avail()) == 0 {
			if !r.Push() {
				return total, total > 0
			}
		}
		n := copy(p, r.Avail())
		r.Advance(n)
		p = p[n:]
		total += n
		if n == 0 {
			break
		}
	}
	return total, true
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, bool) {
	var b [1]byte
	n, ok := r.Read(b[:])
	return b[0], ok && n == 1
}

// Pos returns the current absolute stream position.
func (r *Reader) Pos() int64 {
	return r.pos
}

// Close releases the Reader. Closing an already-closed Reader is a no-op.
func (r *Reader) Close() error {
	return r.Object.Close(func() error { return nil })
}
