// Package bytesio implements a buffered byte pipeline: a
// Writer/Reader/BackwardWriter abstraction that exposes a cursor window
// callers can write into or read from directly, falling back to a slow
// path only when the window is exhausted.
package bytesio

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/internal/base"
)

// FlushPolicy advises a Writer how deeply to persist buffered bytes.
type FlushPolicy int

const (
	// FlushFromObject pushes buffered bytes to the immediate destination
	// (the common case: make them visible to a reader sharing the same
	// process-level object).
	FlushFromObject FlushPolicy = iota
	// FlushFromProcess additionally asks the destination to flush any of
	// its own internal buffering (e.g. bufio, os.File dirty pages still
	// owned by the process).
	FlushFromProcess
	// FlushFromMachine additionally asks for data to survive a process
	// crash (e.g. fsync), when the destination supports it.
	FlushFromMachine
)

const minBufferSize = 4 << 10

// syncer is implemented by destinations that support FlushFromMachine.
type syncer interface {
	Sync() error
}

// flusher is implemented by destinations that support FlushFromProcess.
type flusher interface {
	Flush() error
}

// Writer is a buffered, zero-copy-friendly sink over an io.Writer. Callers
// may write directly into the slice returned by Avail, then call Advance,
// or just call Write.
type Writer struct {
	base.Object
	dst  io.Writer
	buf  []byte // buf[:used] is unflushed data
	used int
	pos  int64 // bytes already flushed to dst
}

// NewWriter returns a Writer over dst with a reasonably sized initial
// buffer.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst, buf: make([]byte, minBufferSize)}
}

// Avail returns the current cursor window: bytes the caller may write into
// directly. Call Advance with the number of bytes actually used.
func (w *Writer) Avail() []byte {
	return w.buf[w.used:]
}

// Advance marks n bytes of Avail() as written.
func (w *Writer) Advance(n int) {
	w.used += n
}

// Push ensures Avail() returns at least one byte, flushing the buffer to
// dst when it is full. Returns false on failure; check Err() for the
// cause.
func (w *Writer) Push() bool {
	if !w.Healthy() {
		return false
	}
	if w.used < len(w.buf) {
		return true
	}
	if err := w.flushBuffer(); err != nil {
		w.Fail(err)
		return false
	}
	return true
}

func (w *Writer) flushBuffer() error {
	if w.used == 0 {
		return nil
	}
	n, err := w.dst.Write(w.buf[:w.used])
	w.pos += int64(n)
	w.used = 0
	if err != nil {
		return errors.Wrapf(err, "riegeli: writer")
	}
	return nil
}

// Write copies p into the stream, taking the fast path when p fits in
// Avail() and falling back to a copy-then-flush loop otherwise.
func (w *Writer) Write(p []byte) bool {
	if !w.Healthy() {
		return false
	}
	for len(p) > len(w.Avail()) {
		n := copy(w.Avail(), p)
		w.Advance(n)
		p = p[n:]
		if !w.Push() {
			return false
		}
	}
	n := copy(w.Avail(), p)
	w.Advance(n)
	return true
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) bool {
	return w.Write([]byte{b})
}

// Pos returns the number of bytes written so far (flushed or not).
func (w *Writer) Pos() int64 {
	return w.pos + int64(w.used)
}

// Flush persists buffered bytes to dst according to policy.
func (w *Writer) Flush(policy FlushPolicy) bool {
	if !w.Healthy() {
		return false
	}
	if err := w.flushBuffer(); err != nil {
		w.Fail(err)
		return false
	}
	if policy >= FlushFromProcess {
		if f, ok := w.dst.(flusher); ok {
			if err := f.Flush(); err != nil {
				w.Fail(errors.Wrapf(err, "riegeli: writer flush"))
				return false
			}
		}
	}
	if policy >= FlushFromMachine {
		if s, ok := w.dst.(syncer); ok {
			if err := s.Sync(); err != nil {
				w.Fail(errors.Wrapf(err, "riegeli: writer sync"))
				return false
			}
		}
	}
	return true
}

// Close flushes remaining bytes and releases the Writer. Closing an
// already-closed Writer is a no-op.
func (w *Writer) Close() error {
	return w.Object.Close(func() error {
		return w.flushBuffer()
	})
}
