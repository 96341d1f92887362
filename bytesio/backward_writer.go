package bytesio

import "github.com/dyu/riegeli/internal/base"

// BackwardWriter accumulates bytes back-to-front: each Write prepends its
// argument before what was previously written. This lets a caller (the
// Transpose decoder) emit a length-delimited submessage's body first and
// learn its length, then prepend the tag and varint length without a
// second pass or a shifting copy.
//
// Unlike Writer, BackwardWriter has no destination of its own: it builds a
// value in memory, retrieved with Bytes once writing is done.
type BackwardWriter struct {
	base.Object
	buf []byte // buf[pos:] holds the bytes written so far, in correct order
	pos int
}

// NewBackwardWriter returns an empty BackwardWriter with room pre-reserved
// for sizeHint bytes.
func NewBackwardWriter(sizeHint int) *BackwardWriter {
	if sizeHint < 16 {
		sizeHint = 16
	}
	buf := make([]byte, sizeHint)
	return &BackwardWriter{buf: buf, pos: sizeHint}
}

// NewBackwardWriterFromSuffix seeds a BackwardWriter so that Bytes()
// already reports suffix verbatim; subsequent Writes prepend before it.
// Used to attach a tag and length varint before an already-decoded
// submessage body. suffix has no room in front of it, so the first
// non-empty Write copies it into a larger buffer.
func NewBackwardWriterFromSuffix(suffix []byte) *BackwardWriter {
	return &BackwardWriter{buf: suffix, pos: 0}
}

// growFront doubles the buffer, keeping the existing suffix at the end.
func (w *BackwardWriter) growFront(need int) {
	cur := len(w.buf) - w.pos
	newCap := len(w.buf) * 2
	if newCap < cur+need {
		newCap = cur + need + minBufferSize
	}
	nb := make([]byte, newCap)
	newPos := newCap - cur
	copy(nb[newPos:], w.buf[w.pos:])
	w.buf = nb
	w.pos = newPos
}

// Push ensures at least one byte of room is available before the current
// content, growing the buffer if necessary.
func (w *BackwardWriter) Push() bool {
	if !w.Healthy() {
		return false
	}
	if w.pos == 0 {
		w.growFront(minBufferSize)
	}
	return true
}

// Write prepends p: after Write, Bytes() begins with p followed by
// whatever was previously written.
func (w *BackwardWriter) Write(p []byte) bool {
	if !w.Healthy() {
		return false
	}
	if len(p) > w.pos {
		w.growFront(len(p))
	}
	w.pos -= len(p)
	copy(w.buf[w.pos:], p)
	return true
}

// WriteByte prepends a single byte.
func (w *BackwardWriter) WriteByte(b byte) bool {
	return w.Write([]byte{b})
}

// Pos returns the number of bytes written so far.
func (w *BackwardWriter) Pos() int64 {
	return int64(len(w.buf) - w.pos)
}

// Bytes returns the accumulated value in forward order. The returned slice
// aliases the writer's internal buffer and is only valid until the next
// Write.
func (w *BackwardWriter) Bytes() []byte {
	return w.buf[w.pos:]
}

// Close releases the BackwardWriter. Closing an already-closed
// BackwardWriter is a no-op.
func (w *BackwardWriter) Close() error {
	return w.Object.Close(func() error { return nil })
}
