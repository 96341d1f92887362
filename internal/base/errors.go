package base

import "github.com/cockroachdb/errors"

// Sentinels used with errors.Mark so callers can classify a failure with
// errors.Is without relying on message text.
var (
	// ErrCorruption marks a failed hash check, an unknown chunk type, a
	// varint that overflowed, or any other violation of an on-disk
	// invariant.
	ErrCorruption = errors.New("riegeli: corruption")
	// ErrCodec marks a brotli/zstd stream error.
	ErrCodec = errors.New("riegeli: codec error")
	// ErrOverflow marks a record, record count, or position that exceeds a
	// format-defined size limit.
	ErrOverflow = errors.New("riegeli: size limit exceeded")
)

// MarkCorruption wraps err so errors.Is(err, ErrCorruption) holds.
func MarkCorruption(err error) error { return errors.Mark(err, ErrCorruption) }

// MarkCodec wraps err so errors.Is(err, ErrCodec) holds.
func MarkCodec(err error) error { return errors.Mark(err, ErrCodec) }

// MarkOverflow wraps err so errors.Is(err, ErrOverflow) holds.
func MarkOverflow(err error) error { return errors.Mark(err, ErrOverflow) }

// IsCorruption reports whether err (or something it wraps) is a
// corruption-class error.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }
