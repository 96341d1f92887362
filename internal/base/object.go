// Package base holds the small pieces shared by every layer of the riegeli
// implementation: the Object open/closed lifecycle and the error taxonomy
// used to classify failures.
package base

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// failedStatus is the heap-allocated failure record an Object's status
// pointer refers to once Fail has been called. It is grounded on
// riegeli/base/object.cc's FailedStatus: a latched message plus a closed
// bit that can be set independently after the fact.
type failedStatus struct {
	message string
	closed  atomic.Bool
}

// closedSuccessfully is a sentinel failedStatus value (never read through)
// used to mark the ClosedSuccessfully state without an extra bool field,
// mirroring object.cc's kClosedSuccessfully() sentinel pointer.
var closedSuccessfully = &failedStatus{}

// Object gives a type the four-state {Open,Closed} x {Healthy,Failed}
// lifecycle described by the format: embed it and call Fail/Close from the
// concrete type's own methods.
//
// The zero value is a healthy, open Object. Object is not safe to operate
// on concurrently except that Healthy and Err may race with Fail for
// observability (the underlying pointer swap is a single atomic CAS).
type Object struct {
	status atomic.Pointer[failedStatus]
}

// Healthy reports whether the Object is open and has not failed.
func (o *Object) Healthy() bool {
	return o.status.Load() == nil
}

// Closed reports whether Close has run to completion, successfully or not.
func (o *Object) Closed() bool {
	s := o.status.Load()
	return s == closedSuccessfully || (s != nil && s.closed.Load())
}

// Err returns the latched failure, or nil if the Object is healthy or
// closed successfully.
func (o *Object) Err() error {
	s := o.status.Load()
	if s == nil || s == closedSuccessfully {
		return nil
	}
	return errors.New(s.message)
}

// Fail latches err as the Object's first failure. One-shot: if the Object
// has already failed, the original message is preserved and returned
// instead of err, matching the "calling fail(msg) twice preserves the first
// message" idempotence property.
func (o *Object) Fail(err error) error {
	if err == nil {
		err = errors.New("riegeli: Fail called with a nil error")
	}
	rec := &failedStatus{message: err.Error()}
	if o.status.CompareAndSwap(nil, rec) {
		return err
	}
	if existing := o.Err(); existing != nil {
		return existing
	}
	// Raced with a successful Close; there is nothing to latch onto, so
	// report the caller's own error without mutating state.
	return err
}

// FailFrom fails o with msg, chaining src's message the way
// Object::Fail(string_view, const Object&) does in the source: "msg: src
// message", or just msg if src is healthy.
func (o *Object) FailFrom(msg string, src *Object) error {
	if srcErr := src.Err(); srcErr != nil {
		return o.Fail(errors.Newf("%s: %s", msg, srcErr.Error()))
	}
	return o.Fail(errors.New(msg))
}

// Close runs done (typically a flush) if the Object is healthy, then
// transitions to ClosedSuccessfully or ClosedFailed. On an already-failed
// Object it just latches the closed bit. Close on an already-closed Object
// is a no-op that preserves and returns the prior state, so it is always
// safe to defer Close after an earlier explicit Close.
func (o *Object) Close(done func() error) error {
	if s := o.status.Load(); s != nil {
		if s == closedSuccessfully {
			return nil
		}
		s.closed.Store(true)
		return errors.New(s.message)
	}
	if err := done(); err != nil {
		o.Fail(err)
		if s := o.status.Load(); s != nil {
			s.closed.Store(true)
		}
		return err
	}
	if !o.status.CompareAndSwap(nil, closedSuccessfully) {
		// done() itself called Fail concurrently-to-itself (single-threaded
		// use should never race here, but stay safe).
		if s := o.status.Load(); s != nil && s != closedSuccessfully {
			s.closed.Store(true)
			return errors.New(s.message)
		}
	}
	return nil
}
