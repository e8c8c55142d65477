// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fatal is the process-fatal error path.
//
// Resource exhaustion and broken allocator invariants are not recoverable:
// an allocation that fails halfway through an operation leaves engine state
// inconsistent. Callers report through Errorf or Check, which log the
// failure and panic with an *Error carrying a stack trace. Code that
// recovers panics must re-panic an *Error, so the process terminates with
// that diagnostic.
package fatal

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger atomic.Pointer[logrus.Logger]

// SetLogger directs fatal diagnostics to l. A nil l restores the standard logger.
func SetLogger(l *logrus.Logger) {
	logger.Store(l)
}

func log() *logrus.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return logrus.StandardLogger()
}

// Errorf logs a formatted fatal error and panics with it.
func Errorf(format string, args ...any) {
	raise(errors.Errorf(format, args...))
}

// Check panics with err wrapped by msg when err is non-nil.
func Check(err error, msg string) {
	if err != nil {
		raise(errors.Wrap(err, msg))
	}
}

// Error is the panic value of a fatal failure.
type Error struct {
	err error
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

// StackTrace returns the stack recorded where the failure was raised.
func (e *Error) StackTrace() errors.StackTrace {
	if st, ok := e.err.(interface{ StackTrace() errors.StackTrace }); ok {
		return st.StackTrace()
	}
	return nil
}

// Is reports whether the recovered panic value v is a fatal failure.
func Is(v any) bool {
	_, ok := v.(*Error)
	return ok
}

func raise(err error) {
	log().WithError(err).Error("fatal")
	panic(&Error{err: err})
}
