// Package status builds errors that carry a gRPC status code while
// preserving the wrapped error's identity for errors.Is/As checks.
//
// It is a trimmed port of the status conventions used throughout the
// reference corpus this module was grounded on: callers construct errors
// with a FooError(msg)/FooErrorf(format, args...) pair per gRPC code, and classify
// errors from collaborators with IsFooError(err). Only the codes this
// module's own error-handling design actually raises get a constructor
// triple: Internal for I/O failures at save, Unavailable for an identity
// adapter the filesystem doesn't support.
package status

import (
	"errors"
	"fmt"
	"runtime"

	pkgerrors "github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const stackDepth = 10

// StackTrace is re-exported so callers can type-assert a wrapped error
// without importing pkg/errors directly.
type StackTrace = pkgerrors.StackTrace

type stack []uintptr

func (s *stack) StackTrace() StackTrace {
	f := make([]pkgerrors.Frame, len(*s))
	for i := range f {
		f[i] = pkgerrors.Frame((*s)[i])
	}
	return f
}

func callers() *stack {
	var pcs [stackDepth]uintptr
	n := runtime.Callers(3, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

// statusError wraps an error with a gRPC status code while preserving the
// underlying error for errors.Is()/errors.As() checks.
type statusError struct {
	code  codes.Code
	err   error
	stack *stack
}

func (e *statusError) Error() string {
	return e.GRPCStatus().String()
}

func (e *statusError) Unwrap() error {
	return e.err
}

func (e *statusError) GRPCStatus() *status.Status {
	return status.New(e.code, e.err.Error())
}

func (e *statusError) StackTrace() StackTrace {
	if e.stack == nil {
		return nil
	}
	return e.stack.StackTrace()
}

func make_(code codes.Code, err error) error {
	return &statusError{code: code, err: err, stack: callers()}
}

func makeFromMessage(code codes.Code, msg string) error {
	return make_(code, errors.New(msg))
}

// Code returns the gRPC status code carried by err: codes.OK for nil, and
// codes.Unknown for a plain error that carries no code (via gRPC's
// status.Code).
func Code(err error) codes.Code {
	return status.Code(err)
}

// Message returns the message portion of err, stripped of its status code
// prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return status.Convert(err).Message()
}

func InternalError(msg string) error { return makeFromMessage(codes.Internal, msg) }
func IsInternalError(err error) bool  { return Code(err) == codes.Internal }
func InternalErrorf(f string, a ...any) error {
	return InternalError(fmt.Sprintf(f, a...))
}

func UnavailableError(msg string) error { return makeFromMessage(codes.Unavailable, msg) }
func IsUnavailableError(err error) bool  { return Code(err) == codes.Unavailable }
func UnavailableErrorf(f string, a ...any) error {
	return UnavailableError(fmt.Sprintf(f, a...))
}

// WrapError prepends additional context to an error's message, preserving
// its status code.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var se *statusError
	if errors.As(err, &se) {
		return &statusError{code: se.code, err: fmt.Errorf("%s: %w", msg, se.err), stack: se.stack}
	}
	return make_(Code(err), fmt.Errorf("%s: %w", msg, err))
}

// WrapErrorf is the Printf form of WrapError.
func WrapErrorf(err error, format string, a ...any) error {
	return WrapError(err, fmt.Sprintf(format, a...))
}
