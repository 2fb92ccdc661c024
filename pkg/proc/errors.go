package proc

import (
	"errors"
	"fmt"
)

// ErrorKind classifies procedure call failures.
type ErrorKind string

const (
	// KindNotFound means the named procedure does not exist.
	KindNotFound ErrorKind = "not-found"
	// KindForbidden means the caller lacks access to the procedure.
	KindForbidden ErrorKind = "forbidden"
	// KindRecursion means the call stack depth limit was exceeded.
	KindRecursion ErrorKind = "recursion"
	// KindCancelled means the call context was cancelled.
	KindCancelled ErrorKind = "cancelled"
	// KindBinding means an input binding could not be resolved.
	KindBinding ErrorKind = "binding"
	// KindRuntime means the procedure body failed.
	KindRuntime ErrorKind = "runtime"
)

// Error is a procedure call failure with a classified kind.
type Error struct {
	Kind      ErrorKind
	Procedure string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Procedure == "" {
		return fmt.Sprintf("procedure call failed (%s): %s", e.Kind, msg)
	}
	return fmt.Sprintf("procedure %s failed (%s): %s", e.Procedure, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func errorf(kind ErrorKind, proc, format string, args ...any) *Error {
	return &Error{Kind: kind, Procedure: proc, Message: fmt.Sprintf(format, args...)}
}

// IsError returns the typed procedure error, or nil when err is of a
// different kind.
func IsError(err error) *Error {
	var procErr *Error
	if errors.As(err, &procErr) {
		return procErr
	}
	return nil
}

// wrapError classifies an arbitrary failure from a procedure body,
// keeping already classified errors as they are.
func wrapError(proc string, err error) error {
	if err == nil {
		return nil
	}
	if IsError(err) != nil {
		return err
	}
	return &Error{Kind: KindRuntime, Procedure: proc, Cause: err}
}
