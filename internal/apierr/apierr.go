// Package apierr defines the error kinds shared by the transport, REST-JSON,
// cache and facade layers. Callers match kinds with errors.Is and extract
// HTTP details with errors.As on *StatusError.
package apierr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument covers bad URLs, unsupported schemes or methods and
	// unusable cache directories.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransport covers connect, write, read and timeout failures.
	ErrTransport = errors.New("transport failure")
	// ErrProtocol signals an HTTP response that could not be parsed.
	ErrProtocol = errors.New("protocol failure")
	// ErrUnexpectedStatus signals a status code other than the one a call expected.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrEncode signals a JSON serialisation failure.
	ErrEncode = errors.New("encode failure")
	// ErrDecode signals a JSON deserialisation failure.
	ErrDecode = errors.New("decode failure")
	// ErrStorage signals cache file I/O problems.
	ErrStorage = errors.New("storage failure")
)

// Error tags an underlying cause with one of the package kinds.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// New returns an *Error of the given kind. err may be nil.
func New(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(kind error, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.Error()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusError reports a response whose status code differs from the
// expected one.
type StatusError struct {
	Expected   int
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rest-json call failed: expected status %d, got %d - %s (url: %s)",
		e.Expected, e.StatusCode, e.Status, e.URL)
}

// Is makes StatusError match ErrUnexpectedStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// StatusCode returns the HTTP status carried by err, or 0 when err does not
// wrap a *StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
