// Package errkind classifies plotmerge failures.
//
// Every failure surfaced by the merge pipeline wraps exactly one of the
// sentinel kinds below, so callers can branch with errors.Is and map the
// failure to an exit status without string matching.
package errkind

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks missing, unreadable or malformed metadata.
	ErrParse = errors.New("parse error")
	// ErrNotFound marks a source set with no files for the requested sensor.
	ErrNotFound = errors.New("not found")
	// ErrFormat marks an input that is not a usable LAS file.
	ErrFormat = errors.New("format error")
	// ErrIO marks a filesystem failure while reading or writing.
	ErrIO = errors.New("io error")
)

// Error carries the kind of a failure together with the operation and path
// that produced it.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Parse wraps err as a metadata failure.
func Parse(op, path string, err error) error { return newError(ErrParse, op, path, err) }

// Parsef builds a metadata failure from a message.
func Parsef(op, path, format string, args ...any) error {
	return newError(ErrParse, op, path, fmt.Errorf(format, args...))
}

// NotFoundf builds a selection failure from a message.
func NotFoundf(op, path, format string, args ...any) error {
	return newError(ErrNotFound, op, path, fmt.Errorf(format, args...))
}

// Format wraps err as an invalid-input failure.
func Format(op, path string, err error) error { return newError(ErrFormat, op, path, err) }

// Formatf builds an invalid-input failure from a message.
func Formatf(op, path, format string, args ...any) error {
	return newError(ErrFormat, op, path, fmt.Errorf(format, args...))
}

// IO wraps err as a filesystem failure.
func IO(op, path string, err error) error { return newError(ErrIO, op, path, err) }

// Of returns the sentinel kind wrapped by err, or nil when err carries none.
func Of(err error) error {
	for _, kind := range []error{ErrParse, ErrNotFound, ErrFormat, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
