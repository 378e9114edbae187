package models

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. The HTTP layer maps kinds to status codes.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindMissingInput     Kind = "missing_input"
	KindPrecondition     Kind = "precondition"
	KindConflict         Kind = "conflict"
	KindExtractionFailed Kind = "extraction_failed"
	KindTimeout          Kind = "timeout"
	KindNotFound         Kind = "not_found"
)

// Error is the typed error returned by every domain component.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "extraction.Start"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrConflict) works
// for any Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrMissingInput     = &Error{Kind: KindMissingInput}
	ErrPrecondition     = &Error{Kind: KindPrecondition}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrExtractionFailed = &Error{Kind: KindExtractionFailed}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// E builds a typed error with a formatted message.
func E(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown identifier.
func NotFound(op, resource, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// KindOf returns the kind of the first Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the bare message of the first Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
