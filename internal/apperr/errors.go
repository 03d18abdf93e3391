// Package apperr classifies workflow failures into client and server faults.
package apperr

import (
	"errors"
	"net/http"
)

// Kind distinguishes client faults from infrastructure faults.
type Kind int

const (
	// KindInvalidRequest is a client fault, e.g. an unknown work order number.
	KindInvalidRequest Kind = iota + 1
	// KindDatabase is a persistence failure.
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindDatabase:
		return "database_error"
	default:
		return "unknown"
	}
}

// Error carries a client-safe Message and, for server faults, the cause.
// The cause is for logs only and never reaches a response body.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidRequest reports a client fault.
func InvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

// DatabaseError reports a persistence failure caused by cause.
func DatabaseError(msg string, cause error) *Error {
	return &Error{Kind: KindDatabase, Message: msg, Err: cause}
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text that may be shown to a caller.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error."
}
