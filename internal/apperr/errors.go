// Package apperr classifies gateway failures into the small set of kinds
// the HTTP layer knows how to report.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of a failure.
type Kind string

const (
	// KindUnauthenticated means the request has no usable session or credential.
	KindUnauthenticated Kind = "unauthenticated"

	// KindValidation means the request itself is malformed or incomplete.
	KindValidation Kind = "validation"

	// KindParse means an uploaded document could not be extracted.
	KindParse Kind = "parse"

	// KindUpstream means the mail provider or the model backend failed.
	KindUpstream Kind = "upstream"
)

// Error carries a Kind, a short client-safe message and the underlying cause.
// Only Message is ever shown to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Unauthenticated creates an error for a missing or unusable session.
func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, message, nil)
}

// UnauthenticatedWrap is Unauthenticated with a cause attached.
func UnauthenticatedWrap(message string, err error) *Error {
	return New(KindUnauthenticated, message, err)
}

// Validation creates an error for a bad request.
func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

// Parse creates an error for a document that could not be extracted.
func Parse(message string, err error) *Error {
	return New(KindParse, message, err)
}

// Upstream creates an error for a provider or model failure.
func Upstream(message string, err error) *Error {
	return New(KindUpstream, message, err)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or the empty Kind if err is unclassified.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the status code reported to clients.
// Unclassified errors map to 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindParse, KindUpstream:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
