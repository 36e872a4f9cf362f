package models

import (
	"errors"
	"net/http"
)

// Kind classifies a conversion failure so callers can tell a bad upload
// apart from a bad deployment.
type Kind string

const (
	KindValidation  Kind = "validation"  // bad input filename
	KindIO          Kind = "io"          // staging write failure
	KindTimeout     Kind = "timeout"     // tool exceeded its deadline
	KindConversion  Kind = "conversion"  // tool failed or produced no output
	KindEnvironment Kind = "environment" // container runtime unavailable
	KindUnexpected  Kind = "unexpected"  // anything else
)

// Error is the single error type crossing package boundaries in this
// service. Message is safe to return to the caller.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates an Error with no underlying cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error that carries the underlying cause.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AsError coerces any error into *Error. Errors that did not originate in
// this service become KindUnexpected.
func AsError(err error) *Error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return WrapError(KindUnexpected, "an unexpected error occurred", err)
}

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
