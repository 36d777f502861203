package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is what the API renders on failure: a stable code, the HTTP status and
// a client-facing message. Err keeps the cause for logs and errors.Is.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithMessage returns a copy of e with message replacing the default text.
func (e *Error) WithMessage(message string) *Error {
	out := *e
	if message != "" {
		out.Message = message
	}
	return &out
}

// Wrap is WithMessage that also records cause.
func (e *Error) Wrap(cause error, message string) *Error {
	out := e.WithMessage(message)
	out.Err = cause
	return out
}

var (
	ErrValidation         = &Error{Code: "VALIDATION_ERROR", Status: http.StatusBadRequest, Message: "validation failed"}
	ErrUnauthorized       = &Error{Code: "UNAUTHORIZED", Status: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &Error{Code: "FORBIDDEN", Status: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound           = &Error{Code: "NOT_FOUND", Status: http.StatusNotFound, Message: "resource not found"}
	ErrConflict           = &Error{Code: "CONFLICT", Status: http.StatusConflict, Message: "conflict"}
	ErrTooManyRequests    = &Error{Code: "RATE_LIMITED", Status: http.StatusTooManyRequests, Message: "rate limit exceeded"}
	ErrInternal           = &Error{Code: "INTERNAL_ERROR", Status: http.StatusInternalServerError, Message: "internal server error"}
	ErrServiceUnavailable = &Error{Code: "SERVICE_UNAVAILABLE", Status: http.StatusServiceUnavailable, Message: "service unavailable"}
)

// Validation is a 400 for a bad request parameter or payload field.
func Validation(message string) *Error {
	return ErrValidation.WithMessage(message)
}

// Invalid is a 400 caused by a decode or validator failure.
func Invalid(cause error, message string) *Error {
	return ErrValidation.Wrap(cause, message)
}

// Internal hides cause behind a 500; only message reaches the client.
func Internal(cause error, message string) *Error {
	return ErrInternal.Wrap(cause, message)
}

// FromError finds the *Error in err's chain, or classifies err as internal.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err, "")
}
