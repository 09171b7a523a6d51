// Package errors classifies failures into the response types the API
// reports and maps each type to an HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category reported to clients in the "type" field.
type ErrorType string

const (
	// TypeValidation: malformed ids, sources or overlay fields (400).
	TypeValidation ErrorType = "validation"
	// TypeNotFound: unknown overlay or setting (404).
	TypeNotFound ErrorType = "not_found"
	// TypeUnavailable: the store is unreachable or the server is shutting down (503).
	TypeUnavailable ErrorType = "unavailable"
	// TypeIngest: the stream's supervisor could not carry out the command (502).
	TypeIngest ErrorType = "ingest"
	// TypeInternal: anything else (500).
	TypeInternal ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	TypeValidation:  http.StatusBadRequest,
	TypeNotFound:    http.StatusNotFound,
	TypeUnavailable: http.StatusServiceUnavailable,
	TypeIngest:      http.StatusBadGateway,
	TypeInternal:    http.StatusInternalServerError,
}

// Error is a classified failure. Message is safe to show to clients; Cause
// is only logged.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the type to a status code. Unknown types are 500.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByType[e.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// TypeForStatus is the inverse of HTTPStatus for errors raised by the router
// itself. Client errors without a type of their own count as validation.
func TypeForStatus(status int) ErrorType {
	for t, s := range statusByType {
		if s == status {
			return t
		}
	}
	if status >= 400 && status < 500 {
		return TypeValidation
	}
	return TypeInternal
}

func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

func UnavailableError(message string, cause error) *Error {
	return newError(TypeUnavailable, message, cause)
}

// IngestError reports a supervisor that is closed or did not answer.
func IngestError(message string, cause error) *Error {
	return newError(TypeIngest, message, cause)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// WithField adds a context field to the response (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructuredError returns the *Error in err's chain, or wraps err as an
// internal error. Nil stays nil.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}
	return InternalError("internal server error", err)
}
