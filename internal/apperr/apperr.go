// Package apperr defines the typed error taxonomy shared by services and
// handlers. Handlers map kinds to HTTP statuses; services decide which kinds
// abort an operation and which degrade to a fallback.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindNotFound
	KindLimitExceeded
	KindUpstream
	KindParse
	KindValidation
)

// Error carries a kind, a short machine code and a user-facing message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a typed error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a typed error.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// Authorization reports that the acting user may not touch the resource.
func Authorization(message string) *Error {
	return New(KindAuthorization, "PERMISSION_DENIED", message)
}

// NotFound reports a missing resource.
func NotFound(message string) *Error {
	return New(KindNotFound, "DATA_NOT_FOUND", message)
}

// LimitExceeded reports a conversation-level ceiling violation.
func LimitExceeded(message string) *Error {
	return New(KindLimitExceeded, "LIMIT_EXCEEDED", message)
}

// Upstream reports a model/search/audio provider failure.
func Upstream(message string, cause error) *Error {
	return Wrap(KindUpstream, "UPSTREAM_FAILED", message, cause)
}

// Parse reports unrecoverable AI output.
func Parse(message string, cause error) *Error {
	return Wrap(KindParse, "AI_RESPONSE_INVALID", message, cause)
}

// Validation reports malformed caller input.
func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION_ERROR", message)
}

// KindOf extracts the kind from any error chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf extracts the machine code, defaulting to SYSTEM_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "SYSTEM_ERROR"
}

// HTTPStatus maps an error to the status a handler should respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindLimitExceeded:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindParse:
		return http.StatusBadGateway
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
