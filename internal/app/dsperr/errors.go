// Package dsperr defines the connector's error taxonomy and its mapping to
// HTTP status codes and the uniform DSP error body.
package dsperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind names one of the error categories the connector recognises. Every
// engine and store method returns an *Error so the transport layer can apply
// a single, consistent mapping to status codes and logs.
type Kind string

const (
	KindBadPayload        Kind = "BadPayload"
	KindNotFound          Kind = "NotFound"
	KindProtocolViolation Kind = "ProtocolViolation"
	KindUnauthorized      Kind = "Unauthorized"
	KindPeerUnreachable   Kind = "PeerUnreachable"
	KindPeerError         Kind = "PeerError"
	KindPolicyRejected    Kind = "PolicyRejected"
	KindBackend           Kind = "Backend"
	KindInternal          Kind = "Internal"
)

// Error is the connector's uniform error type.
type Error struct {
	Kind    Kind
	Message string
	Reason  []string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusCode maps the error kind to the HTTP status the transport layer
// should return, per the connector's error-handling design.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindBadPayload:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindProtocolViolation:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindPeerUnreachable, KindPeerError:
		return http.StatusBadGateway
	case KindPolicyRejected:
		return http.StatusConflict
	case KindBackend:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New constructs an Error of the given kind.
func New(kind Kind, message string, reasons ...string) *Error {
	return &Error{Kind: kind, Message: message, Reason: reasons}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// BadPayload is a convenience constructor for malformed-request errors.
func BadPayload(format string, args ...any) *Error {
	return New(KindBadPayload, fmt.Sprintf(format, args...))
}

// NotFound is a convenience constructor for missing-resource errors.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// ProtocolViolation is a convenience constructor naming the illegal transition.
func ProtocolViolation(format string, args ...any) *Error {
	return New(KindProtocolViolation, fmt.Sprintf(format, args...))
}

// Unauthorized is a convenience constructor for data-plane auth failures.
func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, fmt.Sprintf(format, args...))
}

// PolicyRejected is a convenience constructor naming the policy hook's reason.
func PolicyRejected(reason string) *Error {
	return New(KindPolicyRejected, "policy evaluator rejected", reason)
}

// Internal is a convenience constructor for unreachable-invariant violations.
func Internal(format string, args ...any) *Error {
	return New(KindInternal, fmt.Sprintf(format, args...))
}

// Backend wraps an unexpected repository/collaborator failure.
func Backend(cause error, message string) *Error {
	return Wrap(KindBackend, cause, message)
}

// As extracts an *Error from err, or synthesizes an Internal one if err is
// not already typed.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindInternal, err, "unclassified error")
}
