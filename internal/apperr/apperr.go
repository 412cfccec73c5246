// Package apperr implements the gateway's typed error taxonomy.
//
// Every failure that can reach the public HTTP boundary is represented as
// an *Error carrying a stable machine-readable code, the HTTP status it
// maps to, and a human message. Handlers never hand-construct the JSON
// envelope; they return an *Error (or a plain error, which is adapted to
// Internal) and let the httpapi layer render it.
package apperr

import "errors"

// Error is the gateway's error type. It is immutable once created; helper
// methods return copies.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same code, so a copy made
// by WithCause or WithMessage still matches its taxonomy entry.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithCause returns a copy of e carrying the underlying error (not exposed
// in the JSON response, useful for logging).
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.cause = err
	return &cp
}

// WithMessage returns a copy of e with a different message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Taxonomy — spec.md §7.
var (
	MissingInstanceID   = New(400, "MISSING_INSTANCE_ID", "missing instance id")
	InvalidInstanceID   = New(400, "INVALID_INSTANCE_ID", "invalid instance id format")
	InstanceNotFound    = New(404, "DEVICE_NOT_FOUND", "instance not found")
	InstanceNotActive   = New(400, "DEVICE_NOT_ACTIVE", "instance is not active")
	InstanceExists      = New(409, "CONFLICT", "instance already exists")
	ContainerUnreachable = New(503, "CONTAINER_UNREACHABLE", "worker unreachable")
	ContainerError      = New(503, "CONTAINER_ERROR", "worker connection failed")
	ProxyErr            = New(500, "PROXY_ERROR", "proxy request failed")
	PortsExhausted      = New(500, "PORTS_EXHAUSTED", "no free ports available")
	MissingCredentials  = New(401, "MISSING_CREDENTIALS", "missing credentials")
	InvalidCredentials  = New(401, "INVALID_CREDENTIALS", "invalid credentials")
	AuthError           = New(401, "AUTH_ERROR", "authentication failed")
	RequestTimeout      = New(408, "REQUEST_TIMEOUT", "request timed out")
	ValidationErr       = New(400, "VALIDATION_ERROR", "validation failed")
	Internal            = New(500, "INTERNAL_ERROR", "internal server error")
)

// As exposes errors.As for callers that only import apperr.
func As(err error, target any) bool { return errors.As(err, target) }

// Is exposes errors.Is for callers that only import apperr.
func Is(err, target error) bool { return errors.Is(err, target) }

// From adapts an arbitrary error to *Error, defaulting to Internal. It
// never panics and never returns nil for a non-nil input.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal.WithCause(err)
}
