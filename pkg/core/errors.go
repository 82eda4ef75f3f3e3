package core

import (
	"fmt"
)

// Error is the canonical error carried across component boundaries.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Status  int       `json:"status,omitempty"`
	Body    string    `json:"body,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status: %d)", e.Type, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrTransport covers unreachable backends and non-2xx responses.
	ErrTransport ErrorType = "transport_error"
	// ErrProtocol covers malformed wire payloads and missing required fields.
	ErrProtocol ErrorType = "protocol_error"
	// ErrPermission covers denied access to a local device.
	ErrPermission ErrorType = "permission_error"
	// ErrResource covers operations on a resource that is not available,
	// such as sending on a closed data channel.
	ErrResource ErrorType = "resource_error"
)

// NewTransportError creates a transport error.
func NewTransportError(message string) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
	}
}

// NewStatusError creates a transport error for a non-2xx response,
// keeping the diagnostic body the backend returned.
func NewStatusError(op string, status int, body string) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: fmt.Sprintf("%s failed with status %d", op, status),
		Status:  status,
		Body:    body,
	}
}

// NewProtocolError creates a protocol error.
func NewProtocolError(message string) *Error {
	return &Error{
		Type:    ErrProtocol,
		Message: message,
	}
}

// NewPermissionError creates a permission error.
func NewPermissionError(message string) *Error {
	return &Error{
		Type:    ErrPermission,
		Message: message,
	}
}

// NewResourceError creates a resource error.
func NewResourceError(message string) *Error {
	return &Error{
		Type:    ErrResource,
		Message: message,
	}
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(cause error) *Error {
	e.Cause = cause
	return e
}

// IsRetryable returns true if a fresh attempt may succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrTransport:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}
