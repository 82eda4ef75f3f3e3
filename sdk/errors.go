package assistant

import (
	"fmt"
	"net/url"

	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core"
)

// SDK-level error type that wraps core errors
type Error = core.Error

// Error types
const (
	ErrTransport  = core.ErrTransport
	ErrProtocol   = core.ErrProtocol
	ErrPermission = core.ErrPermission
	ErrResource   = core.ErrResource
)

// Error constructors
var (
	NewTransportError  = core.NewTransportError
	NewStatusError     = core.NewStatusError
	NewProtocolError   = core.NewProtocolError
	NewPermissionError = core.NewPermissionError
	NewResourceError   = core.NewResourceError
)

// TransportError represents HTTP transport-level failures (DNS, timeouts,
// connection reset, TLS handshake, etc.) while talking to a backend.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
