package assistant

import (
	"net"
	"net/http"
	"time"
)

// defaultResponseHeaderTimeout bounds how long a backend may sit on a
// request before sending headers. Once the chat stream's headers arrive
// the body may flow for an unbounded time, so this is the only timeout
// that applies to a streaming turn; the short negotiation POSTs are
// additionally bounded by their request contexts.
const defaultResponseHeaderTimeout = 30 * time.Second

// newHTTPClient configures transport-level timeouts while keeping the
// overall request lifetime controlled by context deadlines.
//
// We intentionally do not set http.Client.Timeout because chat responses
// stream for an unbounded time.
func newHTTPClient(responseHeaderTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
	return &http.Client{Transport: transport}
}
