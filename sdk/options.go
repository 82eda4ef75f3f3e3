package assistant

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Option is a function that configures a Client.
type Option func(*Client)

// WithChatURL sets the chat-completion streaming endpoint.
func WithChatURL(url string) Option {
	return func(c *Client) {
		c.chatURL = url
	}
}

// WithCredentialURL sets the voice credential endpoint.
func WithCredentialURL(url string) Option {
	return func(c *Client) {
		c.credentialURL = url
	}
}

// WithRealtimeURL sets the realtime voice negotiation endpoint.
func WithRealtimeURL(url string) Option {
	return func(c *Client) {
		c.realtimeURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithResponseHeaderTimeout bounds how long a backend may take to send
// response headers. It only applies to the default HTTP client; a client
// set via WithHTTPClient carries its own transport settings.
func WithResponseHeaderTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.headerTimeout = d
		}
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the client.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithHistoryWindow bounds how many prior transcript messages accompany
// each chat request.
func WithHistoryWindow(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.historyWindow = n
		}
	}
}

// WithSessionContext sets the opaque app context forwarded to the backend.
func WithSessionContext(sc SessionContext) Option {
	return func(c *Client) {
		c.sessionCtx = sc
	}
}

// WithTranscriptStore sets the session-scoped transcript store. The
// transcript saved there is restored into the new chat session.
func WithTranscriptStore(s TranscriptStore) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithCaptureDevice sets the microphone source for voice sessions.
func WithCaptureDevice(d CaptureDevice) Option {
	return func(c *Client) {
		c.capture = d
	}
}

// WithAudioSink sets the playback sink for remote voice audio.
func WithAudioSink(s AudioSink) Option {
	return func(c *Client) {
		c.sink = s
	}
}

// WithMetricsRegistry registers the client's counters on reg.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = newMetrics(reg)
	}
}
