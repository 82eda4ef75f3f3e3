// Package assistant implements the client-side core of the in-app AI
// assistant: incremental text chat over a streamed HTTP body and live
// voice over a WebRTC peer connection with a JSON control-event channel.
//
// The package exposes one surface, Client, which owns a text session and
// a voice session and arbitrates which of the two presents as "the
// assistant is responding".
package assistant

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const defaultHistoryWindow = 12

// SessionContext carries opaque app-level context (page identity,
// wallet/points snapshot, role, username) forwarded verbatim with chat and
// negotiation requests. The core never interprets it.
type SessionContext map[string]any

// Client is the single entry point for the assistant core.
type Client struct {
	Chat  *ChatSession
	Voice *VoiceController

	chatURL       string
	credentialURL string
	realtimeURL   string
	historyWindow int
	headerTimeout time.Duration
	sessionCtx    SessionContext

	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics

	store   TranscriptStore
	capture CaptureDevice
	sink    AudioSink

	// rootCtx scopes every in-flight text stream; Teardown cancels it.
	rootCtx context.Context
	cancel  context.CancelFunc
}

// New creates a client. Backend endpoints come from options; sessions are
// created eagerly so callers can subscribe before any I/O happens.
func New(opts ...Option) *Client {
	c := &Client{
		historyWindow: defaultHistoryWindow,
		headerTimeout: defaultResponseHeaderTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newHTTPClient(c.headerTimeout)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.metrics == nil {
		c.metrics = newMetrics(nil)
	}
	c.rootCtx, c.cancel = context.WithCancel(context.Background())

	c.Chat = newChatSession(c)
	c.Voice = newVoiceController(c, &Negotiator{
		credentialURL: c.credentialURL,
		realtimeURL:   c.realtimeURL,
		httpClient:    c.httpClient,
		logger:        c.logger,
	})
	return c
}
