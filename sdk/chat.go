package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core"
	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core/types"
)

// apologyText is the single user-facing notice for a failed chat turn.
const apologyText = "Sorry, something went wrong while answering. Please try again in a moment."

// ChatSession owns the conversation transcript and drives streamed chat
// turns. The transcript is append-only: message id and role never change
// after creation, only assistant content grows.
//
// All I/O errors are converted into transcript state here; Send never
// surfaces an error to the caller.
type ChatSession struct {
	client *Client

	mu       sync.Mutex
	messages []types.Message
	// generation is bumped by Clear so in-flight streams stop mutating a
	// transcript that no longer exists.
	generation uint64
	onUpdate   func([]types.Message)

	active atomic.Int32
}

func newChatSession(c *Client) *ChatSession {
	s := &ChatSession{client: c}
	saved, err := c.store.Load()
	if err != nil {
		c.logger.Warn("transcript restore failed", "error", err)
	} else if len(saved) > 0 {
		s.messages = saved
	}
	return s
}

// OnUpdate registers the transcript observer. It is invoked with a fresh
// snapshot after every transcript mutation.
func (s *ChatSession) OnUpdate(fn func([]types.Message)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Messages returns a snapshot copy of the transcript.
func (s *ChatSession) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneMessages(s.messages)
}

// IsLoading reports whether a chat turn is currently streaming.
func (s *ChatSession) IsLoading() bool {
	return s.active.Load() > 0
}

// Clear drops the transcript and the backing store immediately.
func (s *ChatSession) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.generation++
	s.mu.Unlock()
	if err := s.client.store.Clear(); err != nil {
		s.client.logger.Warn("transcript store clear failed", "error", err)
	}
	s.publish()
}

// Reply is the handle for one chat turn.
type Reply struct {
	// UserID is the id of the user message appended by Send.
	UserID string

	assistantID string
	done        chan struct{}
}

// Done is closed when the turn has fully resolved.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// AssistantID blocks until the turn resolves and returns the id of the
// assistant message, or "" when the turn was discarded by Clear or
// teardown before a response began.
func (r *Reply) AssistantID() string {
	<-r.done
	return r.assistantID
}

// wireMessage is one transcript entry as the chat endpoint sees it.
type wireMessage struct {
	Role        types.Role         `json:"role"`
	Content     string             `json:"content"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

type chatRequest struct {
	Messages []wireMessage  `json:"messages"`
	Context  SessionContext `json:"context,omitempty"`
}

// Send appends the user message synchronously, then streams the assistant
// response in the background. It never blocks on network I/O and never
// returns an error; failed turns resolve into one synthesized assistant
// message.
func (s *ChatSession) Send(ctx context.Context, content string, attachments ...types.Attachment) *Reply {
	user := types.NewUserMessage(content, attachments)

	s.mu.Lock()
	gen := s.generation
	s.messages = append(s.messages, user)
	window := s.requestWindowLocked()
	s.mirrorLocked()
	s.mu.Unlock()
	s.publish()

	reply := &Reply{UserID: user.ID, done: make(chan struct{})}
	s.active.Add(1)
	s.client.metrics.chatTurns.Inc()
	go func() {
		defer close(reply.done)
		defer s.active.Add(-1)
		reply.assistantID = s.stream(ctx, gen, window)
	}()
	return reply
}

// requestWindowLocked builds the request payload: the most recent
// historyWindow prior turns plus the new user message, oldest-first.
func (s *ChatSession) requestWindowLocked() []wireMessage {
	start := len(s.messages) - s.client.historyWindow - 1
	if start < 0 {
		start = 0
	}
	window := make([]wireMessage, 0, len(s.messages)-start)
	for _, m := range s.messages[start:] {
		window = append(window, wireMessage{Role: m.Role, Content: m.Content, Attachments: m.Attachments})
	}
	return window
}

// stream runs one chat turn to completion and returns the assistant
// message id, or "" when the turn was discarded before a response began.
func (s *ChatSession) stream(ctx context.Context, gen uint64, window []wireMessage) string {
	c := s.client
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "assistant.chat.turn",
			trace.WithAttributes(attribute.Int("assistant.window_size", len(window))))
		defer span.End()
	}

	body, err := json.Marshal(chatRequest{Messages: window, Context: c.sessionCtx})
	if err != nil {
		return s.failTurn(gen, core.NewProtocolError("encode chat request").Wrap(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return s.failTurn(gen, core.NewTransportError("build chat request").Wrap(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// teardown discarded the turn before a response arrived
			return ""
		}
		return s.failTurn(gen, &TransportError{Op: "POST", URL: c.chatURL, Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		msg := string(diag)
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(diag, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return s.failTurn(gen, core.NewStatusError("chat request", resp.StatusCode, msg))
	}

	frames := newFrameReader(resp.Body, c.metrics.droppedRecords)
	defer frames.Close()

	// The placeholder exists before the first delta so the UI has a
	// stable message to fill in-place.
	placeholder := types.NewAssistantPlaceholder()
	if !s.appendMessage(gen, placeholder) {
		return ""
	}

	for {
		frame, err := frames.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// teardown mid-stream: keep whatever already arrived
				break
			}
			// Mid-stream failure: preserve partial content; an empty
			// placeholder carries the apology instead.
			c.logger.Error("chat stream failed mid-response", "error", err)
			c.metrics.chatFailures.Inc()
			s.fillIfEmpty(gen, placeholder.ID, apologyText)
			return placeholder.ID
		}
		switch frame.Kind {
		case types.FrameDelta:
			if frame.Text != "" {
				s.appendText(gen, placeholder.ID, frame.Text)
			}
		case types.FrameMalformed:
			// counted by the reader, nothing to apply
		case types.FrameTerminator:
			return placeholder.ID
		}
	}
	return placeholder.ID
}

// failTurn resolves a turn that produced no stream: it synthesizes the
// single terminal assistant message carrying the failure notice.
func (s *ChatSession) failTurn(gen uint64, cause error) string {
	s.client.logger.Error("chat turn failed", "error", cause)
	s.client.metrics.chatFailures.Inc()
	failure := types.NewAssistantPlaceholder()
	failure.Content = apologyText
	if !s.appendMessage(gen, failure) {
		return ""
	}
	return failure.ID
}

// appendMessage appends msg unless the transcript generation moved on.
func (s *ChatSession) appendMessage(gen uint64, msg types.Message) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages, msg)
	s.mirrorLocked()
	s.mu.Unlock()
	s.publish()
	return true
}

// appendText grows the content of the message with the given id. Deltas
// are applied by identity, in arrival order.
func (s *ChatSession) appendText(gen uint64, id, text string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			s.messages[i].Content += text
			break
		}
	}
	s.mirrorLocked()
	s.mu.Unlock()
	s.publish()
}

// fillIfEmpty sets text as the content of the message with the given id
// if nothing streamed into it.
func (s *ChatSession) fillIfEmpty(gen uint64, id, text string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			if s.messages[i].Content == "" {
				s.messages[i].Content = text
			}
			break
		}
	}
	s.mirrorLocked()
	s.mu.Unlock()
	s.publish()
}

func (s *ChatSession) mirrorLocked() {
	if err := s.client.store.Save(types.CloneMessages(s.messages)); err != nil {
		s.client.logger.Warn("transcript mirror failed", "error", err)
	}
}

func (s *ChatSession) publish() {
	s.mu.Lock()
	fn := s.onUpdate
	snapshot := types.CloneMessages(s.messages)
	s.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}
