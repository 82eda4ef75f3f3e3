package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core/types"
)

func sseHandler(deltas ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, d := range deltas {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": d}}},
			})
			io.WriteString(w, "data: "+string(payload)+"\n\n")
			flusher.Flush()
		}
		io.WriteString(w, "data: [DONE]\n")
		flusher.Flush()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChatSession_StreamsDeltasIntoPlaceholder(t *testing.T) {
	srv := httptest.NewServer(sseHandler("Hi ", "there"))
	defer srv.Close()

	c := New(WithChatURL(srv.URL))
	defer c.Teardown()

	var mu sync.Mutex
	var snapshots [][]types.Message
	c.Chat.OnUpdate(func(msgs []types.Message) {
		mu.Lock()
		snapshots = append(snapshots, msgs)
		mu.Unlock()
	})

	before := len(c.Chat.Messages())
	reply := c.Send("Hello")
	<-reply.Done()

	msgs := c.Chat.Messages()
	if len(msgs) != before+2 {
		t.Fatalf("transcript length = %d, want %d", len(msgs), before+2)
	}
	user, asst := msgs[0], msgs[1]
	if user.Role != types.RoleUser || user.Content != "Hello" {
		t.Fatalf("user message = %+v", user)
	}
	if user.ID != reply.UserID {
		t.Fatalf("user id = %q, want %q", user.ID, reply.UserID)
	}
	if asst.Role != types.RoleAssistant || asst.Content != "Hi there" {
		t.Fatalf("assistant message = %+v", asst)
	}
	if asst.ID != reply.AssistantID() {
		t.Fatalf("assistant id = %q, want %q", asst.ID, reply.AssistantID())
	}
	if c.Chat.IsLoading() {
		t.Fatal("IsLoading() = true after the turn resolved")
	}

	// the placeholder must exist, empty, before the first delta fills it
	mu.Lock()
	defer mu.Unlock()
	for _, snap := range snapshots {
		last := snap[len(snap)-1]
		if last.Role == types.RoleAssistant {
			if last.Content != "" {
				t.Fatalf("first assistant snapshot content = %q, want empty placeholder", last.Content)
			}
			return
		}
	}
	t.Fatal("no snapshot contained the assistant placeholder")
}

func TestChatSession_ServerErrorSynthesizesApology(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	c := New(WithChatURL(srv.URL))
	defer c.Teardown()

	reply := c.Send("Hello")
	<-reply.Done()

	msgs := c.Chat.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(msgs))
	}
	if msgs[1].Role != types.RoleAssistant || msgs[1].Content != apologyText {
		t.Fatalf("assistant message = %+v, want apology", msgs[1])
	}
	if c.Chat.IsLoading() {
		t.Fatal("IsLoading() = true after the failed turn resolved")
	}
}

func TestChatSession_TransportErrorSynthesizesApology(t *testing.T) {
	// nothing listens here
	c := New(WithChatURL("http://127.0.0.1:1"))
	defer c.Teardown()

	reply := c.Send("Hello")
	<-reply.Done()

	msgs := c.Chat.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(msgs))
	}
	if msgs[1].Content != apologyText {
		t.Fatalf("assistant content = %q, want apology", msgs[1].Content)
	}
}

func TestChatSession_MidStreamFailureKeepsPartialContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n")
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close() // abrupt close mid-body
	}))
	defer srv.Close()

	c := New(WithChatURL(srv.URL))
	defer c.Teardown()

	reply := c.Send("Hello")
	<-reply.Done()

	msgs := c.Chat.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(msgs))
	}
	if msgs[1].Content != "Hel" {
		t.Fatalf("assistant content = %q, want partial %q preserved", msgs[1].Content, "Hel")
	}
}

func TestChatSession_HistoryWindowBoundsRequest(t *testing.T) {
	var mu sync.Mutex
	var lastRequest chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		lastRequest = chatRequest{}
		json.Unmarshal(body, &lastRequest)
		mu.Unlock()
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	c := New(
		WithChatURL(srv.URL),
		WithHistoryWindow(3),
		WithSessionContext(SessionContext{"page": "dashboard"}),
	)
	defer c.Teardown()

	for _, content := range []string{"one", "two", "three", "four"} {
		<-c.Send(content).Done()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lastRequest.Messages) != 4 {
		t.Fatalf("request carried %d messages, want 3 prior + 1 new", len(lastRequest.Messages))
	}
	if got := lastRequest.Messages[len(lastRequest.Messages)-1]; got.Role != types.RoleUser || got.Content != "four" {
		t.Fatalf("last request message = %+v, want the new user turn", got)
	}
	// oldest-first within the window
	if lastRequest.Messages[0].Content == "four" {
		t.Fatal("request window is not oldest-first")
	}
	if page, _ := lastRequest.Context["page"].(string); page != "dashboard" {
		t.Fatalf("request context page = %v, want dashboard", lastRequest.Context["page"])
	}
}

func TestChatSession_ClearDropsTranscriptAndStore(t *testing.T) {
	srv := httptest.NewServer(sseHandler("answer"))
	defer srv.Close()

	store := NewMemoryStore()
	c := New(WithChatURL(srv.URL), WithTranscriptStore(store))
	defer c.Teardown()

	<-c.Send("Hello").Done()
	if len(c.Chat.Messages()) == 0 {
		t.Fatal("expected transcript before Clear")
	}

	c.Clear()
	if got := c.Chat.Messages(); len(got) != 0 {
		t.Fatalf("transcript after Clear = %v, want empty", got)
	}
	saved, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(saved) != 0 {
		t.Fatalf("store after Clear = %v, want empty", saved)
	}
}

func TestChatSession_RestoresFromStore(t *testing.T) {
	store := NewMemoryStore()
	saved := []types.Message{
		types.NewUserMessage("earlier question", nil),
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	c := New(WithChatURL("http://unused"), WithTranscriptStore(store))
	defer c.Teardown()

	msgs := c.Chat.Messages()
	if len(msgs) != 1 || msgs[0].Content != "earlier question" {
		t.Fatalf("restored transcript = %v", msgs)
	}
}

func TestChatSession_CancelledStreamFinalizesQuietly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(WithChatURL(srv.URL))
	defer c.Teardown()

	ctx, cancel := context.WithCancel(context.Background())
	reply := c.Chat.Send(ctx, "Hello")

	waitFor(t, "partial content", func() bool {
		msgs := c.Chat.Messages()
		return len(msgs) == 2 && msgs[1].Content == "Hel"
	})
	cancel()
	<-reply.Done()

	msgs := c.Chat.Messages()
	if msgs[1].Content != "Hel" {
		t.Fatalf("assistant content = %q, want partial %q preserved without apology", msgs[1].Content, "Hel")
	}
	if c.Chat.IsLoading() {
		t.Fatal("IsLoading() = true after cancellation")
	}
}
