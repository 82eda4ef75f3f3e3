package assistant

import (
	"sync"

	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core/types"
)

// TranscriptStore mirrors the conversation transcript for the lifetime of
// one app session, so a reload within the session restores the
// conversation. It is created on session start and cleared on Clear; it
// is explicitly not a database and never outlives the session.
//
// The store is owned exclusively by the chat session; no other component
// writes to it.
type TranscriptStore interface {
	// Save replaces the stored transcript.
	Save(msgs []types.Message) error
	// Load returns the stored transcript, or nil when nothing was saved.
	Load() ([]types.Message, error)
	// Clear discards the stored transcript.
	Clear() error
}

// MemoryStore is the in-process TranscriptStore.
type MemoryStore struct {
	mu   sync.Mutex
	msgs []types.Message
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored transcript.
func (s *MemoryStore) Save(msgs []types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = types.CloneMessages(msgs)
	return nil
}

// Load returns a copy of the stored transcript.
func (s *MemoryStore) Load() ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.CloneMessages(s.msgs), nil
}

// Clear discards the stored transcript.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	return nil
}
