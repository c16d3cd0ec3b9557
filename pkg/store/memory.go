package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process fake Store for tests, in the style of the
// teacher's hand-rolled fake providers.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	messages map[string][]Message
	seenMsgs map[string]Message // messageID -> stored message, for idempotency
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
		seenMsgs: make(map[string]Message),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, userID, title string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		CreatedAt:   now,
		LastUpdated: now,
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) LoadSession(_ context.Context, userID, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.UserID != userID {
		return Session{}, ErrForbidden
	}
	return s, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, sessionID, messageID string, role Role, text string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.seenMsgs[messageID]; ok {
		return existing, nil
	}

	msg := Message{
		ID:        messageID,
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	m.seenMsgs[messageID] = msg

	if s, ok := m.sessions[sessionID]; ok {
		s.LastUpdated = msg.CreatedAt
		m.sessions[sessionID] = s
	}

	return msg, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, len(m.messages[sessionID]))
	copy(out, m.messages[sessionID])
	return out, nil
}

func (m *MemoryStore) Close() {}
