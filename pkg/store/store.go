// Package store persists chat sessions and their messages.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session or message lookup finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrForbidden is returned when a session exists but does not belong to
// the calling user.
var ErrForbidden = errors.New("store: forbidden")

// Session is a single chat conversation owned by one user.
type Session struct {
	ID          string
	UserID      string
	Title       string
	CreatedAt   time.Time
	LastUpdated time.Time
}

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a Session's transcript.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Text      string
	CreatedAt time.Time
}

// Store is the persistence boundary for sessions and messages.
type Store interface {
	// CreateSession creates a new session owned by userID and returns it.
	CreateSession(ctx context.Context, userID, title string) (Session, error)

	// LoadSession returns the session with id, scoped to userID. It
	// returns ErrNotFound if no such session exists, and ErrForbidden if
	// it exists but belongs to a different user.
	LoadSession(ctx context.Context, userID, id string) (Session, error)

	// ListSessions returns userID's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]Session, error)

	// AppendMessage appends a message to a session, identified by a
	// caller-assigned messageID. Appending the same messageID twice is a
	// no-op that returns the message as originally stored, making the
	// call safe to retry.
	AppendMessage(ctx context.Context, sessionID, messageID string, role Role, text string) (Message, error)

	// ListMessages returns a session's messages in chronological order.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	Close()
}
