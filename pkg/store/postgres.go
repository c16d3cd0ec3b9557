package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore stores sessions and messages in Postgres across two tables,
// chat_sessions and messages. See pkg/store/migrations for the schema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and returns a ready PostgresStore. The
// caller is responsible for running migrations (see Migrate) before use.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) CreateSession(ctx context.Context, userID, title string) (Session, error) {
	var s Session
	const q = `
		INSERT INTO chat_sessions (user_id, title)
		VALUES ($1, $2)
		RETURNING id, user_id, title, created_at, last_updated`
	row := p.pool.QueryRow(ctx, q, userID, title)
	if err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt, &s.LastUpdated); err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) LoadSession(ctx context.Context, userID, id string) (Session, error) {
	var s Session
	const q = `
		SELECT id, user_id, title, created_at, last_updated
		FROM chat_sessions
		WHERE id = $1`
	row := p.pool.QueryRow(ctx, q, id)
	if err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt, &s.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("store: load session: %w", err)
	}
	if s.UserID != userID {
		return Session{}, ErrForbidden
	}
	return s, nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	const q = `
		SELECT id, user_id, title, created_at, last_updated
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY last_updated DESC`
	rows, err := p.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt, &s.LastUpdated); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AppendMessage inserts a message inside a transaction that also bumps the
// owning session's last_updated, relying on a UNIQUE constraint on
// messages.id plus ON CONFLICT DO NOTHING to make retries of the same
// messageID idempotent.
func (p *PostgresStore) AppendMessage(ctx context.Context, sessionID, messageID string, role Role, text string) (Message, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var msg Message
	const insert = `
		INSERT INTO messages (id, session_id, role, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, session_id, role, text, created_at`
	row := tx.QueryRow(ctx, insert, messageID, sessionID, role, text, time.Now())
	err = row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Text, &msg.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// The insert hit the conflict branch: someone already stored this
		// messageID. Fetch what's there instead of failing the retry.
		const sel = `SELECT id, session_id, role, text, created_at FROM messages WHERE id = $1`
		if err := tx.QueryRow(ctx, sel, messageID).Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Text, &msg.CreatedAt); err != nil {
			return Message{}, fmt.Errorf("store: fetch existing message: %w", err)
		}
	case err != nil:
		return Message{}, fmt.Errorf("store: insert message: %w", err)
	default:
		const bump = `UPDATE chat_sessions SET last_updated = $2 WHERE id = $1`
		if _, err := tx.Exec(ctx, bump, sessionID, msg.CreatedAt); err != nil {
			return Message{}, fmt.Errorf("store: bump session: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("store: commit tx: %w", err)
	}
	return msg, nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	const q = `
		SELECT id, session_id, role, text, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC`
	rows, err := p.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
