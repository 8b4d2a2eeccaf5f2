package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/K8rrik/FreeCluely/pkg/chat"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id         UUID         PRIMARY KEY,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    messages   JSONB        NOT NULL DEFAULT '[]'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_sessions_created_at
    ON sessions (created_at DESC);
`

// PostgresStore keeps one row per session with the message transcript as a
// JSONB column. All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, verifies the connection,
// and ensures the sessions table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Load returns all stored sessions, newest first.
func (s *PostgresStore) Load(ctx context.Context) ([]chat.Session, error) {
	const q = `
		SELECT id, created_at, messages
		FROM   sessions
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Session, error) {
		var (
			sess chat.Session
			raw  []byte
		)
		if err := row.Scan(&sess.ID, &sess.CreatedAt, &raw); err != nil {
			return chat.Session{}, err
		}
		if err := json.Unmarshal(raw, &sess.Messages); err != nil {
			return chat.Session{}, fmt.Errorf("session %s: decode messages: %w", sess.ID, err)
		}
		return sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	return sessions, nil
}

// Save upserts every session and removes rows absent from the given set, all
// in one transaction so readers never observe a partial history.
func (s *PostgresStore) Save(ctx context.Context, sessions []chat.Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO sessions (id, created_at, updated_at, messages)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET updated_at = EXCLUDED.updated_at,
		    messages   = EXCLUDED.messages`

	keep := make([]uuid.UUID, 0, len(sessions))
	now := time.Now().UTC()
	for _, sess := range sessions {
		raw, err := json.Marshal(sess.Messages)
		if err != nil {
			return fmt.Errorf("history: encode session %s: %w", sess.ID, err)
		}
		if _, err := tx.Exec(ctx, upsert, sess.ID, sess.CreatedAt, now, raw); err != nil {
			return fmt.Errorf("history: upsert session %s: %w", sess.ID, err)
		}
		keep = append(keep, sess.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE NOT (id = ANY($1))`, keep); err != nil {
		return fmt.Errorf("history: prune deleted sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}
