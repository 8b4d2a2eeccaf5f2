// Package history persists conversation sessions across restarts.
//
// Two implementations are provided: [FileStore] writes the whole history as a
// single JSON document (suitable for a local single-user install), and
// [PostgresStore] keeps one row per session in PostgreSQL. Both satisfy
// [Store] and are safe for concurrent use.
package history

import (
	"context"

	"github.com/K8rrik/FreeCluely/pkg/chat"
)

// Store loads and saves the full conversation history. Sessions are ordered
// newest first; Save replaces the stored set wholesale so deletions made by
// the caller propagate naturally.
type Store interface {
	Load(ctx context.Context) ([]chat.Session, error)
	Save(ctx context.Context, sessions []chat.Session) error
}
