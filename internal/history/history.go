// Package history persists chat messages per session.
//
// Three backends implement Store: SQLite (the default, created on first use),
// PostgreSQL (schema managed by embedded migrations) and an in-process store
// used by tests and throwaway deployments.
package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/comigor/localchat/internal/config"
)

// Store is a durable, append-only message log keyed by session.
// Implementations are safe for concurrent use.
type Store interface {
	// Append inserts a message and returns it with its assigned ID and
	// timestamp. Duplicate content is allowed.
	Append(ctx context.Context, sessionID, role, content string) (Message, error)
	// Recent returns up to limit of the newest messages in chronological order.
	Recent(ctx context.Context, sessionID string, limit int) ([]Message, error)
	// Messages returns every message of a session in chronological order.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	// Sessions lists every session, most recently active first.
	Sessions(ctx context.Context) ([]Session, error)
	// Delete removes a session. Unknown sessions are not an error.
	Delete(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("history: unknown driver %q", cfg.Driver)
	}
}

// sortSessions orders by UpdatedAt descending. Sessions updated within the
// same clock tick fall back to the newest message id.
func sortSessions(s []Session) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].UpdatedAt.After(s[j].UpdatedAt)
		}
		return s[i].lastID > s[j].lastID
	})
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
