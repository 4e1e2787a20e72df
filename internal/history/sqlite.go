package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/localchat/internal/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_session ON messages (session_id);`

// SQLiteStore keeps messages in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and ensures the
// messages table exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "chat_history.db"
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create sqlite schema: %w", err)
	}
	logger.L.Info("sqlite history DB initialized", "path", path)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID, role, content string) (Message, error) {
	m := Message{SessionID: sessionID, Role: role, Content: content, CreatedAt: s.now().UTC()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, formatTimestamp(m.CreatedAt))
	if err != nil {
		return Message{}, fmt.Errorf("history: append: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return Message{}, fmt.Errorf("history: append: %w", err)
	}
	// Round-trip precision matches what a later read returns.
	m.CreatedAt = ParseTimestamp(formatTimestamp(m.CreatedAt))
	return m, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := s.query(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	reverse(msgs)
	return msgs, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	msgs, err := s.query(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m  Message
			ts string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.CreatedAt = ParseTimestamp(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id,
		       MAX(m.created_at),
		       MAX(m.id),
		       (SELECT u.content FROM messages u
		         WHERE u.session_id = m.session_id AND u.role = 'user'
		         ORDER BY u.id ASC LIMIT 1)
		FROM messages m
		GROUP BY m.session_id`)
	if err != nil {
		return nil, fmt.Errorf("history: sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess      Session
			updated   string
			firstUser sql.NullString
		)
		if err := rows.Scan(&sess.ID, &updated, &sess.lastID, &firstUser); err != nil {
			return nil, fmt.Errorf("history: sessions: %w", err)
		}
		sess.UpdatedAt = ParseTimestamp(updated)
		sess.Title = Title(firstUser.String, firstUser.Valid)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: sessions: %w", err)
	}
	sortSessions(out)
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("history: delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
