package history

import (
	"strings"
	"time"
)

// Roles stored in the message log.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// UntitledSession is the title of a session with no user message yet.
const UntitledSession = "New Conversation"

const titleMaxRunes = 60

// Message is a single persisted chat message. ID is assigned by the store and
// increases across the whole store, so it also orders messages in a session.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session summarizes the messages sharing one session id.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`

	lastID int64
}

// Title derives a session title from its first user message. ok is false when
// the session has no user message.
func Title(firstUser string, ok bool) string {
	firstUser = strings.TrimSpace(firstUser)
	if !ok || firstUser == "" {
		return UntitledSession
	}
	r := []rune(firstUser)
	if len(r) <= titleMaxRunes {
		return firstUser
	}
	return string(r[:titleMaxRunes]) + "..."
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ParseTimestamp parses a stored timestamp with or without fractional
// seconds. Anything else yields the zero time.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// formatTimestamp is the textual form written by the SQLite store.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000")
}
