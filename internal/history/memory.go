package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps messages in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
	nextID   int64
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Append(_ context.Context, sessionID, role, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := Message{
		ID:        s.nextID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *MemoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	all, _ := s.Messages(ctx, sessionID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) Sessions(_ context.Context) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		Session
		firstUser string
		hasUser   bool
	}
	byID := map[string]*acc{}
	var order []string
	for _, m := range s.messages {
		a, ok := byID[m.SessionID]
		if !ok {
			a = &acc{Session: Session{ID: m.SessionID}}
			byID[m.SessionID] = a
			order = append(order, m.SessionID)
		}
		if m.CreatedAt.After(a.UpdatedAt) {
			a.UpdatedAt = m.CreatedAt
		}
		a.lastID = m.ID
		if m.Role == RoleUser && !a.hasUser {
			a.firstUser, a.hasUser = m.Content, true
		}
	}

	out := make([]Session, 0, len(order))
	for _, id := range order {
		a := byID[id]
		a.Title = Title(a.firstUser, a.hasUser)
		out = append(out, a.Session)
	}
	sortSessions(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.SessionID != sessionID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
