// Package memory is the in-process storage backend used in dev and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/cbrcs/studysession/internal/domain"
)

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.GroupID]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[domain.GroupID]*domain.Session)}
}

func (s *SessionStore) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = clone(sess)
	return nil
}

func (s *SessionStore) Get(_ context.Context, id domain.GroupID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return clone(sess), nil
}

func (s *SessionStore) List(_ context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *clone(sess))
	}
	slices.SortFunc(out, func(a, b domain.Session) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *SessionStore) Update(_ context.Context, id domain.GroupID, fn func(*domain.Session) error) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	next := clone(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.sessions[id] = next
	return clone(next), nil
}

func (s *SessionStore) Delete(_ context.Context, id domain.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func clone(s *domain.Session) *domain.Session {
	c := *s
	c.Members = slices.Clone(s.Members)
	c.ActiveParticipants = slices.Clone(s.ActiveParticipants)
	if s.SessionStartedAt != nil {
		t := *s.SessionStartedAt
		c.SessionStartedAt = &t
	}
	return &c
}

type ChatStore struct {
	mu   sync.RWMutex
	logs map[domain.GroupID][]domain.ChatMessage
}

func NewChatStore() *ChatStore {
	return &ChatStore{logs: make(map[domain.GroupID][]domain.ChatMessage)}
}

func (c *ChatStore) Append(_ context.Context, group domain.GroupID, msg domain.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[group] = append(c.logs[group], msg)
	return nil
}

func (c *ChatStore) History(_ context.Context, group domain.GroupID, limit int) ([]domain.ChatMessage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	log := c.logs[group]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]domain.ChatMessage{}, log...), nil
}

func (c *ChatStore) DeleteGroup(_ context.Context, group domain.GroupID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.logs, group)
	return nil
}
