package core

import (
	"sync"

	"github.com/cbrcs/studysession/internal/domain"
)

// MemberSession binds a room participant and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() domain.Participant
	Signal() SignalConnection
}

type memberSession struct {
	mu   sync.RWMutex
	meta domain.Participant
	conn SignalConnection
}

func NewMemberSession(meta domain.Participant, conn SignalConnection) MemberSession {
	return &memberSession{meta: meta, conn: conn}
}

func (m *memberSession) Meta() domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

func (m *memberSession) Signal() SignalConnection { return m.conn }

func (m *memberSession) update(fn func(*domain.Participant)) domain.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.meta)
	return m.meta
}
