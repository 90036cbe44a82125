package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
)

// ConnEntry is one live signaling connection bound to a room participant.
type ConnEntry struct {
	Group   domain.GroupID
	User    domain.UserID
	Session core.MemberSession
	Cancel  context.CancelFunc

	// Graceful is set when the registry side of the leave is already handled:
	// explicit leave_session, replaced by a newer connection, or eviction.
	Graceful bool
}

// Registry tracks live signaling connections by participant id.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ParticipantID]*ConnEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ParticipantID]*ConnEntry)}
}

func (r *Registry) Bind(
	pid domain.ParticipantID,
	group domain.GroupID,
	user domain.UserID,
	sess core.MemberSession,
	cancel context.CancelFunc,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[pid] = &ConnEntry{Group: group, User: user, Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Str("group", string(group)).Msg("bound connection")
}

// Lookup returns a copy of the entry for pid.
func (r *Registry) Lookup(pid domain.ParticipantID) (ConnEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[pid]
	if !ok {
		return ConnEntry{}, false
	}
	return *e, true
}

// Unbind removes pid and returns what was bound to it.
func (r *Registry) Unbind(pid domain.ParticipantID) (ConnEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[pid]
	if !ok {
		return ConnEntry{}, false
	}
	delete(r.conns, pid)
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Bool("graceful", e.Graceful).Msg("unbind connection")
	return *e, true
}

func (r *Registry) MarkGraceful(pid domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[pid]
	if ok {
		e.Graceful = true
	}
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel stops the pumps of pid's connection.
func (r *Registry) Cancel(pid domain.ParticipantID) bool {
	r.mu.RLock()
	e, ok := r.conns[pid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("pid", string(pid)).Msg("canceled connection")
	return true
}
