package core

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

// roomImpl is a threadsafe in-memory room.
// Every mutation enqueues its broadcasts while holding mu, so all members
// observe events in the same order the room applied them.
type roomImpl struct {
	info domain.RoomInfo

	mu     sync.RWMutex
	order  []domain.ParticipantID
	byPID  map[domain.ParticipantID]*memberSession
	byUser map[domain.UserID]domain.ParticipantID
	chat   []domain.ChatMessage
}

func NewRoomService(info domain.RoomInfo, history []domain.ChatMessage) RoomService {
	return &roomImpl{
		info:   info,
		byPID:  make(map[domain.ParticipantID]*memberSession),
		byUser: make(map[domain.UserID]domain.ParticipantID),
		chat:   slices.Clone(history),
	}
}

func (r *roomImpl) Info() domain.RoomInfo { return r.info }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPID)
}

func (r *roomImpl) MembersSnapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *roomImpl) History() []domain.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.chat)
}

func (r *roomImpl) Member(pid domain.ParticipantID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.byPID[pid]
	if !ok {
		return nil, false
	}
	return ms, true
}

func (r *roomImpl) Join(ms MemberSession) (MemberSession, PublishResult) {
	m, ok := ms.(*memberSession)
	if !ok {
		m = &memberSession{meta: ms.Meta(), conn: ms.Signal()}
	}
	meta := m.Meta()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byPID[meta.ID]; dup {
		r.removeLocked(meta.ID)
	}
	var replaced MemberSession
	if old, ok := r.byUser[meta.UserID]; ok && old != meta.ID {
		replaced = r.removeLocked(old)
	}
	r.byPID[meta.ID] = m
	r.byUser[meta.UserID] = meta.ID
	r.order = append(r.order, meta.ID)

	res := PublishResult{}
	r.sendLocked(m, protocol.ConnectionEstablished{ParticipantID: meta.ID, RoomInfo: r.info}, &res)
	res.merge(r.broadcastLocked(r.rosterLocked()))
	r.sendLocked(m, protocol.ChatHistory{Messages: append([]domain.ChatMessage{}, r.chat...)}, &res)

	log.Info().Str("module", "core.room").Str("group", string(r.info.GroupID)).
		Str("pid", string(meta.ID)).Str("user", string(meta.UserID)).Msg("member joined")
	return replaced, res
}

func (r *roomImpl) Leave(pid domain.ParticipantID) (MemberSession, PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := r.removeLocked(pid)
	if left == nil {
		return nil, PublishResult{}, false
	}
	res := PublishResult{}
	if len(r.byPID) > 0 {
		res = r.broadcastLocked(r.rosterLocked())
	}
	log.Info().Str("module", "core.room").Str("group", string(r.info.GroupID)).Str("pid", string(pid)).Msg("member left")
	return left, res, true
}

func (r *roomImpl) UpdateStatus(pid domain.ParticipantID, u protocol.StatusUpdate) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byPID[pid]
	if !ok {
		return PublishResult{}, domain.ErrParticipantNotFound
	}
	m.update(func(p *domain.Participant) {
		hand := p.HandRaised
		p.MediaStatus = u.Apply(p.MediaStatus)
		p.HandRaised = hand
	})
	return r.broadcastLocked(r.rosterLocked()), nil
}

func (r *roomImpl) RaiseHand(pid domain.ParticipantID, raised bool, at time.Time) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byPID[pid]
	if !ok {
		return PublishResult{}, domain.ErrParticipantNotFound
	}
	meta := m.update(func(p *domain.Participant) { p.HandRaised = raised })
	res := r.broadcastLocked(protocol.HandRaiseUpdate{
		ParticipantID:   pid,
		ParticipantName: meta.DisplayName,
		HandRaised:      raised,
		Timestamp:       at,
	})
	res.merge(r.broadcastLocked(r.rosterLocked()))
	return res, nil
}

func (r *roomImpl) Chat(pid domain.ParticipantID, text string, at time.Time) (domain.ChatMessage, PublishResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, PublishResult{}, domain.ErrMessageEmpty
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byPID[pid]
	if !ok {
		return domain.ChatMessage{}, PublishResult{}, domain.ErrParticipantNotFound
	}
	meta := m.Meta()
	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   meta.UserID,
		SenderName: meta.DisplayName,
		Message:    text,
		Timestamp:  at,
	}
	r.chat = append(r.chat, msg)
	return msg, r.broadcastLocked(protocol.ChatBroadcast{Message: msg}), nil
}

// Relay forwards a negotiation payload to its target only. Delivery is
// best effort: a full queue drops the frame.
func (r *roomImpl) Relay(from domain.ParticipantID, n protocol.Negotiation) error {
	if !protocol.IsNegotiation(n.Type) {
		return fmt.Errorf("relay: %w: %q", protocol.ErrUnknownType, n.Type)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byPID[from]; !ok {
		return domain.ErrParticipantNotFound
	}
	target, ok := r.byPID[n.TargetParticipantID]
	if !ok {
		return fmt.Errorf("relay to %s: %w", n.TargetParticipantID, domain.ErrParticipantNotFound)
	}
	out := protocol.Negotiation{Type: n.Type, FromParticipantID: from, Data: n.Data}
	frame, err := protocol.Encode(out)
	if err != nil {
		return err
	}
	return target.Signal().TrySend(frame)
}

func (r *roomImpl) Evict(reason string) []MemberSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MemberSession, 0, len(r.byPID))
	frame := protocol.MustEncode(protocol.Error{Message: reason})
	for _, pid := range r.order {
		m := r.byPID[pid]
		_ = m.Signal().TrySend(frame)
		out = append(out, m)
	}
	r.order = nil
	clear(r.byPID)
	clear(r.byUser)
	log.Info().Str("module", "core.room").Str("group", string(r.info.GroupID)).Int("evicted", len(out)).Msg("room evicted")
	return out
}

func (r *roomImpl) removeLocked(pid domain.ParticipantID) MemberSession {
	m, ok := r.byPID[pid]
	if !ok {
		return nil
	}
	delete(r.byPID, pid)
	if cur, ok := r.byUser[m.Meta().UserID]; ok && cur == pid {
		delete(r.byUser, m.Meta().UserID)
	}
	r.order = slices.DeleteFunc(r.order, func(id domain.ParticipantID) bool { return id == pid })
	return m
}

func (r *roomImpl) snapshotLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, pid := range r.order {
		out = append(out, r.byPID[pid].Meta())
	}
	return out
}

func (r *roomImpl) rosterLocked() protocol.ParticipantsUpdate {
	return protocol.ParticipantsUpdate{Participants: r.snapshotLocked(), RoomInfo: r.info}
}

func (r *roomImpl) sendLocked(m *memberSession, msg protocol.Message, res *PublishResult) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("encode")
		return
	}
	if err := m.Signal().TrySend(frame); err != nil {
		res.Dropped = append(res.Dropped, m)
		return
	}
	res.SendTo++
}

func (r *roomImpl) broadcastLocked(msg protocol.Message) PublishResult {
	res := PublishResult{}
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("encode")
		return res
	}
	for _, pid := range r.order {
		m := r.byPID[pid]
		if err := m.Signal().TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("type", string(msg.Kind())).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
