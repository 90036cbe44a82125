package core

import (
	"time"

	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

func (r *PublishResult) merge(o PublishResult) {
	r.SendTo += o.SendTo
	r.Dropped = append(r.Dropped, o.Dropped...)
}

// RoomService is the server-authoritative state of one live session.
// It owns the roster and chat log but never closes transport resources,
// except in Evict where the room itself is going away.
type RoomService interface {
	Info() domain.RoomInfo
	MemberCount() int
	MembersSnapshot() []domain.Participant
	History() []domain.ChatMessage
	Member(pid domain.ParticipantID) (MemberSession, bool)

	// Join adds ms and delivers the baseline to it before any later
	// broadcast. A previous session of the same user is returned so the
	// caller can close it.
	Join(ms MemberSession) (replaced MemberSession, res PublishResult)
	Leave(pid domain.ParticipantID) (left MemberSession, res PublishResult, ok bool)
	UpdateStatus(pid domain.ParticipantID, u protocol.StatusUpdate) (PublishResult, error)
	RaiseHand(pid domain.ParticipantID, raised bool, at time.Time) (PublishResult, error)
	Chat(pid domain.ParticipantID, text string, at time.Time) (domain.ChatMessage, PublishResult, error)
	Relay(from domain.ParticipantID, n protocol.Negotiation) error
	Evict(reason string) []MemberSession
}
