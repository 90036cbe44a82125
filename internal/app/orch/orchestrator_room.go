package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

// Join admits a member of group into its live room and returns the new
// participant id. The baseline has been queued on conn when Join returns.
func (o *Orchestrator) Join(
	ctx context.Context,
	group domain.GroupID,
	conn core.SignalConnection,
	req protocol.JoinSession,
	cancel context.CancelFunc,
) (domain.ParticipantID, error) {
	if err := domain.ValidateUserID(req.UserID); err != nil {
		return "", err
	}
	name, err := domain.NormalizeUsername(req.UserName)
	if err != nil {
		return "", err
	}
	sess, err := o.Sessions.CheckMember(ctx, group, req.UserID)
	if err != nil {
		return "", err
	}

	pid := domain.ParticipantID(uuid.NewString())
	st := req.MediaStatus
	st.HandRaised = false
	ms := core.NewMemberSession(domain.Participant{
		ID:          pid,
		UserID:      req.UserID,
		DisplayName: name,
		MediaStatus: st,
		JoinedAt:    o.now(),
	}, conn)
	o.Registry.Bind(pid, group, req.UserID, ms, cancel)

	room, replaced, res, err := o.Rooms.Join(group, o.loader(ctx, sess), ms)
	if err != nil {
		o.Registry.Unbind(pid)
		return "", fmt.Errorf("open room %s: %w", group, err)
	}
	if replaced != nil {
		old := replaced.Meta().ID
		o.Registry.MarkGraceful(old)
		_ = replaced.Signal().TrySend(protocol.MustEncode(protocol.Error{Message: reasonReplaced}))
		replaced.Signal().Close()
		o.Registry.Cancel(old)
		log.Info().Str("module", "orch").Str("old_pid", string(old)).Str("pid", string(pid)).Msg("replaced connection")
	}
	o.handleResult(ctx, room, res)

	if err := o.Sessions.Touch(ctx, group); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("group", string(group)).Msg("touch on join")
	}
	log.Info().Str("module", "orch").Str("pid", string(pid)).Str("group", string(group)).Msg("joined")
	return pid, nil
}

func (o *Orchestrator) loader(ctx context.Context, sess *domain.Session) func() (domain.RoomInfo, []domain.ChatMessage, error) {
	return func() (domain.RoomInfo, []domain.ChatMessage, error) {
		info := domain.RoomInfo{
			GroupID:      sess.ID,
			GroupTitle:   sess.Title,
			GroupSubject: sess.Subject,
		}
		if sess.SessionStartedAt != nil {
			info.SessionStarted = *sess.SessionStartedAt
		}
		history, err := o.Sessions.ChatHistory(ctx, sess.ID)
		if err != nil {
			return info, nil, err
		}
		return info, history, nil
	}
}

// Leave handles an explicit leave_session. The client calls the registry
// itself, so the disconnect that follows must not.
func (o *Orchestrator) Leave(ctx context.Context, pid domain.ParticipantID) {
	e, ok := o.Registry.Lookup(pid)
	if !ok {
		return
	}
	o.Registry.MarkGraceful(pid)
	o.leaveRoom(ctx, e.Group, pid)
	o.Limiter.Forget(e.User)
}

// OnDisconnect runs once per connection when its read pump stops.
func (o *Orchestrator) OnDisconnect(ctx context.Context, pid domain.ParticipantID) {
	e, ok := o.Registry.Unbind(pid)
	if !ok {
		return
	}
	o.leaveRoom(ctx, e.Group, pid)
	if e.Graceful {
		return
	}
	deleted, err := o.Sessions.LeaveSession(ctx, e.Group, e.User)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("pid", string(pid)).Msg("registry leave on disconnect")
		return
	}
	log.Info().Str("module", "orch").Str("pid", string(pid)).Bool("group_deleted", deleted).Msg("left on disconnect")
}

// EvictRoom closes every live connection of group, e.g. when its session ends.
func (o *Orchestrator) EvictRoom(group domain.GroupID) int {
	evicted := o.Rooms.StopRoom(group, reasonEnded)
	for _, ms := range evicted {
		pid := ms.Meta().ID
		o.Registry.MarkGraceful(pid)
		ms.Signal().Close()
		o.Registry.Cancel(pid)
	}
	if len(evicted) > 0 {
		log.Info().Str("module", "orch").Str("group", string(group)).Int("count", len(evicted)).Msg("room evicted")
	}
	return len(evicted)
}

func (o *Orchestrator) UpdateStatus(ctx context.Context, pid domain.ParticipantID, u protocol.StatusUpdate) error {
	room, err := o.roomOf(pid)
	if err != nil {
		return err
	}
	res, err := room.UpdateStatus(pid, u)
	if err != nil {
		return err
	}
	o.handleResult(ctx, room, res)
	return nil
}

func (o *Orchestrator) RaiseHand(ctx context.Context, pid domain.ParticipantID, raised bool) error {
	room, err := o.roomOf(pid)
	if err != nil {
		return err
	}
	res, err := room.RaiseHand(pid, raised, o.now())
	if err != nil {
		return err
	}
	o.handleResult(ctx, room, res)
	return nil
}

// Chat appends a message to the room log, persists it and fans it out.
// Empty messages are dropped without error.
func (o *Orchestrator) Chat(ctx context.Context, pid domain.ParticipantID, text string) error {
	e, ok := o.Registry.Lookup(pid)
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if o.MaxChatLen > 0 && len([]rune(text)) > o.MaxChatLen {
		return domain.ErrMessageTooLong
	}
	if !o.Limiter.Allow(e.User) {
		return domain.ErrRateLimited
	}
	room, err := o.roomOf(pid)
	if err != nil {
		return err
	}
	msg, res, err := room.Chat(pid, text, o.now())
	if errors.Is(err, domain.ErrMessageEmpty) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := o.Sessions.AppendChat(ctx, e.Group, msg); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("group", string(e.Group)).Msg("persist chat")
	}
	o.handleResult(ctx, room, res)
	return nil
}

// Relay forwards a negotiation payload. A full target queue is handled by
// the policy like any other drop.
func (o *Orchestrator) Relay(ctx context.Context, pid domain.ParticipantID, n protocol.Negotiation) error {
	room, err := o.roomOf(pid)
	if err != nil {
		return err
	}
	err = room.Relay(pid, n)
	if err == nil || errors.Is(err, domain.ErrParticipantNotFound) || errors.Is(err, protocol.ErrUnknownType) {
		return err
	}
	// the target's queue is full
	if target, ok := room.Member(n.TargetParticipantID); ok {
		o.handleResult(ctx, room, core.PublishResult{Dropped: []core.MemberSession{target}})
	}
	return nil
}

func (o *Orchestrator) Ping(ctx context.Context, pid domain.ParticipantID) error {
	e, ok := o.Registry.Lookup(pid)
	if !ok {
		return domain.ErrParticipantNotFound
	}
	return o.Sessions.Touch(ctx, e.Group)
}

func (o *Orchestrator) roomOf(pid domain.ParticipantID) (core.RoomService, error) {
	e, ok := o.Registry.Lookup(pid)
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	room, ok := o.Rooms.Get(e.Group)
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	return room, nil
}
