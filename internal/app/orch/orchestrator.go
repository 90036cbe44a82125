package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/app"
	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
)

// Orchestrator ties signaling connections to rooms and to the session registry.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Sessions *app.SessionService
	Policy   app.Policy
	Limiter  *app.RateLimiter

	MaxChatLen int
	Now        func() time.Time
}

const (
	reasonReplaced = "session opened elsewhere"
	reasonEnded    = "session ended"
	reasonSlow     = "connection too slow"
)

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// handleResult applies the backpressure policy to members that missed a frame.
func (o *Orchestrator) handleResult(ctx context.Context, room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			o.Kick(ctx, slow.Meta().ID, reasonSlow)
		case app.MarkSlow:
			log.Warn().Str("module", "orch").Str("pid", string(slow.Meta().ID)).Msg("slow member")
		case app.NoAction:
		}
	}
}

// Kick removes pid from its room and closes its connection. The registry
// leave then runs from OnDisconnect like for any dropped socket.
func (o *Orchestrator) Kick(ctx context.Context, pid domain.ParticipantID, reason string) {
	e, ok := o.Registry.Lookup(pid)
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("pid", string(pid)).Str("reason", reason).Msg("kick")
	o.leaveRoom(ctx, e.Group, pid)
	e.Session.Signal().Close()
	o.Registry.Cancel(pid)
}

func (o *Orchestrator) leaveRoom(ctx context.Context, group domain.GroupID, pid domain.ParticipantID) bool {
	room, res, ok := o.Rooms.Leave(group, pid)
	if !ok {
		return false
	}
	o.handleResult(ctx, room, res)
	return true
}
