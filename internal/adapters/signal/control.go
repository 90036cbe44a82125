package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

var (
	errJoinRequired  = errors.New("join_session required")
	errAlreadyJoined = errors.New("already joined")
)

// handleJoin admits the connection on its first join_session. Any failure is
// reported to the client and ends the connection.
func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	cancel context.CancelFunc,
	group domain.GroupID,
	c *WsSignalConn,
	msg protocol.Message,
) (domain.ParticipantID, error) {
	join, ok := msg.(protocol.JoinSession)
	if !ok {
		ctl.sendError(c, errJoinRequired.Error())
		return "", nil
	}
	pid, err := ctl.Orch.Join(ctx, group, c, join, cancel)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("group", string(group)).Str("user", string(join.UserID)).Msg("join rejected")
		ctl.sendError(c, err.Error())
		return "", err
	}
	return pid, nil
}

func (ctl *SignalWSController) handleLeave(ctx context.Context, pid domain.ParticipantID) {
	log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("leave")
	ctl.Orch.Leave(ctx, pid)
}

func (ctl *SignalWSController) handlePing(ctx context.Context, pid domain.ParticipantID, c *WsSignalConn) error {
	if err := ctl.Orch.Ping(ctx, pid); err != nil {
		return err
	}
	ctl.sendMessage(c, protocol.Pong{})
	return nil
}

func (ctl *SignalWSController) handleNegotiation(ctx context.Context, pid domain.ParticipantID, n protocol.Negotiation) error {
	if n.TargetParticipantID == "" {
		return domain.ErrParticipantNotFound
	}
	return ctl.Orch.Relay(ctx, pid, n)
}
