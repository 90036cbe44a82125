package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

// writePump owns the socket: it is the only writer and closes it on exit.
func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			ctl.flush(c)
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ctl.write(c, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

// flush writes whatever is already queued, e.g. the error that explains a kick.
func (ctl *SignalWSController) flush(c *WsSignalConn) {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := ctl.write(c, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (ctl *SignalWSController) write(c *WsSignalConn, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ctl *SignalWSController) readPump(
	ctx context.Context,
	cancel context.CancelFunc,
	group domain.GroupID,
	c *WsSignalConn,
) {
	var pid domain.ParticipantID
	defer func() {
		log.Info().Str("module", "signal").Str("pid", string(pid)).Msg("readPump closing")
		c.Close()
		cancel()
		if pid != "" {
			ctl.Orch.OnDisconnect(context.WithoutCancel(ctx), pid)
		}
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("pid", string(pid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("pid", string(pid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Opts.PongWait))

			msg, err := protocol.ParseClient(data)
			if err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("bad frame")
				ctl.sendError(c, err.Error())
				continue
			}
			if pid == "" {
				if pid, err = ctl.handleJoin(ctx, cancel, group, c, msg); err != nil {
					return
				}
				continue
			}
			ctl.handleSignal(ctx, pid, c, msg)
		}
	}
}

// handleSignal dispatches every message of a joined participant.
func (ctl *SignalWSController) handleSignal(ctx context.Context, pid domain.ParticipantID, c *WsSignalConn, msg protocol.Message) {
	var err error
	switch m := msg.(type) {
	case protocol.JoinSession:
		err = errAlreadyJoined
	case protocol.LeaveSession:
		ctl.handleLeave(ctx, pid)
	case protocol.Ping:
		err = ctl.handlePing(ctx, pid, c)
	case protocol.StatusUpdate:
		err = ctl.Orch.UpdateStatus(ctx, pid, m)
	case protocol.HandRaise:
		err = ctl.Orch.RaiseHand(ctx, pid, m.HandRaised)
	case protocol.ChatSend:
		err = ctl.Orch.Chat(ctx, pid, m.Message)
	case protocol.Negotiation:
		err = ctl.handleNegotiation(ctx, pid, m)
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Kind())).Msg("unexpected signal")
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("pid", string(pid)).Str("type", string(msg.Kind())).Msg("rejected")
		ctl.sendError(c, err.Error())
	}
}

func (ctl *SignalWSController) sendMessage(c *WsSignalConn, m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendMessage encode")
		return
	}
	if err := c.TrySend(b); err != nil && !errors.Is(err, ErrConnClosed) {
		log.Warn().Err(err).Str("module", "signal").Msg("sendMessage")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, text string) {
	ctl.sendMessage(c, protocol.Error{Message: text})
}
