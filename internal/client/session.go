package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

// Options describe one participant joining one study group.
type Options struct {
	Registry  *RegistryClient
	GroupID   domain.GroupID
	UserID    domain.UserID
	UserName  string
	Password  string
	Initial   domain.MediaStatus
	Devices   core.Devices
	Factory   core.MediaFactory
	Renderers RendererFactory
	Observer  Observer
}

// Session is a joined participant: registry membership, signaling
// channel, peers and local media. It does not reconnect.
type Session struct {
	opts  Options
	obs   Observer
	ch    *Channel
	room  *Room
	peers *PeerManager
	media *MediaController
	slots *SlotSet

	leaving  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// Open goes through the registry, starts local media, dials the room and
// announces us. Registry failures return before any connection exists.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Registry == nil || opts.Devices == nil || opts.Factory == nil {
		return nil, errors.New("client: registry, devices and factory are required")
	}
	if err := domain.ValidateUserID(opts.UserID); err != nil {
		return nil, err
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	logger := log.With().Str("module", "client.session").Str("group", string(opts.GroupID)).Logger()

	reg := opts.Registry
	info, err := reg.SessionInfo(ctx, opts.GroupID)
	if err != nil {
		return nil, err
	}
	if info.Group.HasPassword && !info.Group.IsMember(opts.UserID) {
		if err := reg.VerifyPassword(ctx, opts.GroupID, opts.Password); err != nil {
			return nil, err
		}
	}
	if err := reg.JoinSession(ctx, opts.GroupID, opts.UserID); err != nil {
		return nil, err
	}
	wsURL, err := reg.WebsocketURL(info.WebsocketURL)
	if err != nil {
		return nil, errors.Join(err, undoJoin(ctx, opts))
	}

	s := &Session{opts: opts, obs: opts.Observer, done: make(chan struct{})}
	initial := domain.MediaStatus{Muted: opts.Initial.Muted, CameraOff: opts.Initial.CameraOff}
	s.room = NewRoom(opts.UserID, strings.TrimSpace(opts.UserName), initial, opts.Observer)
	s.slots = NewSlotSet(opts.Renderers)
	s.peers = NewPeerManager(opts.Factory, s.send, s.slots)
	s.media = NewMediaController(opts.Devices, s.peers, s.send, initial, s.room.SetLocalStatus)

	mediaErr := s.media.Start(ctx)
	if mediaErr != nil {
		logger.Warn().Err(mediaErr).Msg("capture refused, joining without it")
	}

	ch, err := Dial(ctx, wsURL, reg.Header())
	if err != nil {
		s.media.Stop()
		return nil, errors.Join(fmt.Errorf("dial %s: %w", wsURL, err), undoJoin(ctx, opts))
	}
	s.ch = ch
	join := protocol.JoinSession{
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		MediaStatus: s.media.Status(),
	}
	if err := ch.Send(join); err != nil {
		ch.Close()
		s.media.Stop()
		return nil, errors.Join(err, undoJoin(ctx, opts))
	}
	if mediaErr != nil {
		s.obs.OnError(mediaErr)
	}
	logger.Info().Str("user_id", string(opts.UserID)).Msg("session opened")

	go s.run()
	return s, nil
}

func undoJoin(ctx context.Context, opts Options) error {
	_, err := opts.Registry.LeaveSession(context.WithoutCancel(ctx), opts.GroupID, opts.UserID)
	return err
}

func (s *Session) Room() *Room                  { return s.room }
func (s *Session) Media() *MediaController      { return s.media }
func (s *Session) Peers() *PeerManager          { return s.peers }
func (s *Session) Slots() *SlotSet              { return s.slots }
func (s *Session) Done() <-chan struct{}        { return s.done }
func (s *Session) GroupID() domain.GroupID      { return s.opts.GroupID }
func (s *Session) UserID() domain.UserID        { return s.opts.UserID }
func (s *Session) Info() domain.RoomInfo        { return s.room.Info() }
func (s *Session) SelfID() domain.ParticipantID { return s.room.SelfID() }

func (s *Session) send(m protocol.Message) error {
	if s.ch == nil {
		return ErrNotConnected
	}
	return s.ch.Send(m)
}

// SendChat posts a chat message. Blank text is not sent.
func (s *Session) SendChat(text string) error {
	if s.room.State() != StateConnected {
		return ErrNotConnected
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.send(protocol.ChatSend{Message: text})
}

// run is the event loop: every server message is handled here in order.
func (s *Session) run() {
	for m := range s.ch.Messages() {
		s.handle(m)
	}
	s.teardown(s.ch.Err())
}

func (s *Session) handle(m protocol.Message) {
	if n, ok := m.(protocol.Negotiation); ok {
		if s.leaving.Load() {
			return
		}
		if err := s.peers.Handle(n); err != nil {
			log.Warn().Err(err).Str("module", "client.session").Str("type", string(n.Type)).
				Str("from", string(n.FromParticipantID)).Msg("negotiation failed")
		}
		return
	}
	d := s.room.Apply(m)
	if s.leaving.Load() {
		// peers are being torn down; do not start new ones
		return
	}
	for _, id := range d.Left {
		s.peers.Remove(id)
	}
	for _, id := range d.Joined {
		if err := s.peers.Offer(id); err != nil {
			log.Warn().Err(err).Str("module", "client.session").Str("peer", string(id)).Msg("offer failed")
		}
	}
}

// teardown runs once, after the channel is gone.
func (s *Session) teardown(cause error) {
	s.stopOnce.Do(func() {
		s.media.Stop()
		s.peers.CloseAll()
		if !s.leaving.Load() && cause != nil {
			s.obs.OnError(cause)
		}
		s.room.Close(cause)
		close(s.done)
		log.Info().Str("module", "client.session").Str("group", string(s.opts.GroupID)).Msg("session closed")
	})
}

// Leave releases media, closes peers, tells the room and the registry,
// then closes the channel. A registry failure is logged and the local
// disconnect still counts as done. It reports whether the group was
// deleted.
func (s *Session) Leave(ctx context.Context) (bool, error) {
	if !s.leaving.CompareAndSwap(false, true) {
		return false, nil
	}
	s.media.Stop()
	s.peers.CloseAll()
	if err := s.send(protocol.LeaveSession{}); err != nil {
		log.Debug().Err(err).Str("module", "client.session").Msg("leave_session not sent")
	}

	deleted, err := s.opts.Registry.LeaveSession(ctx, s.opts.GroupID, s.opts.UserID)
	if err != nil {
		log.Warn().Err(err).Str("module", "client.session").Str("group", string(s.opts.GroupID)).Msg("registry leave failed")
		deleted = false
	}

	s.ch.Close()
	select {
	case <-s.done:
	case <-ctx.Done():
		return deleted, ctx.Err()
	}
	return deleted, nil
}
