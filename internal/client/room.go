package client

import (
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

// State is the client view of the room lifecycle.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ChatEntry is a chat message with its local wall-clock rendering.
type ChatEntry struct {
	domain.ChatMessage
	Clock string
}

// Observer receives room events. Local status changes arrive on the
// caller's goroutine, everything else on the session event loop, so
// implementations must be safe for concurrent use.
type Observer interface {
	OnStateChange(State)
	OnParticipants([]domain.Participant)
	OnChat(ChatEntry)
	OnHandRaise(protocol.HandRaiseUpdate)
	OnError(error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnStateChange(State)                  {}
func (NopObserver) OnParticipants([]domain.Participant)  {}
func (NopObserver) OnChat(ChatEntry)                     {}
func (NopObserver) OnHandRaise(protocol.HandRaiseUpdate) {}
func (NopObserver) OnError(error)                        {}

// Delta is what a roster update changed among remote participants.
type Delta struct {
	// Joined are newcomers this client must offer to.
	Joined []domain.ParticipantID
	Left   []domain.ParticipantID
}

// Room mirrors the server roster and chat log for one local participant.
type Room struct {
	mu       sync.Mutex
	obs      Observer
	loc      *time.Location
	state    State
	self     domain.Participant
	info     domain.RoomInfo
	others   []domain.Participant
	known    map[domain.ParticipantID]struct{}
	baseline bool
	chat     []ChatEntry
	chatIDs  map[string]struct{}
	lastErr  error
}

func NewRoom(uid domain.UserID, name string, st domain.MediaStatus, obs Observer) *Room {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Room{
		obs:     obs,
		loc:     time.Local,
		self:    domain.Participant{UserID: uid, DisplayName: name, MediaStatus: st},
		known:   make(map[domain.ParticipantID]struct{}),
		chatIDs: make(map[string]struct{}),
	}
}

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) SelfID() domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self.ID
}

func (r *Room) Info() domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// Err is the error that moved the room to StateError, if any.
func (r *Room) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Participants returns self followed by the others in server order.
// Self appears exactly once even before the server has confirmed it.
func (r *Room) Participants() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

func (r *Room) rosterLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.others)+1)
	out = append(out, r.self)
	return append(out, r.others...)
}

func (r *Room) Chat() []ChatEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.chat)
}

// SetLocalStatus replaces the local media flags. They always win over
// what the server last echoed for us.
func (r *Room) SetLocalStatus(st domain.MediaStatus) {
	r.mu.Lock()
	r.self.MediaStatus = st
	roster := r.rosterLocked()
	r.mu.Unlock()
	r.obs.OnParticipants(roster)
}

// Apply folds one server message into the mirror. Negotiation frames are
// not handled here.
func (r *Room) Apply(m protocol.Message) Delta {
	switch m := m.(type) {
	case protocol.ConnectionEstablished:
		r.established(m)
	case protocol.ParticipantsUpdate:
		return r.participants(m)
	case protocol.ChatHistory:
		for _, msg := range m.Messages {
			r.appendChat(msg)
		}
	case protocol.ChatBroadcast:
		r.appendChat(m.Message)
	case protocol.HandRaiseUpdate:
		r.obs.OnHandRaise(m)
	case protocol.Error:
		r.fail(errorFromServer(m))
	case protocol.Pong:
	default:
		log.Debug().Str("module", "client.room").Str("type", string(m.Kind())).Msg("ignored")
	}
	return Delta{}
}

func (r *Room) established(m protocol.ConnectionEstablished) {
	r.mu.Lock()
	if r.state != StateConnecting {
		r.mu.Unlock()
		return
	}
	r.self.ID = m.ParticipantID
	r.info = m.RoomInfo
	r.state = StateConnected
	r.mu.Unlock()
	r.obs.OnStateChange(StateConnected)
}

func (r *Room) participants(m protocol.ParticipantsUpdate) Delta {
	r.mu.Lock()
	var d Delta
	r.info = m.RoomInfo
	others := make([]domain.Participant, 0, len(m.Participants))
	seen := make(map[domain.ParticipantID]struct{}, len(m.Participants))
	for _, p := range m.Participants {
		if p.UserID == r.self.UserID || (r.self.ID != "" && p.ID == r.self.ID) {
			if r.self.ID == "" {
				r.self.ID = p.ID
			}
			r.self.JoinedAt = p.JoinedAt
			r.self.DisplayName = p.DisplayName
			continue
		}
		others = append(others, p)
		seen[p.ID] = struct{}{}
		if _, ok := r.known[p.ID]; !ok && r.baseline {
			d.Joined = append(d.Joined, p.ID)
		}
	}
	for id := range r.known {
		if _, ok := seen[id]; !ok {
			d.Left = append(d.Left, id)
		}
	}
	r.known = seen
	r.others = others
	r.baseline = true
	roster := r.rosterLocked()
	r.mu.Unlock()

	r.obs.OnParticipants(roster)
	return d
}

func (r *Room) appendChat(msg domain.ChatMessage) {
	r.mu.Lock()
	if _, dup := r.chatIDs[msg.ID]; dup && msg.ID != "" {
		r.mu.Unlock()
		return
	}
	r.chatIDs[msg.ID] = struct{}{}
	e := ChatEntry{ChatMessage: msg, Clock: msg.Timestamp.In(r.loc).Format("15:04")}
	r.chat = append(r.chat, e)
	r.mu.Unlock()
	r.obs.OnChat(e)
}

// fail surfaces a server error. Before the room is connected it is
// terminal; afterwards the room stays usable.
func (r *Room) fail(err error) {
	r.mu.Lock()
	changed := false
	if r.state == StateConnecting {
		r.state = StateError
		r.lastErr = err
		changed = true
	}
	r.mu.Unlock()
	r.obs.OnError(err)
	if changed {
		r.obs.OnStateChange(StateError)
	}
}

// Close ends the room after the channel is gone. A room that never
// connected ends in StateError.
func (r *Room) Close(cause error) {
	r.mu.Lock()
	prev := r.state
	switch prev {
	case StateClosed, StateError:
		r.mu.Unlock()
		return
	case StateConnecting:
		r.state = StateError
		if cause == nil {
			cause = ErrChannelClosed
		}
		r.lastErr = cause
	default:
		r.state = StateClosed
	}
	next := r.state
	r.others = nil
	r.known = make(map[domain.ParticipantID]struct{})
	r.mu.Unlock()
	r.obs.OnStateChange(next)
}

// ServerError is an error control message from the server.
type ServerError struct{ Message string }

func (e *ServerError) Error() string { return e.Message }

func errorFromServer(m protocol.Error) error { return &ServerError{Message: m.Message} }
