package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) messages(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.frames))
	for _, f := range c.frames {
		m, err := protocol.ParseServer(f)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func kinds(msgs []protocol.Message) []protocol.Type {
	out := make([]protocol.Type, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Kind())
	}
	return out
}

func newRoom() RoomService {
	return NewRoomService(domain.RoomInfo{GroupID: "g1", GroupTitle: "Calculus"}, nil)
}

func join(r RoomService, pid, uid string) (*fakeConn, MemberSession) {
	c := &fakeConn{}
	ms := NewMemberSession(domain.Participant{
		ID:          domain.ParticipantID(pid),
		UserID:      domain.UserID(uid),
		DisplayName: uid,
	}, c)
	r.Join(ms)
	return c, ms
}

func TestJoinDeliversBaselineFirst(t *testing.T) {
	r := newRoom()
	a, _ := join(r, "pa", "ua")
	b, _ := join(r, "pb", "ub")

	got := b.messages(t)
	require.Equal(t, []protocol.Type{
		protocol.TypeConnectionEstablished,
		protocol.TypeParticipantsUpdate,
		protocol.TypeChatHistory,
	}, kinds(got))
	ce := got[0].(protocol.ConnectionEstablished)
	assert.Equal(t, domain.ParticipantID("pb"), ce.ParticipantID)
	assert.Equal(t, domain.GroupID("g1"), ce.RoomInfo.GroupID)

	pu := got[1].(protocol.ParticipantsUpdate)
	require.Len(t, pu.Participants, 2)
	assert.Equal(t, domain.ParticipantID("pa"), pu.Participants[0].ID)
	assert.Equal(t, domain.ParticipantID("pb"), pu.Participants[1].ID)
	assert.NotNil(t, got[2].(protocol.ChatHistory).Messages)

	// A saw its own baseline and then the roster delta for B.
	assert.Equal(t, []protocol.Type{
		protocol.TypeConnectionEstablished,
		protocol.TypeParticipantsUpdate,
		protocol.TypeChatHistory,
		protocol.TypeParticipantsUpdate,
	}, kinds(a.messages(t)))
}

func TestJoinSameUserReplacesOldSession(t *testing.T) {
	r := newRoom()
	join(r, "p1", "u1")
	c := &fakeConn{}
	replaced, _ := r.Join(NewMemberSession(domain.Participant{ID: "p2", UserID: "u1"}, c))
	require.NotNil(t, replaced)
	assert.Equal(t, domain.ParticipantID("p1"), replaced.Meta().ID)
	require.Equal(t, 1, r.MemberCount())
	assert.Equal(t, domain.ParticipantID("p2"), r.MembersSnapshot()[0].ID)
}

func TestLeaveBroadcastsToRemaining(t *testing.T) {
	r := newRoom()
	a, _ := join(r, "pa", "ua")
	join(r, "pb", "ub")
	a.reset()

	left, _, ok := r.Leave("pb")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("ub"), left.Meta().UserID)

	msgs := a.messages(t)
	require.Len(t, msgs, 1)
	pu := msgs[0].(protocol.ParticipantsUpdate)
	require.Len(t, pu.Participants, 1)
	assert.Equal(t, domain.ParticipantID("pa"), pu.Participants[0].ID)

	_, _, ok = r.Leave("pb")
	assert.False(t, ok)
}

func TestStatusUpdateIsPartial(t *testing.T) {
	r := newRoom()
	join(r, "pa", "ua")
	yes := true
	_, err := r.UpdateStatus("pa", protocol.StatusUpdate{CameraOff: &yes})
	require.NoError(t, err)
	no := false
	_, err = r.UpdateStatus("pa", protocol.StatusUpdate{Muted: &no})
	require.NoError(t, err)

	p := r.MembersSnapshot()[0]
	assert.True(t, p.CameraOff)
	assert.False(t, p.Muted)

	_, err = r.UpdateStatus("nobody", protocol.StatusUpdate{Muted: &no})
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestRaiseHandBroadcastsUpdateAndRoster(t *testing.T) {
	r := newRoom()
	a, _ := join(r, "pa", "ua")
	b, _ := join(r, "pb", "ub")
	a.reset()
	b.reset()

	_, err := r.RaiseHand("pb", true, time.Now())
	require.NoError(t, err)
	msgs := a.messages(t)
	require.Equal(t, []protocol.Type{protocol.TypeHandRaiseUpdate, protocol.TypeParticipantsUpdate}, kinds(msgs))
	hu := msgs[0].(protocol.HandRaiseUpdate)
	assert.Equal(t, "ub", hu.ParticipantName)
	assert.True(t, hu.HandRaised)
	assert.True(t, msgs[1].(protocol.ParticipantsUpdate).Participants[1].HandRaised)
}

func TestChatStampsAndAppends(t *testing.T) {
	r := newRoom()
	a, _ := join(r, "pa", "ua")
	a.reset()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	msg, _, err := r.Chat("pa", "  hello  ", at)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "hello", msg.Message)
	assert.Equal(t, "ua", msg.SenderName)
	assert.Equal(t, at, msg.Timestamp)

	_, _, err = r.Chat("pa", "   ", at)
	assert.ErrorIs(t, err, domain.ErrMessageEmpty)

	require.Len(t, r.History(), 1)
	msgs := a.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg, msgs[0].(protocol.ChatBroadcast).Message)

	// a later joiner gets the log in its baseline
	c, _ := join(r, "pc", "uc")
	hist := c.messages(t)[2].(protocol.ChatHistory)
	assert.Equal(t, []domain.ChatMessage{msg}, hist.Messages)
}

func TestRelayGoesOnlyToTarget(t *testing.T) {
	r := newRoom()
	a, _ := join(r, "pa", "ua")
	b, _ := join(r, "pb", "ub")
	c, _ := join(r, "pc", "uc")
	a.reset()
	b.reset()
	c.reset()

	err := r.Relay("pa", protocol.Negotiation{
		Type:                protocol.TypeWebRTCOffer,
		TargetParticipantID: "pc",
		Data:                []byte(`{"type":"offer","sdp":"v=0"}`),
	})
	require.NoError(t, err)

	assert.Empty(t, a.messages(t))
	assert.Empty(t, b.messages(t))
	msgs := c.messages(t)
	require.Len(t, msgs, 1)
	n := msgs[0].(protocol.Negotiation)
	assert.Equal(t, protocol.TypeWebRTCOffer, n.Type)
	assert.Equal(t, domain.ParticipantID("pa"), n.FromParticipantID)
	assert.Empty(t, n.TargetParticipantID)

	err = r.Relay("pa", protocol.Negotiation{Type: protocol.TypeWebRTCAnswer, TargetParticipantID: "gone"})
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestBroadcastReportsDropped(t *testing.T) {
	r := newRoom()
	join(r, "pa", "ua")
	b, _ := join(r, "pb", "ub")
	b.mu.Lock()
	b.full = true
	b.mu.Unlock()

	yes := true
	res, err := r.UpdateStatus("pa", protocol.StatusUpdate{Muted: &yes})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, domain.ParticipantID("pb"), res.Dropped[0].Meta().ID)
}

func TestEvictNotifiesEveryone(t *testing.T) {
	r := newRoom()
	a, _ := join(r, "pa", "ua")
	a.reset()
	out := r.Evict("session ended")
	require.Len(t, out, 1)
	assert.Equal(t, 0, r.MemberCount())
	msgs := a.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.Error{Message: "session ended"}, msgs[0])
}
