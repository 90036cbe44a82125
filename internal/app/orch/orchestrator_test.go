package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrcs/studysession/internal/app"
	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
	"github.com/cbrcs/studysession/internal/storage/memory"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
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

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) last(t *testing.T) protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.frames)
	m, err := protocol.ParseServer(c.frames[len(c.frames)-1])
	require.NoError(t, err)
	return m
}

type fixture struct {
	o     *Orchestrator
	group domain.GroupID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sessions := app.NewSessionService(memory.NewSessionStore(), memory.NewChatStore())
	sess, err := sessions.Create(context.Background(), app.CreateSessionInput{Title: "Calculus", CreatorID: "u1"})
	require.NoError(t, err)
	_, err = sessions.JoinSession(context.Background(), sess.ID, "u2", false)
	require.NoError(t, err)
	return &fixture{
		o: &Orchestrator{
			Registry:   app.NewRegistry(),
			Rooms:      app.NewRoomManager(),
			Sessions:   sessions,
			Policy:     app.SimplePolicy{},
			Limiter:    app.NewRateLimiter(3, time.Minute),
			MaxChatLen: 20,
		},
		group: sess.ID,
	}
}

func (f *fixture) join(t *testing.T, uid string) (domain.ParticipantID, *fakeConn) {
	t.Helper()
	c := &fakeConn{}
	pid, err := f.o.Join(context.Background(), f.group, c, protocol.JoinSession{UserID: domain.UserID(uid), UserName: uid}, func() {})
	require.NoError(t, err)
	return pid, c
}

func TestJoinRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.o.Join(ctx, f.group, &fakeConn{}, protocol.JoinSession{UserID: "u9"}, func() {})
	assert.ErrorIs(t, err, domain.ErrNotMember)
	_, err = f.o.Join(ctx, "missing", &fakeConn{}, protocol.JoinSession{UserID: "u1"}, func() {})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.o.Join(ctx, f.group, &fakeConn{}, protocol.JoinSession{}, func() {})
	assert.ErrorIs(t, err, domain.ErrUserIDEmpty)
	assert.Equal(t, 0, f.o.Registry.Count())
}

func TestJoinSameUserClosesOldConnection(t *testing.T) {
	f := newFixture(t)
	oldPID, oldConn := f.join(t, "u1")
	newPID, _ := f.join(t, "u1")
	require.NotEqual(t, oldPID, newPID)

	assert.True(t, oldConn.isClosed())
	room, ok := f.o.Rooms.Get(f.group)
	require.True(t, ok)
	require.Equal(t, 1, room.MemberCount())

	// the replaced socket's disconnect must not take the user out of the session
	f.o.OnDisconnect(context.Background(), oldPID)
	sess, err := f.o.Sessions.Get(context.Background(), f.group)
	require.NoError(t, err)
	assert.True(t, sess.IsActiveParticipant("u1"))
}

func TestUngracefulDisconnectLeavesRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1, c1 := f.join(t, "u1")
	p2, _ := f.join(t, "u2")

	f.o.OnDisconnect(ctx, p2)
	pu := c1.last(t).(protocol.ParticipantsUpdate)
	require.Len(t, pu.Participants, 1)
	assert.Equal(t, p1, pu.Participants[0].ID)

	sess, err := f.o.Sessions.Get(ctx, f.group)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"u1"}, sess.ActiveParticipants)

	f.o.OnDisconnect(ctx, p1)
	_, err = f.o.Sessions.Get(ctx, f.group)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.False(t, f.o.Rooms.IsLive(f.group))
}

func TestGracefulLeaveSkipsRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1, _ := f.join(t, "u1")

	f.o.Leave(ctx, p1)
	assert.False(t, f.o.Rooms.IsLive(f.group))
	f.o.OnDisconnect(ctx, p1)

	sess, err := f.o.Sessions.Get(ctx, f.group)
	require.NoError(t, err)
	assert.True(t, sess.IsActiveParticipant("u1"))
}

func TestChatPersistsAndLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1, c1 := f.join(t, "u1")

	require.NoError(t, f.o.Chat(ctx, p1, "hello"))
	cb := c1.last(t).(protocol.ChatBroadcast)
	assert.Equal(t, "hello", cb.Message.Message)

	hist, err := f.o.Sessions.ChatHistory(ctx, f.group)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, cb.Message.ID, hist[0].ID)

	assert.ErrorIs(t, f.o.Chat(ctx, p1, "this message is far too long"), domain.ErrMessageTooLong)
	require.NoError(t, f.o.Chat(ctx, p1, "   "))
	require.NoError(t, f.o.Chat(ctx, p1, "again"))
	assert.ErrorIs(t, f.o.Chat(ctx, p1, "spam"), domain.ErrRateLimited)

	// history survives the room and is replayed on the next join
	f.o.Leave(ctx, p1)
	_, c2 := f.join(t, "u1")
	c2.mu.Lock()
	first := c2.frames[2]
	c2.mu.Unlock()
	m, err := protocol.ParseServer(first)
	require.NoError(t, err)
	assert.Len(t, m.(protocol.ChatHistory).Messages, 2)
}

func TestRelayAndSlowTargetIsKicked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1, _ := f.join(t, "u1")
	p2, c2 := f.join(t, "u2")

	n := protocol.Negotiation{Type: protocol.TypeWebRTCOffer, TargetParticipantID: p2, Data: []byte(`{}`)}
	require.NoError(t, f.o.Relay(ctx, p1, n))
	got := c2.last(t).(protocol.Negotiation)
	assert.Equal(t, p1, got.FromParticipantID)

	c2.mu.Lock()
	c2.full = true
	c2.mu.Unlock()
	require.NoError(t, f.o.Relay(ctx, p1, n))
	assert.True(t, c2.isClosed())
	room, _ := f.o.Rooms.Get(f.group)
	assert.Equal(t, 1, room.MemberCount())

	err := f.o.Relay(ctx, p1, protocol.Negotiation{Type: protocol.TypeWebRTCAnswer, TargetParticipantID: "nobody"})
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}

func TestStatusAndHand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1, c1 := f.join(t, "u1")

	yes := true
	require.NoError(t, f.o.UpdateStatus(ctx, p1, protocol.StatusUpdate{Muted: &yes}))
	pu := c1.last(t).(protocol.ParticipantsUpdate)
	assert.True(t, pu.Participants[0].Muted)

	require.NoError(t, f.o.RaiseHand(ctx, p1, true))
	pu = c1.last(t).(protocol.ParticipantsUpdate)
	assert.True(t, pu.Participants[0].HandRaised)
	assert.True(t, pu.Participants[0].Muted)

	assert.ErrorIs(t, f.o.RaiseHand(ctx, "ghost", true), domain.ErrParticipantNotFound)
	require.NoError(t, f.o.Ping(ctx, p1))
}

func TestEvictRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1, c1 := f.join(t, "u1")
	_, c2 := f.join(t, "u2")

	assert.Equal(t, 2, f.o.EvictRoom(f.group))
	assert.True(t, c1.isClosed())
	assert.True(t, c2.isClosed())
	assert.False(t, f.o.Rooms.IsLive(f.group))

	f.o.OnDisconnect(ctx, p1)
	sess, err := f.o.Sessions.Get(ctx, f.group)
	require.NoError(t, err)
	assert.True(t, sess.IsActiveParticipant("u1"))
}
