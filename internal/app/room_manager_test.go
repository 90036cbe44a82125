package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrcs/studysession/internal/core"
	"github.com/cbrcs/studysession/internal/domain"
)

type nopConn struct{ closed bool }

func (c *nopConn) TrySend(core.Frame) error { return nil }
func (c *nopConn) Close()                   { c.closed = true }

func member(pid, uid string) core.MemberSession {
	return core.NewMemberSession(domain.Participant{ID: domain.ParticipantID(pid), UserID: domain.UserID(uid)}, &nopConn{})
}

func TestRoomManagerLifecycle(t *testing.T) {
	m := NewRoomManager()
	loads := 0
	load := func() (domain.RoomInfo, []domain.ChatMessage, error) {
		loads++
		return domain.RoomInfo{GroupID: "g1", GroupTitle: "Stats"}, []domain.ChatMessage{{ID: "old"}}, nil
	}

	room, _, _, err := m.Join("g1", load, member("p1", "u1"))
	require.NoError(t, err)
	assert.Equal(t, "Stats", room.Info().GroupTitle)
	assert.Len(t, room.History(), 1)
	_, _, _, err = m.Join("g1", load, member("p2", "u2"))
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
	assert.Equal(t, []RoomSummary{{GroupID: "g1", MemberCount: 2}}, m.List())

	_, _, ok := m.Leave("g1", "p1")
	require.True(t, ok)
	assert.True(t, m.IsLive("g1"))
	_, _, ok = m.Leave("g1", "p2")
	require.True(t, ok)
	assert.False(t, m.IsLive("g1"))

	_, _, _, err = m.Join("g1", load, member("p3", "u1"))
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestRoomManagerLoadFailure(t *testing.T) {
	m := NewRoomManager()
	boom := errors.New("db down")
	_, _, _, err := m.Join("g1", func() (domain.RoomInfo, []domain.ChatMessage, error) {
		return domain.RoomInfo{}, nil, boom
	}, member("p1", "u1"))
	assert.ErrorIs(t, err, boom)
	assert.False(t, m.IsLive("g1"))
}

func TestRoomManagerStopRoom(t *testing.T) {
	m := NewRoomManager()
	load := func() (domain.RoomInfo, []domain.ChatMessage, error) { return domain.RoomInfo{GroupID: "g1"}, nil, nil }
	_, _, _, err := m.Join("g1", load, member("p1", "u1"))
	require.NoError(t, err)

	evicted := m.StopRoom("g1", "session ended")
	require.Len(t, evicted, 1)
	assert.False(t, m.IsLive("g1"))
	assert.Nil(t, m.StopRoom("g1", "again"))
}

func TestRegistryGracefulFlag(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.Bind("p1", "g1", "u1", member("p1", "u1"), func() { canceled = true })

	require.True(t, r.MarkGraceful("p1"))
	assert.Equal(t, 1, r.Count())
	assert.True(t, r.Cancel("p1"))
	assert.True(t, canceled)

	e, ok := r.Unbind("p1")
	require.True(t, ok)
	assert.True(t, e.Graceful)
	assert.Equal(t, 0, r.Count())
	_, ok = r.Unbind("p1")
	assert.False(t, ok)
}
