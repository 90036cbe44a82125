package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

func roster(ps ...domain.Participant) protocol.ParticipantsUpdate {
	return protocol.ParticipantsUpdate{Participants: ps, RoomInfo: domain.RoomInfo{GroupID: "g1", GroupTitle: "Algebra"}}
}

func member(id domain.ParticipantID, uid domain.UserID) domain.Participant {
	return domain.Participant{ID: id, UserID: uid, DisplayName: string(uid)}
}

func TestRoomSelfPresentBeforeConnect(t *testing.T) {
	r := NewRoom("u1", "Ann", domain.MediaStatus{Muted: true}, nil)

	ps := r.Participants()
	require.Len(t, ps, 1)
	assert.Empty(t, ps[0].ID)
	assert.Equal(t, domain.UserID("u1"), ps[0].UserID)
	assert.True(t, ps[0].Muted)
	assert.Equal(t, StateConnecting, r.State())
}

func TestRoomBaselineThenNewcomers(t *testing.T) {
	obs := &recorder{}
	r := NewRoom("u1", "Ann", domain.MediaStatus{Muted: true}, obs)

	r.Apply(protocol.ConnectionEstablished{ParticipantID: "p1", RoomInfo: domain.RoomInfo{GroupTitle: "Algebra"}})
	require.Equal(t, StateConnected, r.State())
	assert.Equal(t, domain.ParticipantID("p1"), r.SelfID())

	// existing members will offer to us
	d := r.Apply(roster(member("p2", "u2"), member("p1", "u1")))
	assert.Empty(t, d.Joined)
	assert.Empty(t, d.Left)

	ps := r.Participants()
	require.Len(t, ps, 2)
	assert.Equal(t, domain.ParticipantID("p1"), ps[0].ID)
	assert.True(t, ps[0].Muted, "local flags win over the echoed roster")
	assert.Equal(t, domain.ParticipantID("p2"), ps[1].ID)

	d = r.Apply(roster(member("p1", "u1"), member("p2", "u2"), member("p3", "u3")))
	assert.Equal(t, []domain.ParticipantID{"p3"}, d.Joined)
	assert.Empty(t, d.Left)

	d = r.Apply(roster(member("p1", "u1"), member("p3", "u3")))
	assert.Empty(t, d.Joined)
	assert.Equal(t, []domain.ParticipantID{"p2"}, d.Left)

	assert.Len(t, obs.lastRoster(), 2)
	assert.Equal(t, []State{StateConnected}, obs.states)
}

func TestRoomSelfAppearsOnce(t *testing.T) {
	r := NewRoom("u1", "Ann", domain.MediaStatus{}, nil)
	r.Apply(protocol.ConnectionEstablished{ParticipantID: "p1"})
	r.Apply(roster(member("p1", "u1"), member("p2", "u2")))

	r.SetLocalStatus(domain.MediaStatus{CameraOff: true})

	count := 0
	for _, p := range r.Participants() {
		if p.UserID == "u1" {
			count++
			assert.True(t, p.CameraOff)
		}
	}
	assert.Equal(t, 1, count)
}

func TestRoomChatLocalClockAndDedupe(t *testing.T) {
	obs := &recorder{}
	r := NewRoom("u1", "Ann", domain.MediaStatus{}, obs)
	r.loc = time.UTC
	at := time.Date(2024, 3, 1, 14, 5, 59, 0, time.UTC)

	r.Apply(protocol.ChatHistory{Messages: []domain.ChatMessage{
		{ID: "m1", SenderName: "Bob", Message: "first", Timestamp: at},
	}})
	r.Apply(protocol.ChatBroadcast{Message: domain.ChatMessage{ID: "m2", Message: "second", Timestamp: at.Add(time.Hour)}})
	r.Apply(protocol.ChatBroadcast{Message: domain.ChatMessage{ID: "m2", Message: "second", Timestamp: at.Add(time.Hour)}})

	chat := r.Chat()
	require.Len(t, chat, 2)
	assert.Equal(t, "14:05", chat[0].Clock)
	assert.Equal(t, "15:05", chat[1].Clock)
	assert.Len(t, obs.chat, 2)
}

func TestRoomErrorBeforeConnectIsTerminal(t *testing.T) {
	obs := &recorder{}
	r := NewRoom("u1", "Ann", domain.MediaStatus{}, obs)

	r.Apply(protocol.Error{Message: "you are not a member of this study group"})

	assert.Equal(t, StateError, r.State())
	var se *ServerError
	require.ErrorAs(t, r.Err(), &se)
	assert.Equal(t, []State{StateError}, obs.states)

	r.Apply(protocol.ConnectionEstablished{ParticipantID: "p1"})
	assert.Equal(t, StateError, r.State())
}

func TestRoomErrorAfterConnectIsReported(t *testing.T) {
	obs := &recorder{}
	r := NewRoom("u1", "Ann", domain.MediaStatus{}, obs)
	r.Apply(protocol.ConnectionEstablished{ParticipantID: "p1"})

	r.Apply(protocol.Error{Message: "slow down"})

	assert.Equal(t, StateConnected, r.State())
	require.Len(t, obs.errors(), 1)
	assert.EqualError(t, obs.errors()[0], "slow down")
}

func TestRoomClose(t *testing.T) {
	r := NewRoom("u1", "Ann", domain.MediaStatus{}, nil)
	r.Apply(protocol.ConnectionEstablished{ParticipantID: "p1"})
	r.Apply(roster(member("p1", "u1"), member("p2", "u2")))

	r.Close(ErrChannelClosed)
	assert.Equal(t, StateClosed, r.State())
	assert.Len(t, r.Participants(), 1)

	never := NewRoom("u1", "Ann", domain.MediaStatus{}, nil)
	never.Close(nil)
	assert.Equal(t, StateError, never.State())
	assert.ErrorIs(t, never.Err(), ErrChannelClosed)
}
