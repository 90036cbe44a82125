// Package protocol defines the signaling messages exchanged over the
// study-session websocket. Every frame is one JSON object tagged by "type".
package protocol

import (
	"encoding/json"
	"time"

	"github.com/cbrcs/studysession/internal/domain"
)

type Type string

const (
	TypeJoinSession           Type = "join_session"
	TypeLeaveSession          Type = "leave_session"
	TypeStatusUpdate          Type = "status_update"
	TypeHandRaise             Type = "hand_raise"
	TypeChatMessage           Type = "chat_message"
	TypeWebRTCOffer           Type = "webrtc_offer"
	TypeWebRTCAnswer          Type = "webrtc_answer"
	TypeWebRTCICECandidate    Type = "webrtc_ice_candidate"
	TypePing                  Type = "ping"
	TypePong                  Type = "pong"
	TypeConnectionEstablished Type = "connection_established"
	TypeParticipantsUpdate    Type = "participants_update"
	TypeChatHistory           Type = "chat_history"
	TypeHandRaiseUpdate       Type = "hand_raise_update"
	TypeError                 Type = "error"
)

// Message is the sum of every frame kind. Implementations are the concrete
// structs below; consumers switch on the concrete type.
type Message interface {
	Kind() Type
}

// Client -> server.

type JoinSession struct {
	UserID   domain.UserID `json:"user_id"`
	UserName string        `json:"user_name"`
	domain.MediaStatus
}

type LeaveSession struct{}

// StatusUpdate is partial: nil fields keep their previous value.
type StatusUpdate struct {
	Muted           *bool `json:"muted,omitempty"`
	CameraOff       *bool `json:"camera_off,omitempty"`
	IsScreenSharing *bool `json:"is_screen_sharing,omitempty"`
}

type HandRaise struct {
	HandRaised bool `json:"hand_raised"`
}

type ChatSend struct {
	Message string `json:"message"`
}

type Ping struct{}

// Both directions.

// Negotiation carries an offer, answer or ICE candidate. Clients fill
// TargetParticipantID; the server replaces it with FromParticipantID.
type Negotiation struct {
	Type                Type                 `json:"-"`
	TargetParticipantID domain.ParticipantID `json:"target_participant_id,omitempty"`
	FromParticipantID   domain.ParticipantID `json:"from_participant_id,omitempty"`
	Data                json.RawMessage      `json:"data"`
}

// Server -> client.

type ConnectionEstablished struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	RoomInfo      domain.RoomInfo      `json:"room_info"`
}

type ParticipantsUpdate struct {
	Participants []domain.Participant `json:"participants"`
	RoomInfo     domain.RoomInfo      `json:"room_info"`
}

type ChatHistory struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type ChatBroadcast struct {
	Message domain.ChatMessage `json:"message"`
}

type HandRaiseUpdate struct {
	ParticipantID   domain.ParticipantID `json:"participant_id"`
	ParticipantName string               `json:"participant_name"`
	HandRaised      bool                 `json:"hand_raised"`
	Timestamp       time.Time            `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
}

type Pong struct{}

func (JoinSession) Kind() Type           { return TypeJoinSession }
func (LeaveSession) Kind() Type          { return TypeLeaveSession }
func (StatusUpdate) Kind() Type          { return TypeStatusUpdate }
func (HandRaise) Kind() Type             { return TypeHandRaise }
func (ChatSend) Kind() Type              { return TypeChatMessage }
func (Ping) Kind() Type                  { return TypePing }
func (n Negotiation) Kind() Type         { return n.Type }
func (ConnectionEstablished) Kind() Type { return TypeConnectionEstablished }
func (ParticipantsUpdate) Kind() Type    { return TypeParticipantsUpdate }
func (ChatHistory) Kind() Type           { return TypeChatHistory }
func (ChatBroadcast) Kind() Type         { return TypeChatMessage }
func (HandRaiseUpdate) Kind() Type       { return TypeHandRaiseUpdate }
func (Error) Kind() Type                 { return TypeError }
func (Pong) Kind() Type                  { return TypePong }

// IsNegotiation reports whether t is one of the targeted webrtc_* kinds.
func IsNegotiation(t Type) bool {
	switch t {
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCICECandidate:
		return true
	}
	return false
}

// Apply merges a partial status update into st.
func (u StatusUpdate) Apply(st domain.MediaStatus) domain.MediaStatus {
	if u.Muted != nil {
		st.Muted = *u.Muted
	}
	if u.CameraOff != nil {
		st.CameraOff = *u.CameraOff
	}
	if u.IsScreenSharing != nil {
		st.IsScreenSharing = *u.IsScreenSharing
	}
	return st
}

// FullStatus builds an update carrying every media flag of st.
func FullStatus(st domain.MediaStatus) StatusUpdate {
	return StatusUpdate{
		Muted:           &st.Muted,
		CameraOff:       &st.CameraOff,
		IsScreenSharing: &st.IsScreenSharing,
	}
}
