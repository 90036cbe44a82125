package domain

import "time"

// MediaStatus is the set of flags every client mirrors for each participant.
type MediaStatus struct {
	Muted           bool `json:"muted"`
	CameraOff       bool `json:"camera_off"`
	IsScreenSharing bool `json:"is_screen_sharing"`
	HandRaised      bool `json:"hand_raised"`
}

// Participant is room-scoped: it lives as long as one signaling connection.
type Participant struct {
	ID          ParticipantID `json:"id"`
	UserID      UserID        `json:"user_id"`
	DisplayName string        `json:"display_name"`
	MediaStatus
	JoinedAt time.Time `json:"joined_at"`
}

// RoomInfo is the metadata every roster message carries.
type RoomInfo struct {
	GroupID        GroupID   `json:"group_id"`
	GroupTitle     string    `json:"group_title"`
	GroupSubject   string    `json:"group_subject"`
	SessionStarted time.Time `json:"session_started"`
}
