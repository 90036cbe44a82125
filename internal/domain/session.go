package domain

import (
	"slices"
	"time"
)

// Session is the durable study-group record owned by the session registry.
// A group is "live" while IsActive is set; ActiveParticipants is the subset
// of Members currently in the live session.
type Session struct {
	ID                 GroupID    `json:"id"`
	Title              string     `json:"title"`
	Subject            string     `json:"subject"`
	Schedule           string     `json:"schedule"`
	PasswordHash       string     `json:"-"`
	IsActive           bool       `json:"is_session_active"`
	CreatorID          UserID     `json:"creator_id"`
	Members            []UserID   `json:"members"`
	ActiveParticipants []UserID   `json:"active_participants"`
	MaxMembers         int        `json:"max_members"`
	CreatedAt          time.Time  `json:"created_at"`
	SessionStartedAt   *time.Time `json:"session_started_at,omitempty"`
	LastActivity       time.Time  `json:"last_activity"`
}

const DefaultMaxMembers = 10

func (s *Session) HasPassword() bool { return s.PasswordHash != "" }

func (s *Session) IsMember(uid UserID) bool { return slices.Contains(s.Members, uid) }

func (s *Session) IsActiveParticipant(uid UserID) bool {
	return slices.Contains(s.ActiveParticipants, uid)
}

// SessionView is what REST callers see: the record plus a has_password hint.
type SessionView struct {
	Session
	HasPassword bool `json:"has_password"`
}

func (s *Session) View() SessionView {
	return SessionView{Session: *s, HasPassword: s.HasPassword()}
}
