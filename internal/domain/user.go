// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

type (
	UserID        string
	GroupID       string
	ParticipantID string
)

// NormalizeUsername trims the display name and falls back to "Anonymous"
// the same way the signaling handshake always has.
func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Anonymous", nil
	}
	if len(name) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return name, nil
}

func ValidateUserID(id UserID) error {
	if id == "" {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}
