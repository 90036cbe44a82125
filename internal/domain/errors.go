package domain

import "errors"

var (
	ErrUserIDEmpty     = errors.New("user id is required")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
	ErrTitleEmpty      = errors.New("title is required")

	ErrSessionNotFound  = errors.New("study group not found")
	ErrSessionInactive  = errors.New("no active session to join")
	ErrSessionFull      = errors.New("study group is full")
	ErrNotMember        = errors.New("you are not a member of this study group")
	ErrPasswordRequired = errors.New("password verification required")
	ErrBadPassword      = errors.New("incorrect password")
	ErrPasswordTooShort = errors.New("password too short")

	ErrParticipantNotFound = errors.New("participant not found")
	ErrMessageEmpty        = errors.New("message is empty")
	ErrMessageTooLong      = errors.New("message too long")
	ErrRateLimited         = errors.New("slow down")
)
