package domain

import "time"

const MaxChatMessageLen = 2000

// ChatMessage is append-only; ids and timestamps are stamped by the server.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   UserID    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}
