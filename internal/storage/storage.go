// Package storage declares the durable state behind the session registry.
package storage

import (
	"context"

	"github.com/cbrcs/studysession/internal/domain"
)

// SessionStore keeps study-group records. Get and Update return
// domain.ErrSessionNotFound for unknown ids.
type SessionStore interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id domain.GroupID) (*domain.Session, error)
	List(ctx context.Context) ([]domain.Session, error)
	// Update applies fn to the current record atomically. If fn returns an
	// error nothing is written.
	Update(ctx context.Context, id domain.GroupID, fn func(*domain.Session) error) (*domain.Session, error)
	Delete(ctx context.Context, id domain.GroupID) error
}

// ChatStore is the append-only chat log of every group.
type ChatStore interface {
	Append(ctx context.Context, group domain.GroupID, msg domain.ChatMessage) error
	// History returns the newest limit messages in chronological order.
	History(ctx context.Context, group domain.GroupID, limit int) ([]domain.ChatMessage, error)
	DeleteGroup(ctx context.Context, group domain.GroupID) error
}

// DefaultHistoryLimit bounds the log replayed to a joining participant.
const DefaultHistoryLimit = 200
