package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/storage"
)

// SessionService is the session registry: the durable side of a study group
// (membership, live flag, active participants, password, chat log).
type SessionService struct {
	Store storage.SessionStore
	Chats storage.ChatStore

	// BcryptCost of 0 means bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

func NewSessionService(store storage.SessionStore, chats storage.ChatStore) *SessionService {
	return &SessionService{Store: store, Chats: chats, Now: time.Now}
}

type CreateSessionInput struct {
	Title      string        `json:"title"`
	Subject    string        `json:"subject"`
	Schedule   string        `json:"schedule"`
	CreatorID  domain.UserID `json:"creator_id"`
	MaxMembers int           `json:"max_members"`
	Password   string        `json:"password"`
}

// Create stores a new group that is immediately live, with the creator as
// its only member and active participant.
func (s *SessionService) Create(ctx context.Context, in CreateSessionInput) (*domain.Session, error) {
	if err := domain.ValidateUserID(in.CreatorID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.ErrTitleEmpty
	}
	now := s.now()
	sess := &domain.Session{
		ID:                 domain.GroupID(uuid.NewString()),
		Title:              title,
		Subject:            strings.TrimSpace(in.Subject),
		Schedule:           strings.TrimSpace(in.Schedule),
		IsActive:           true,
		CreatorID:          in.CreatorID,
		Members:            []domain.UserID{in.CreatorID},
		ActiveParticipants: []domain.UserID{in.CreatorID},
		MaxMembers:         in.MaxMembers,
		CreatedAt:          now,
		SessionStartedAt:   &now,
		LastActivity:       now,
	}
	if sess.MaxMembers <= 0 {
		sess.MaxMembers = domain.DefaultMaxMembers
	}
	if in.Password != "" {
		hash, err := HashPassword(in.Password, s.BcryptCost)
		if err != nil {
			return nil, err
		}
		sess.PasswordHash = hash
	}
	if err := s.Store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	log.Info().Str("module", "app.sessions").Str("group", string(sess.ID)).Str("creator", string(in.CreatorID)).Msg("group created")
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, id domain.GroupID) (*domain.Session, error) {
	return s.Store.Get(ctx, id)
}

func (s *SessionService) List(ctx context.Context) ([]domain.Session, error) {
	return s.Store.List(ctx)
}

func (s *SessionService) ListActive(ctx context.Context) ([]domain.Session, error) {
	return s.filter(ctx, func(sess *domain.Session) bool { return sess.IsActive })
}

func (s *SessionService) ListForUser(ctx context.Context, uid domain.UserID) ([]domain.Session, error) {
	return s.filter(ctx, func(sess *domain.Session) bool { return sess.IsMember(uid) })
}

func (s *SessionService) filter(ctx context.Context, keep func(*domain.Session) bool) ([]domain.Session, error) {
	all, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(sess domain.Session) bool { return !keep(&sess) }), nil
}

// JoinGroup adds uid to the members. Joining twice is not an error.
func (s *SessionService) JoinGroup(ctx context.Context, id domain.GroupID, uid domain.UserID) (*domain.Session, error) {
	if err := domain.ValidateUserID(uid); err != nil {
		return nil, err
	}
	return s.Store.Update(ctx, id, func(sess *domain.Session) error {
		return addMember(sess, uid)
	})
}

func (s *SessionService) LeaveGroup(ctx context.Context, id domain.GroupID, uid domain.UserID) error {
	if err := domain.ValidateUserID(uid); err != nil {
		return err
	}
	_, err := s.Store.Update(ctx, id, func(sess *domain.Session) error {
		sess.Members = remove(sess.Members, uid)
		sess.ActiveParticipants = remove(sess.ActiveParticipants, uid)
		return nil
	})
	return err
}

// VerifyPassword succeeds for groups without a password.
func (s *SessionService) VerifyPassword(ctx context.Context, id domain.GroupID, password string) error {
	sess, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sess.HasPassword() {
		return nil
	}
	return ComparePassword(sess.PasswordHash, password)
}

// JoinSession enters the live session. Non-members of a password-protected
// group must have verified the password first.
func (s *SessionService) JoinSession(ctx context.Context, id domain.GroupID, uid domain.UserID, verified bool) (*domain.Session, error) {
	if err := domain.ValidateUserID(uid); err != nil {
		return nil, err
	}
	return s.Store.Update(ctx, id, func(sess *domain.Session) error {
		if !sess.IsActive {
			return domain.ErrSessionInactive
		}
		if sess.HasPassword() && !verified && !sess.IsMember(uid) {
			return domain.ErrPasswordRequired
		}
		if err := addMember(sess, uid); err != nil {
			return err
		}
		if !sess.IsActiveParticipant(uid) {
			sess.ActiveParticipants = append(sess.ActiveParticipants, uid)
		}
		sess.LastActivity = s.now()
		return nil
	})
}

// LeaveSession removes uid from the live session and deletes the group once
// nobody is left in it.
func (s *SessionService) LeaveSession(ctx context.Context, id domain.GroupID, uid domain.UserID) (bool, error) {
	if err := domain.ValidateUserID(uid); err != nil {
		return false, err
	}
	sess, err := s.Store.Update(ctx, id, func(sess *domain.Session) error {
		sess.ActiveParticipants = remove(sess.ActiveParticipants, uid)
		sess.LastActivity = s.now()
		return nil
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		// this call deleted nothing; the id may never have existed
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(sess.ActiveParticipants) > 0 {
		return false, nil
	}
	return true, s.delete(ctx, id, "no participants remaining")
}

// StartSession makes the group live with the starter as sole participant.
func (s *SessionService) StartSession(ctx context.Context, id domain.GroupID, uid domain.UserID) (*domain.Session, error) {
	if err := domain.ValidateUserID(uid); err != nil {
		return nil, err
	}
	return s.Store.Update(ctx, id, func(sess *domain.Session) error {
		if !sess.IsMember(uid) {
			return domain.ErrNotMember
		}
		now := s.now()
		sess.IsActive = true
		sess.SessionStartedAt = &now
		sess.ActiveParticipants = []domain.UserID{uid}
		sess.LastActivity = now
		return nil
	})
}

// EndSession stops the live session, deleting the group when deleteGroup is set.
func (s *SessionService) EndSession(ctx context.Context, id domain.GroupID, uid domain.UserID, deleteGroup bool) (bool, error) {
	if err := domain.ValidateUserID(uid); err != nil {
		return false, err
	}
	sess, err := s.Store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !sess.IsMember(uid) {
		return false, domain.ErrNotMember
	}
	if deleteGroup {
		return true, s.delete(ctx, id, "session ended")
	}
	_, err = s.Store.Update(ctx, id, func(sess *domain.Session) error {
		sess.IsActive = false
		sess.SessionStartedAt = nil
		sess.ActiveParticipants = []domain.UserID{}
		sess.LastActivity = s.now()
		return nil
	})
	return false, err
}

// CheckMember loads the group and checks uid may enter its live room.
func (s *SessionService) CheckMember(ctx context.Context, id domain.GroupID, uid domain.UserID) (*domain.Session, error) {
	sess, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsMember(uid) {
		return nil, domain.ErrNotMember
	}
	return sess, nil
}

func (s *SessionService) Touch(ctx context.Context, id domain.GroupID) error {
	_, err := s.Store.Update(ctx, id, func(sess *domain.Session) error {
		sess.LastActivity = s.now()
		return nil
	})
	return err
}

func (s *SessionService) ChatHistory(ctx context.Context, id domain.GroupID) ([]domain.ChatMessage, error) {
	if _, err := s.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Chats.History(ctx, id, storage.DefaultHistoryLimit)
}

func (s *SessionService) AppendChat(ctx context.Context, id domain.GroupID, msg domain.ChatMessage) error {
	return s.Chats.Append(ctx, id, msg)
}

// ReapIdle deletes live groups idle for longer than ttl. Groups for which
// live reports a connected room are kept.
func (s *SessionService) ReapIdle(ctx context.Context, ttl time.Duration, live func(domain.GroupID) bool) ([]domain.GroupID, error) {
	all, err := s.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-ttl)
	var reaped []domain.GroupID
	for _, sess := range all {
		if !sess.IsActive || !sess.LastActivity.Before(cutoff) {
			continue
		}
		if live != nil && live(sess.ID) {
			continue
		}
		if err := s.delete(ctx, sess.ID, "idle"); err != nil {
			return reaped, err
		}
		reaped = append(reaped, sess.ID)
	}
	return reaped, nil
}

// RunReaper calls ReapIdle every interval until ctx is done.
func (s *SessionService) RunReaper(ctx context.Context, interval, ttl time.Duration, live func(domain.GroupID) bool) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			reaped, err := s.ReapIdle(ctx, ttl, live)
			if err != nil {
				log.Error().Err(err).Str("module", "app.sessions").Msg("reap idle groups")
			}
			if len(reaped) > 0 {
				log.Info().Str("module", "app.sessions").Int("count", len(reaped)).Msg("reaped idle groups")
			}
		}
	}
}

func (s *SessionService) delete(ctx context.Context, id domain.GroupID, reason string) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete group %s: %w", id, err)
	}
	if err := s.Chats.DeleteGroup(ctx, id); err != nil {
		log.Warn().Err(err).Str("module", "app.sessions").Str("group", string(id)).Msg("delete chat log")
	}
	log.Info().Str("module", "app.sessions").Str("group", string(id)).Str("reason", reason).Msg("group deleted")
	return nil
}

func (s *SessionService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func addMember(sess *domain.Session, uid domain.UserID) error {
	if sess.IsMember(uid) {
		return nil
	}
	if sess.MaxMembers > 0 && len(sess.Members) >= sess.MaxMembers {
		return domain.ErrSessionFull
	}
	sess.Members = append(sess.Members, uid)
	return nil
}

func remove(ids []domain.UserID, uid domain.UserID) []domain.UserID {
	return slices.DeleteFunc(ids, func(id domain.UserID) bool { return id == uid })
}
