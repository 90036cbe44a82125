package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbrcs/studysession/internal/domain"
)

const sessionColumns = `id, title, subject, schedule, password_hash, is_active, creator_id,
	members, active_participants, max_members, created_at, session_started_at, last_activity`

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

func (r *SessionStore) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO study_groups (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.Exec(ctx, query, sessionArgs(s)...)
	return err
}

func (r *SessionStore) Get(ctx context.Context, id domain.GroupID) (*domain.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_groups WHERE id=$1`, string(id))
	return scanSession(row)
}

func (r *SessionStore) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.db.Query(ctx, `SELECT `+sessionColumns+` FROM study_groups ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Update locks the row for the duration of fn.
func (r *SessionStore) Update(ctx context.Context, id domain.GroupID, fn func(*domain.Session) error) (*domain.Session, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_groups WHERE id=$1 FOR UPDATE`, string(id))
	s, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	query := `
		UPDATE study_groups SET
			title=$2, subject=$3, schedule=$4, password_hash=$5, is_active=$6, creator_id=$7,
			members=$8, active_participants=$9, max_members=$10, created_at=$11,
			session_started_at=$12, last_activity=$13
		WHERE id=$1`
	if _, err := tx.Exec(ctx, query, sessionArgs(s)...); err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionStore) Delete(ctx context.Context, id domain.GroupID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM study_groups WHERE id=$1`, string(id))
	return err
}

func sessionArgs(s *domain.Session) []any {
	return []any{
		string(s.ID), s.Title, s.Subject, s.Schedule, s.PasswordHash, s.IsActive, string(s.CreatorID),
		toStrings(s.Members), toStrings(s.ActiveParticipants), s.MaxMembers, s.CreatedAt,
		s.SessionStartedAt, s.LastActivity,
	}
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s                     domain.Session
		id, creator           string
		members, participants []string
	)
	err := row.Scan(&id, &s.Title, &s.Subject, &s.Schedule, &s.PasswordHash, &s.IsActive, &creator,
		&members, &participants, &s.MaxMembers, &s.CreatedAt, &s.SessionStartedAt, &s.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	s.ID = domain.GroupID(id)
	s.CreatorID = domain.UserID(creator)
	s.Members = fromStrings(members)
	s.ActiveParticipants = fromStrings(participants)
	return &s, nil
}

func toStrings(ids []domain.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func fromStrings(ss []string) []domain.UserID {
	out := make([]domain.UserID, len(ss))
	for i, s := range ss {
		out[i] = domain.UserID(s)
	}
	return out
}
