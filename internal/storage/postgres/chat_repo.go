package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbrcs/studysession/internal/domain"
)

type ChatStore struct {
	db *pgxpool.Pool
}

func NewChatStore(db *pgxpool.Pool) *ChatStore {
	return &ChatStore{db: db}
}

func (r *ChatStore) Append(ctx context.Context, group domain.GroupID, m domain.ChatMessage) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO study_group_messages (id, group_id, sender_id, sender_name, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, string(group), string(m.SenderID), m.SenderName, m.Message, m.Timestamp)
	return err
}

func (r *ChatStore) History(ctx context.Context, group domain.GroupID, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 1000
	}
	const query = `
		SELECT id, sender_id, sender_name, message, created_at FROM (
			SELECT id, sender_id, sender_name, message, created_at
			FROM study_group_messages
			WHERE group_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) newest
		ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, string(group), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ChatMessage{}
	for rows.Next() {
		var (
			m      domain.ChatMessage
			sender string
		)
		if err := rows.Scan(&m.ID, &sender, &m.SenderName, &m.Message, &m.Timestamp); err != nil {
			return nil, err
		}
		m.SenderID = domain.UserID(sender)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ChatStore) DeleteGroup(ctx context.Context, group domain.GroupID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM study_group_messages WHERE group_id=$1`, string(group))
	return err
}
