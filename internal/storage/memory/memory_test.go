package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbrcs/studysession/internal/domain"
)

func TestSessionStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	orig := &domain.Session{ID: "g1", Title: "Algebra", Members: []domain.UserID{"u1"}}
	require.NoError(t, s.Create(ctx, orig))

	orig.Members[0] = "mutated"
	got, err := s.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"u1"}, got.Members)

	got.Members = append(got.Members, "u2")
	again, _ := s.Get(ctx, "g1")
	assert.Len(t, again.Members, 1)
}

func TestSessionStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	require.NoError(t, s.Create(ctx, &domain.Session{ID: "g1"}))

	out, err := s.Update(ctx, "g1", func(sess *domain.Session) error {
		sess.IsActive = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, out.IsActive)

	boom := errors.New("boom")
	_, err = s.Update(ctx, "g1", func(sess *domain.Session) error {
		sess.IsActive = false
		return boom
	})
	assert.ErrorIs(t, err, boom)
	cur, _ := s.Get(ctx, "g1")
	assert.True(t, cur.IsActive)

	_, err = s.Update(ctx, "nope", func(*domain.Session) error { return nil })
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	now := time.Now()
	require.NoError(t, s.Create(ctx, &domain.Session{ID: "old", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Create(ctx, &domain.Session{ID: "new", CreatedAt: now}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.GroupID("new"), list[0].ID)

	require.NoError(t, s.Delete(ctx, "new"))
	_, err = s.Get(ctx, "new")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestChatStoreHistoryLimit(t *testing.T) {
	ctx := context.Background()
	c := NewChatStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Append(ctx, "g1", domain.ChatMessage{ID: id}))
	}
	h, err := c.History(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "b", h[0].ID)
	assert.Equal(t, "c", h[1].ID)

	require.NoError(t, c.DeleteGroup(ctx, "g1"))
	h, err = c.History(ctx, "g1", 0)
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Empty(t, h)
}
