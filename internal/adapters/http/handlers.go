package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/app"
	"github.com/cbrcs/studysession/internal/app/orch"
	"github.com/cbrcs/studysession/internal/domain"
)

type Handlers struct {
	Sessions *app.SessionService
	Orch     *orch.Orchestrator
}

type userRequest struct {
	UserID domain.UserID `json:"user_id"`
}

type endSessionRequest struct {
	UserID      domain.UserID `json:"user_id"`
	DeleteGroup *bool         `json:"delete_group"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

func verifiedKey(id domain.GroupID) string { return "verified:" + string(id) }

func groupID(c *gin.Context) domain.GroupID { return domain.GroupID(c.Param("id")) }

// statusOf maps registry errors onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotMember),
		errors.Is(err, domain.ErrPasswordRequired),
		errors.Is(err, domain.ErrBadPassword):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionFull):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSessionInactive),
		errors.Is(err, domain.ErrUserIDEmpty),
		errors.Is(err, domain.ErrUserIDTooLong),
		errors.Is(err, domain.ErrTitleEmpty),
		errors.Is(err, domain.ErrPasswordTooShort):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("handler")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badJSON(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
}

func views(list []domain.Session) []domain.SessionView {
	out := make([]domain.SessionView, 0, len(list))
	for i := range list {
		out = append(out, list[i].View())
	}
	return out
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"live_rooms":  len(h.Orch.Rooms.List()),
		"connections": h.Orch.Registry.Count(),
	})
}

// POST /api/sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	var req app.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	sess, err := h.Sessions.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	if sess.HasPassword() {
		// the creator never has to type their own password
		s := sessions.Default(c)
		s.Set(verifiedKey(sess.ID), true)
		_ = s.Save()
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "group": sess.View()})
}

// GET /api/sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	list, err := h.Sessions.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "groups": views(list)})
}

// GET /api/sessions/active
func (h *Handlers) ListActive(c *gin.Context) {
	list, err := h.Sessions.ListActive(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "groups": views(list)})
}

// GET /api/users/:user_id/sessions
func (h *Handlers) ListForUser(c *gin.Context) {
	list, err := h.Sessions.ListForUser(c.Request.Context(), domain.UserID(c.Param("user_id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "groups": views(list)})
}

// GET /api/sessions/:id
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.Sessions.Get(c.Request.Context(), groupID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "group": sess.View()})
}

// POST /api/sessions/:id/join
func (h *Handlers) JoinGroup(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	if _, err := h.Sessions.JoinGroup(c.Request.Context(), groupID(c), req.UserID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// POST /api/sessions/:id/leave
func (h *Handlers) LeaveGroup(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	if err := h.Sessions.LeaveGroup(c.Request.Context(), groupID(c), req.UserID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// POST /api/sessions/:id/verify-password
func (h *Handlers) VerifyPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	id := groupID(c)
	if err := h.Sessions.VerifyPassword(c.Request.Context(), id, req.Password); err != nil {
		fail(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set(verifiedKey(id), true)
	if err := s.Save(); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// POST /api/sessions/:id/join-session
func (h *Handlers) JoinSession(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	id := groupID(c)
	verified, _ := sessions.Default(c).Get(verifiedKey(id)).(bool)
	if _, err := h.Sessions.JoinSession(c.Request.Context(), id, req.UserID, verified); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// POST /api/sessions/:id/leave-session
func (h *Handlers) LeaveSession(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	deleted, err := h.Sessions.LeaveSession(c.Request.Context(), groupID(c), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "group_deleted": deleted})
}

// GET /api/sessions/:id/session-info
func (h *Handlers) SessionInfo(c *gin.Context) {
	id := groupID(c)
	sess, err := h.Sessions.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	live := []domain.Participant{}
	if room, ok := h.Orch.Rooms.Get(id); ok {
		live = room.MembersSnapshot()
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"group":             sess.View(),
		"members":           sess.Members,
		"live_participants": live,
		"websocket_url":     "/ws/study-group/" + string(id),
	})
}

// POST /api/sessions/:id/start-session
func (h *Handlers) StartSession(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	sess, err := h.Sessions.StartSession(c.Request.Context(), groupID(c), req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "group": sess.View()})
}

// POST /api/sessions/:id/end-session
func (h *Handlers) EndSession(c *gin.Context) {
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	deleteGroup := req.DeleteGroup == nil || *req.DeleteGroup
	id := groupID(c)
	deleted, err := h.Sessions.EndSession(c.Request.Context(), id, req.UserID, deleteGroup)
	if err != nil {
		fail(c, err)
		return
	}
	evicted := h.Orch.EvictRoom(id)
	c.JSON(http.StatusOK, gin.H{"success": true, "group_deleted": deleted, "evicted": evicted})
}

// POST /api/sessions/:id/keep-alive
func (h *Handlers) KeepAlive(c *gin.Context) {
	if err := h.Sessions.Touch(c.Request.Context(), groupID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GET /api/sessions/:id/chat
func (h *Handlers) ChatHistory(c *gin.Context) {
	msgs, err := h.Sessions.ChatHistory(c.Request.Context(), groupID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": msgs})
}
