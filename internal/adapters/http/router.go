package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cbrcs/studysession/internal/adapters/signal"
	"github.com/cbrcs/studysession/internal/app/orch"
	"github.com/cbrcs/studysession/internal/config"
)

const cookieName = "StudySessions"

// SetupRouter wires the registry REST API under /api and the study-room
// websocket under /ws/study-group/:id.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(RequestLogger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(cookieName, store))

	h := &Handlers{Sessions: o.Sessions, Orch: o}
	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/active", h.ListActive)
	api.GET("/sessions/:id", h.GetSession)
	api.GET("/users/:user_id/sessions", h.ListForUser)
	api.POST("/sessions/:id/join", h.JoinGroup)
	api.POST("/sessions/:id/leave", h.LeaveGroup)
	api.POST("/sessions/:id/verify-password", h.VerifyPassword)
	api.POST("/sessions/:id/join-session", h.JoinSession)
	api.POST("/sessions/:id/leave-session", h.LeaveSession)
	api.GET("/sessions/:id/session-info", h.SessionInfo)
	api.POST("/sessions/:id/start-session", h.StartSession)
	api.POST("/sessions/:id/end-session", h.EndSession)
	api.POST("/sessions/:id/keep-alive", h.KeepAlive)
	api.GET("/sessions/:id/chat", h.ChatHistory)

	ctrl := signal.NewSignalWSController(o, signal.OptionsFromConfig(cfg))
	r.GET("/ws/study-group/:id", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
