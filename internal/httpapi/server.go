// Package httpapi receives game-server events over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"reward-bridge/internal/binding"
	"reward-bridge/internal/config"
	"reward-bridge/internal/pkg/ratelimit"
)

// Binder completes binding handshakes. Implemented by
// service.BindingService.
type Binder interface {
	ConfirmPhrase() string
	ConfirmBinding(ctx context.Context, account string) (binding.Pending, int, error)
}

// Economy applies and reconciles currency. Implemented by
// service.EconomyService.
type Economy interface {
	ApplyOnEvent(ctx context.Context, account, trigger string) (int64, error)
	Sweep(ctx context.Context) (int, error)
}

// Presence tracks online accounts. Implemented by gameserver.Presence.
type Presence interface {
	Join(ctx context.Context, account string) error
	Leave(ctx context.Context, account string) error
	Reset(ctx context.Context) error
}

// Relay forwards game events to the chat. Implemented by bot.Bot.
type Relay interface {
	Relay(ctx context.Context, text string) error
}

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// Deps are the collaborators the webhook handlers call.
type Deps struct {
	Binder   Binder
	Economy  Economy
	Presence Presence
	Relay    Relay
	Health   map[string]HealthFunc
}

// Server is the game-server webhook listener.
type Server struct {
	deps         Deps
	http         *http.Server
	sweepTimeout time.Duration
	sweeping     atomic.Bool
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg config.HTTPConfig, deps Deps) *Server {
	s := &Server{deps: deps, sweepTimeout: 30 * time.Second}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) router(cfg config.HTTPConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1", RateLimit(ratelimit.PerSecond(cfg.RatePerSecond, cfg.RateBurst)), TokenAuth(cfg.Token))
	events := v1.Group("/events")
	events.POST("/chat", s.chat)
	events.POST("/join", s.join)
	events.POST("/leave", s.leave)
	events.POST("/death", s.death)
	events.POST("/advancement", s.advancement)
	events.POST("/server", s.serverState)

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, codeNotFound, "not found")
	})
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("Webhook server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve webhooks: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(s.deps.Health))
	healthy := true
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	if !healthy {
		respond(c, http.StatusServiceUnavailable, codeUnavailable, "unhealthy", status)
		return
	}
	success(c, status)
}
