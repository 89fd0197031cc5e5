package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"reward-bridge/internal/binding"
	"reward-bridge/internal/repository"
	"reward-bridge/internal/service"
)

// Event is a game-server event about one player.
type Event struct {
	Account string `json:"account" binding:"required"`
	Message string `json:"message"`
}

func bindEvent(c *gin.Context) (Event, bool) {
	var ev Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, "invalid event body")
		return ev, false
	}
	ev.Account = strings.TrimSpace(ev.Account)
	if ev.Account == "" {
		fail(c, http.StatusBadRequest, codeBadRequest, "account is required")
		return ev, false
	}
	return ev, true
}

func (s *Server) chat(c *gin.Context) {
	ev, ok := bindEvent(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if strings.TrimSpace(ev.Message) == s.deps.Binder.ConfirmPhrase() {
		p, slot, err := s.deps.Binder.ConfirmBinding(ctx, ev.Account)
		switch {
		case err == nil:
			success(c, gin.H{"bound": true, "user_id": p.RequesterID, "slot": slot})
		case errors.Is(err, binding.ErrNotFound):
			fail(c, http.StatusNotFound, codeNotFound, "no pending binding")
		case errors.Is(err, repository.ErrAlreadyBound), errors.Is(err, repository.ErrNoFreeSlot):
			fail(c, http.StatusConflict, codeConflict, err.Error())
		default:
			fail(c, http.StatusInternalServerError, codeInternal, "binding failed")
		}
		return
	}

	s.relay(ctx, fmt.Sprintf("💬 <%s> %s", ev.Account, ev.Message))
	success(c, gin.H{"relayed": true})
}

func (s *Server) join(c *gin.Context) {
	ev, ok := bindEvent(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := s.deps.Presence.Join(ctx, ev.Account); err != nil {
		log.Error().Err(err).Str("account", ev.Account).Msg("Failed to mark player online")
		fail(c, http.StatusInternalServerError, codeInternal, "presence update failed")
		return
	}
	s.relay(ctx, fmt.Sprintf("🎮 %s 开始摸鱼了~", ev.Account))

	applied, err := s.deps.Economy.ApplyOnEvent(ctx, ev.Account, "join")
	if err != nil && !errors.Is(err, service.ErrEconomyDisabled) {
		fail(c, http.StatusBadGateway, codeUnavailable, "currency sync failed")
		return
	}
	success(c, gin.H{"applied": applied})
}

func (s *Server) leave(c *gin.Context) {
	ev, ok := bindEvent(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := s.deps.Presence.Leave(ctx, ev.Account); err != nil {
		log.Error().Err(err).Str("account", ev.Account).Msg("Failed to mark player offline")
		fail(c, http.StatusInternalServerError, codeInternal, "presence update failed")
		return
	}
	s.relay(ctx, fmt.Sprintf("👋 %s 停止了摸鱼~", ev.Account))

	// The balance view refreshes when a player logs out.
	s.triggerSweep("leave")
	success(c, gin.H{"left": true})
}

// ServerState reports the game server starting or stopping.
type ServerState struct {
	State string `json:"state" binding:"required,oneof=start stop"`
}

func (s *Server) serverState(c *gin.Context) {
	var st ServerState
	if err := c.ShouldBindJSON(&st); err != nil {
		fail(c, http.StatusBadRequest, codeBadRequest, "state must be start or stop")
		return
	}
	ctx := c.Request.Context()

	// Nobody is online across a restart, and a crash sends no leave events.
	if err := s.deps.Presence.Reset(ctx); err != nil {
		log.Error().Err(err).Str("state", st.State).Msg("Failed to reset presence")
		fail(c, http.StatusInternalServerError, codeInternal, "presence reset failed")
		return
	}

	if st.State == "start" {
		s.relay(ctx, "✅ 服务器已启动完成~")
		s.triggerSweep("server start")
	} else {
		s.relay(ctx, "🛑 服务器已停止运行~")
	}
	log.Info().Str("state", st.State).Msg("Game server state changed")
	success(c, gin.H{"state": st.State})
}

func (s *Server) death(c *gin.Context) {
	s.announce(c, "💀")
}

func (s *Server) advancement(c *gin.Context) {
	s.announce(c, "🏆")
}

// announce relays the game's own message text for ev.Account.
func (s *Server) announce(c *gin.Context, icon string) {
	ev, ok := bindEvent(c)
	if !ok {
		return
	}
	text := strings.TrimSpace(ev.Message)
	if text == "" {
		fail(c, http.StatusBadRequest, codeBadRequest, "message is required")
		return
	}
	s.relay(c.Request.Context(), icon+" "+text)
	success(c, gin.H{"relayed": true})
}

// triggerSweep starts a background balance sweep unless one is already
// running. Requests arriving meanwhile are left to the periodic sweeper.
func (s *Server) triggerSweep(reason string) {
	if !s.sweeping.CompareAndSwap(false, true) {
		log.Debug().Str("reason", reason).Msg("Balance sweep already running")
		return
	}
	go func() {
		defer s.sweeping.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), s.sweepTimeout)
		defer cancel()
		if _, err := s.deps.Economy.Sweep(ctx); err != nil && !errors.Is(err, service.ErrEconomyDisabled) {
			log.Error().Err(err).Str("reason", reason).Msg("Balance sweep failed")
		}
	}()
}

func (s *Server) relay(ctx context.Context, text string) {
	if s.deps.Relay == nil {
		return
	}
	if err := s.deps.Relay.Relay(ctx, text); err != nil {
		log.Warn().Err(err).Msg("Failed to relay game event")
	}
}
