package bot

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"reward-bridge/internal/config"
	"reward-bridge/internal/pkg/ratelimit"
)

// PrivateAccess remembers users seen in whitelisted groups; only they may
// talk to the bot in private chat.
type PrivateAccess struct {
	mu    sync.RWMutex
	users map[int64]bool
}

// NewPrivateAccess creates an empty PrivateAccess.
func NewPrivateAccess() *PrivateAccess {
	return &PrivateAccess{users: make(map[int64]bool)}
}

// Allow marks a user as allowed to use private chat.
func (p *PrivateAccess) Allow(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[userID] = true
}

// Allowed checks if a user is allowed to use private chat.
func (p *PrivateAccess) Allowed(userID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.users[userID]
}

// WhitelistMiddleware drops updates from groups outside the whitelist and
// private chats from users never seen in a whitelisted group.
func WhitelistMiddleware(cfg *config.Config, access *PrivateAccess) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			sender := c.Sender()
			if chat == nil || sender == nil {
				return nil
			}

			if chat.Type == tele.ChatPrivate {
				if access.Allowed(sender.ID) || len(cfg.Whitelist.Chats) == 0 {
					return next(c)
				}
				log.Debug().Int64("user_id", sender.ID).Msg("Ignoring private chat from unknown user")
				return nil
			}

			if !cfg.IsChatAllowed(chat.ID) {
				log.Debug().Int64("chat_id", chat.ID).Msg("Ignoring command from non-whitelisted chat")
				return nil
			}

			access.Allow(sender.ID)
			return next(c)
		}
	}
}

// FloodGuard silences users who send commands too fast or keep sending
// the same text.
type FloodGuard struct {
	rate    *ratelimit.Limiter
	repeats int
	window  time.Duration

	mu   sync.Mutex
	last map[int64]lastMessage
	now  func() time.Time
}

type lastMessage struct {
	text  string
	at    time.Time
	count int
}

// NewFloodGuard allows perMinute messages per user and up to repeats
// identical messages in a row inside window. Zero values disable the
// respective check.
func NewFloodGuard(perMinute, repeats int, window time.Duration) *FloodGuard {
	return &FloodGuard{
		rate:    ratelimit.PerMinute(perMinute),
		repeats: repeats,
		window:  window,
		last:    make(map[int64]lastMessage),
		now:     time.Now,
	}
}

// Allow records text from userID and reports whether it should be handled.
func (g *FloodGuard) Allow(userID int64, text string) bool {
	if !g.rate.Allow(strconv.FormatInt(userID, 10)) {
		return false
	}
	if g.repeats <= 0 || g.window <= 0 {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, m := range g.last {
		if now.Sub(m.at) >= g.window {
			delete(g.last, id)
		}
	}

	m, ok := g.last[userID]
	if !ok || m.text != text {
		g.last[userID] = lastMessage{text: text, at: now, count: 1}
		return true
	}
	m.count++
	m.at = now
	g.last[userID] = m
	return m.count <= g.repeats
}

// FloodMiddleware drops updates the guard refuses.
func FloodMiddleware(g *FloodGuard) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			if !g.Allow(sender.ID, c.Text()) {
				log.Info().Int64("user_id", sender.ID).Str("text", c.Text()).Msg("Dropping flooded message")
				return nil
			}
			return next(c)
		}
	}
}

// commandName returns "sell" for "/sell@bridge_bot tea 2".
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	return strings.ToLower(name)
}

// CommandLimitMiddleware enforces per-user, per-command limits per minute.
func CommandLimitMiddleware(limits map[string]int) tele.MiddlewareFunc {
	limiters := make(map[string]*ratelimit.Limiter, len(limits))
	for name, n := range limits {
		if n > 0 {
			limiters[strings.ToLower(strings.TrimPrefix(name, "/"))] = ratelimit.PerMinute(n)
		}
	}

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			l, ok := limiters[commandName(c.Text())]
			if !ok || sender == nil {
				return next(c)
			}
			if !l.Allow(strconv.FormatInt(sender.ID, 10)) {
				return c.Reply(fmt.Sprintf("⏳ 你在一分钟内最多只能使用该命令 %d 次，请稍后再试。", l.Burst()))
			}
			return next(c)
		}
	}
}

// AdminMiddleware creates a middleware that checks if the user is an admin.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}

			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Non-admin attempted admin command")
				return c.Reply("❌ 权限不足：需要管理员权限")
			}

			return next(c)
		}
	}
}

// LoggingMiddleware logs every handled update at debug level.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			event := log.Debug().Str("command", commandName(c.Text()))
			if sender := c.Sender(); sender != nil {
				event = event.Int64("user_id", sender.ID).Str("username", sender.Username)
			}
			if chat := c.Chat(); chat != nil {
				event = event.Int64("chat_id", chat.ID).Str("chat_type", string(chat.Type))
			}
			event.Msg("Received command")

			return next(c)
		}
	}
}

// RecoveryMiddleware turns a handler panic into an error reply.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("text", c.Text()).Msg("Recovered from panic in handler")
					_ = c.Reply("❌ 发生内部错误，请稍后重试")
				}
			}()
			return next(c)
		}
	}
}
