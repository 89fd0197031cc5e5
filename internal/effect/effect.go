// Package effect maps item effect identifiers to the game-server commands
// they produce. The set is closed: every identifier a catalog prize may
// reference is registered at startup and checked before the bridge serves
// requests.
package effect

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"reward-bridge/internal/config"
)

// Target is the game account an effect is applied to.
type Target struct {
	Account string
	// Actor is the display label of the chat user who used the item.
	Actor string
}

// Outcome is what applying an effect to one account produced.
type Outcome struct {
	Commands      []string
	Message       string
	CurrencyDelta int64
	Succeeded     bool
}

// Traits describe how the item orchestration treats an effect.
type Traits struct {
	// AlwaysSucceeds skips the luck roll.
	AlwaysSucceeds bool
	// SingleTarget stops after the first online account.
	SingleTarget bool
	// SelfAllowed lets a user target their own accounts.
	SelfAllowed bool
	// OpensBox issues a blind box to the target user instead of running
	// commands on the game server.
	OpensBox bool
}

// Effect is one item effect.
type Effect interface {
	ID() string
	Traits() Traits
	// Apply returns the commands for a successful use on t.
	Apply(t Target) Outcome
}

// Roller decides whether a use succeeds. The success chance grows with
// the user's lucky number; a failed use costs the user currency.
type Roller struct {
	baseRate  float64
	luckBonus float64
	dropMin   int64
	dropMax   int64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller creates a roller. A nil rng is seeded from the clock.
func NewRoller(cfg config.EffectsConfig, rng *rand.Rand) *Roller {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	dropMin, dropMax := cfg.FailDropMin, cfg.FailDropMax
	if dropMin < 0 {
		dropMin = 0
	}
	if dropMax < dropMin {
		dropMax = dropMin
	}
	return &Roller{
		baseRate:  cfg.BaseSuccessRate,
		luckBonus: cfg.LuckBonus,
		dropMin:   dropMin,
		dropMax:   dropMax,
		rng:       rng,
	}
}

// SuccessRate returns the success chance in percent for a lucky number,
// clamped to [0, 100].
func (r *Roller) SuccessRate(lucky int) float64 {
	rate := r.baseRate + float64(lucky)*r.luckBonus
	return min(max(rate, 0), 100)
}

// Resolve rolls for e against t and returns the resulting outcome.
func (r *Roller) Resolve(e Effect, t Target, lucky int) Outcome {
	if e.Traits().AlwaysSucceeds {
		return succeed(e, t)
	}

	r.mu.Lock()
	success := r.rng.Float64()*100 < r.SuccessRate(lucky)
	drop := r.dropMin
	if !success && r.dropMax > r.dropMin {
		drop += r.rng.Int63n(r.dropMax - r.dropMin + 1)
	}
	r.mu.Unlock()

	if success {
		return succeed(e, t)
	}
	return failed(t, drop)
}

func succeed(e Effect, t Target) Outcome {
	out := e.Apply(t)
	out.Succeeded = true
	return out
}

func failed(t Target, drop int64) Outcome {
	msg := fmt.Sprintf("%s 的诡计被 %s 当场识破，%d 个绿宝石散落一地！", t.Actor, t.Account, drop)
	commands := []string{Announce(msg)}
	if drop > 0 {
		commands = append(commands, fmt.Sprintf(
			`execute as %s at @s run summon item ^ ^3 ^-5 {Item:{id:"minecraft:emerald",Count:%db},PickupDelay:40}`,
			t.Account, min(drop, 64)))
	}
	return Outcome{Commands: commands, Message: msg, CurrencyDelta: -drop}
}
