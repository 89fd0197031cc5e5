package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"reward-bridge/internal/config"
	"reward-bridge/internal/model"
	"reward-bridge/internal/pkg/lock"
)

type economyEnv struct {
	ledger   *memLedger
	bindings *memBindings
	sink     *recordingSink
	balances mapBalances
	svc      *EconomyService
}

func newEconomyEnv(t *testing.T, cfg config.EconomyConfig) *economyEnv {
	t.Helper()
	env := &economyEnv{
		ledger:   newMemLedger(),
		bindings: newMemBindings(),
		sink:     newRecordingSink(),
		balances: mapBalances{"Steve": 100},
	}
	env.ledger.states[alice] = &model.SignState{UserID: alice, StreakDays: 1, LuckyNumber: 50}
	_, err := env.bindings.Bind(context.Background(), alice, "Steve")
	require.NoError(t, err)
	_, err = env.bindings.Bind(context.Background(), alice, "Alt")
	require.NoError(t, err)

	env.svc = NewEconomyService(env.ledger, env.bindings, env.sink, env.balances, lock.NewUserLock(), cfg)
	return env
}

func TestApplyOnEvent_CreditsAndSettles(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{Enabled: true})
	ctx := context.Background()
	env.ledger.states[alice].PendingCurrency = 30

	applied, err := env.svc.ApplyOnEvent(ctx, "Steve", "join")
	require.NoError(t, err)
	assert.Equal(t, int64(30), applied)
	assert.Equal(t, int64(30), env.sink.credits["Steve"])

	state, err := env.ledger.Get(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, state.PendingCurrency)
	assert.Equal(t, int64(100), state.CachedBalance)

	applied, err = env.svc.ApplyOnEvent(ctx, "Steve", "join")
	require.NoError(t, err)
	assert.Zero(t, applied, "nothing left to apply")
	assert.Equal(t, int64(30), env.sink.credits["Steve"])
}

func TestApplyOnEvent_LaggingBalanceView(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{Enabled: true, BalanceViewLags: true})
	env.ledger.states[alice].PendingCurrency = 30

	_, err := env.svc.ApplyOnEvent(context.Background(), "Steve", "chat")
	require.NoError(t, err)
	assert.Equal(t, int64(130), env.ledger.states[alice].CachedBalance)
}

func TestApplyOnEvent_NegativePending(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{Enabled: true})
	env.ledger.states[alice].PendingCurrency = -15

	applied, err := env.svc.ApplyOnEvent(context.Background(), "Steve", "join")
	require.NoError(t, err)
	assert.Equal(t, int64(-15), applied)
	assert.Equal(t, int64(-15), env.sink.credits["Steve"])
	assert.Zero(t, env.ledger.states[alice].PendingCurrency)
}

func TestApplyOnEvent_FailedCreditKeepsPending(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{Enabled: true})
	env.ledger.states[alice].PendingCurrency = 30
	env.sink.err = errors.New("redis down")

	applied, err := env.svc.ApplyOnEvent(context.Background(), "Steve", "join")
	assert.ErrorIs(t, err, ErrExternalSync)
	assert.Zero(t, applied)
	assert.Equal(t, int64(30), env.ledger.pending(alice))
}

func TestApplyOnEvent_BalanceReadFailure(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{Enabled: true})
	env.ledger.states[alice].PendingCurrency = 30
	env.ledger.states[alice].CachedBalance = 7
	delete(env.balances, "Steve")

	applied, err := env.svc.ApplyOnEvent(context.Background(), "Steve", "join")
	require.NoError(t, err)
	assert.Equal(t, int64(30), applied)
	assert.Zero(t, env.ledger.states[alice].PendingCurrency)
	assert.Equal(t, int64(7), env.ledger.states[alice].CachedBalance)
}

func TestApplyOnEvent_OnlyPrimaryAccount(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{Enabled: true})
	env.ledger.states[alice].PendingCurrency = 30

	for _, account := range []string{"Alt", "Stranger"} {
		applied, err := env.svc.ApplyOnEvent(context.Background(), account, "join")
		require.NoError(t, err)
		assert.Zero(t, applied)
	}
	assert.Empty(t, env.sink.credits)
	assert.Equal(t, int64(30), env.ledger.pending(alice))
}

func TestApplyOnEvent_GivesUpWhileUserBusy(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{Enabled: true})
	env.ledger.states[alice].PendingCurrency = 30
	env.svc.lockWait = 20 * time.Millisecond

	env.svc.locks.Lock(alice)
	_, err := env.svc.ApplyOnEvent(context.Background(), "Steve", "join")
	_, reconcileErr := env.svc.Reconcile(context.Background(), alice, "Steve")
	env.svc.locks.Unlock(alice)

	assert.ErrorIs(t, err, ErrExternalSync)
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.ErrorIs(t, reconcileErr, ErrExternalSync)
	assert.Equal(t, int64(30), env.ledger.pending(alice))
	assert.Empty(t, env.sink.credits)

	applied, err := env.svc.ApplyOnEvent(context.Background(), "Steve", "join")
	require.NoError(t, err)
	assert.Equal(t, int64(30), applied)
}

func TestEconomy_Disabled(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{})
	env.ledger.states[alice].PendingCurrency = 30
	ctx := context.Background()

	_, err := env.svc.ApplyOnEvent(ctx, "Steve", "join")
	assert.ErrorIs(t, err, ErrEconomyDisabled)
	_, err = env.svc.Sweep(ctx)
	assert.ErrorIs(t, err, ErrEconomyDisabled)
	assert.Equal(t, int64(30), env.ledger.pending(alice))
}

func TestReconcileAndSweep(t *testing.T) {
	env := newEconomyEnv(t, config.EconomyConfig{Enabled: true})
	ctx := context.Background()
	env.ledger.states[alice].PendingCurrency = 12

	env.ledger.states[bob] = &model.SignState{UserID: bob}
	_, err := env.bindings.Bind(ctx, bob, "NoRow")
	require.NoError(t, err)

	synced, err := env.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, synced, "bob has no balance row")
	assert.Equal(t, int64(100), env.ledger.states[alice].CachedBalance)
	assert.Equal(t, int64(12), env.ledger.pending(alice), "reconcile never touches pending")
	assert.Empty(t, env.sink.credits)
}

// TestReconcileIdempotentProperty checks that reconciling any number of
// times leaves the same cached balance and never moves pending currency.
func TestReconcileIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env := newEconomyEnv(t, config.EconomyConfig{Enabled: true})
		balance := rapid.Int64Range(0, 1_000_000).Draw(rt, "balance")
		pending := rapid.Int64Range(-1000, 1000).Draw(rt, "pending")
		times := rapid.IntRange(1, 5).Draw(rt, "times")

		env.balances["Steve"] = balance
		env.ledger.states[alice].PendingCurrency = pending

		for i := 0; i < times; i++ {
			got, err := env.svc.Reconcile(context.Background(), alice, "Steve")
			if err != nil {
				rt.Fatalf("reconcile: %v", err)
			}
			if got != balance {
				rt.Fatalf("expected %d, got %d", balance, got)
			}
		}
		if env.ledger.states[alice].CachedBalance != balance {
			rt.Fatalf("cached balance %d, want %d", env.ledger.states[alice].CachedBalance, balance)
		}
		if env.ledger.pending(alice) != pending {
			rt.Fatalf("pending moved to %d", env.ledger.pending(alice))
		}
	})
}
