package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bridge/internal/config"
	"reward-bridge/internal/pkg/lock"
	"reward-bridge/internal/repository"
)

// EconomyService pushes pending currency to the game server and mirrors
// the game server's balance back into the ledger.
type EconomyService struct {
	signs    SignStore
	bindings BindingStore
	sink     CommandSink
	balances BalanceReader
	locks    *lock.UserLock
	enabled  bool
	lags     bool
	lockWait time.Duration
}

// NewEconomyService creates a new EconomyService instance. locks must not
// be shared with the ledger services so external I/O never holds a ledger
// lock.
func NewEconomyService(
	signs SignStore,
	bindings BindingStore,
	sink CommandSink,
	balances BalanceReader,
	locks *lock.UserLock,
	cfg config.EconomyConfig,
) *EconomyService {
	return &EconomyService{
		signs:    signs,
		bindings: bindings,
		sink:     sink,
		balances: balances,
		locks:    locks,
		enabled:  cfg.Enabled,
		lags:     cfg.BalanceViewLags,
		lockWait: 10 * time.Second,
	}
}

// Enabled reports whether currency sync is on.
func (s *EconomyService) Enabled() bool {
	return s.enabled
}

// ApplyOnEvent credits the pending currency of the user whose primary
// account is account. It returns the amount applied. On a failed credit
// the pending amount is left as it was.
func (s *EconomyService) ApplyOnEvent(ctx context.Context, account, trigger string) (int64, error) {
	if !s.enabled {
		log.Debug().Str("account", account).Str("trigger", trigger).Msg("Economy sync disabled, skipping apply")
		return 0, ErrEconomyDisabled
	}

	userID, ok, err := s.bindings.UserByPrimaryAccount(ctx, account)
	if err != nil {
		return 0, storageErr("primary account", err)
	}
	if !ok {
		return 0, nil
	}

	var applied int64
	err = s.locks.WithLockContext(ctx, userID, s.lockWait, func() error {
		var applyErr error
		applied, applyErr = s.apply(ctx, userID, account, trigger)
		return applyErr
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		log.Warn().Int64("user_id", userID).Str("account", account).Msg("Economy apply still running, giving up")
		return 0, fmt.Errorf("%w: %w", ErrExternalSync, err)
	}
	return applied, err
}

func (s *EconomyService) apply(ctx context.Context, userID int64, account, trigger string) (int64, error) {
	state, err := s.signs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSignStateNotFound) {
			return 0, nil
		}
		return 0, storageErr("read pending", err)
	}
	delta := state.PendingCurrency
	if delta == 0 {
		return 0, nil
	}

	if err := s.sink.Credit(ctx, account, delta); err != nil {
		log.Error().
			Err(err).
			Int64("user_id", userID).
			Str("account", account).
			Int64("delta", delta).
			Str("trigger", trigger).
			Msg("Failed to apply pending currency")
		return 0, fmt.Errorf("%w: %w", ErrExternalSync, err)
	}

	var balance *int64
	if b, err := s.balances.Balance(ctx, account); err != nil {
		log.Warn().Err(err).Str("account", account).Msg("Failed to read balance after apply")
	} else {
		if s.lags {
			b += delta
		}
		balance = &b
	}

	if err := s.signs.SettleCurrency(ctx, userID, delta, balance); err != nil {
		log.Error().
			Err(err).
			Int64("user_id", userID).
			Str("account", account).
			Int64("delta", delta).
			Msg("Currency credited but pending not settled")
		return delta, storageErr("settle currency", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("account", account).
		Int64("delta", delta).
		Str("trigger", trigger).
		Msg("Pending currency applied")
	return delta, nil
}

// Reconcile copies the external balance of account into the user's cached
// balance. Pending currency is not touched.
func (s *EconomyService) Reconcile(ctx context.Context, userID int64, account string) (int64, error) {
	if !s.enabled {
		return 0, ErrEconomyDisabled
	}

	var balance int64
	err := s.locks.WithLockContext(ctx, userID, s.lockWait, func() error {
		b, err := s.balances.Balance(ctx, account)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExternalSync, err)
		}
		if err := s.signs.SetCachedBalance(ctx, userID, b); err != nil {
			return storageErr("set cached balance", err)
		}
		balance = b
		return nil
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		return 0, fmt.Errorf("%w: %w", ErrExternalSync, err)
	}
	return balance, err
}

// Sweep reconciles every user with a primary account and returns how many
// succeeded. Per-user failures are logged and skipped.
func (s *EconomyService) Sweep(ctx context.Context) (int, error) {
	if !s.enabled {
		return 0, ErrEconomyDisabled
	}

	primaries, err := s.bindings.PrimaryBindings(ctx)
	if err != nil {
		return 0, storageErr("primary bindings", err)
	}

	synced := 0
	for _, p := range primaries {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if _, err := s.Reconcile(ctx, p.UserID, p.Account); err != nil {
			log.Warn().Err(err).Int64("user_id", p.UserID).Str("account", p.Account).Msg("Failed to reconcile balance")
			continue
		}
		synced++
	}

	log.Info().Int("synced", synced).Int("total", len(primaries)).Msg("Balance sweep finished")
	return synced, nil
}

// RunSweeper runs Sweep every interval until ctx is done.
func (s *EconomyService) RunSweeper(ctx context.Context, interval time.Duration) {
	if !s.enabled || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Balance sweep failed")
			}
		}
	}
}
