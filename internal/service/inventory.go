package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bridge/internal/model"
	"reward-bridge/internal/pkg/lock"
	"reward-bridge/internal/repository"
)

// Profile summarizes one user's ledger.
type Profile struct {
	State         *model.SignState
	Stock         []model.StockTotal
	UsedToday     []model.UsageCount
	UsedTotal     []model.UsageCount
	TimesTargeted int64
	Accounts      []string
}

// InventoryService handles reward stock and consumption.
type InventoryService struct {
	inventory InventoryStore
	signs     SignStore
	bindings  BindingStore
	userLock  *lock.UserLock
	timezone  *time.Location
	now       func() time.Time
}

// NewInventoryService creates a new InventoryService instance.
func NewInventoryService(
	inventory InventoryStore,
	signs SignStore,
	bindings BindingStore,
	userLock *lock.UserLock,
	timezone *time.Location,
) *InventoryService {
	if timezone == nil {
		timezone = time.UTC
	}
	return &InventoryService{
		inventory: inventory,
		signs:     signs,
		bindings:  bindings,
		userLock:  userLock,
		timezone:  timezone,
		now:       time.Now,
	}
}

// CheckStock returns how many units of rewardName the user holds.
func (s *InventoryService) CheckStock(ctx context.Context, userID int64, rewardName string) (int64, error) {
	n, err := s.inventory.Stock(ctx, userID, rewardName)
	if err != nil {
		return 0, storageErr("check stock", err)
	}
	return n, nil
}

// ConsumeFIFO spends quantity units, oldest first. On ErrInsufficientStock
// nothing is spent.
func (s *InventoryService) ConsumeFIFO(ctx context.Context, userID int64, rewardName string, quantity int64) ([]model.Consumed, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	consumed, err := s.inventory.ConsumeFIFO(ctx, userID, rewardName, quantity, s.now())
	if err != nil {
		return nil, storageErr("consume", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("reward", rewardName).
		Int64("quantity", quantity).
		Int("records", len(consumed)).
		Msg("Reward consumed")
	return consumed, nil
}

// RecordUsage logs a consumption against every target account. Failures
// are logged and returned; the stock already spent stays spent.
func (s *InventoryService) RecordUsage(ctx context.Context, userID int64, rewardName string, targets []string, counterpartyID *int64, consumed []model.Consumed) error {
	n, err := s.inventory.RecordUsage(ctx, repository.Usage{
		ConsumingUserID: userID,
		TargetUserID:    counterpartyID,
		RewardName:      rewardName,
		Accounts:        targets,
		Consumed:        consumed,
	})
	if err != nil {
		log.Error().
			Err(err).
			Int64("user_id", userID).
			Str("reward", rewardName).
			Strs("targets", targets).
			Int("written", n).
			Msg("Failed to record usage")
		return storageErr("record usage", err)
	}
	return nil
}

// Profile collects sign state, stock, usage and bindings for a user.
func (s *InventoryService) Profile(ctx context.Context, userID int64) (*Profile, error) {
	p := &Profile{}

	state, err := s.signs.Get(ctx, userID)
	switch {
	case err == nil:
		p.State = state
	case !errors.Is(err, repository.ErrSignStateNotFound):
		return nil, storageErr("profile state", err)
	}

	if p.Stock, err = s.inventory.StockTotals(ctx, userID); err != nil {
		return nil, storageErr("profile stock", err)
	}

	startOfDay := s.now().In(s.timezone)
	startOfDay = time.Date(startOfDay.Year(), startOfDay.Month(), startOfDay.Day(), 0, 0, 0, 0, s.timezone)
	if p.UsedToday, err = s.inventory.UsageCounts(ctx, userID, startOfDay); err != nil {
		return nil, storageErr("profile usage today", err)
	}
	if p.UsedTotal, err = s.inventory.UsageCounts(ctx, userID, time.Time{}); err != nil {
		return nil, storageErr("profile usage total", err)
	}
	if p.TimesTargeted, err = s.inventory.TimesTargeted(ctx, userID); err != nil {
		return nil, storageErr("profile targeted", err)
	}
	if p.Accounts, err = s.bindings.AccountsByUser(ctx, userID); err != nil {
		return nil, storageErr("profile accounts", err)
	}
	return p, nil
}
