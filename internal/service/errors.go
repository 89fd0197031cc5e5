package service

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"reward-bridge/internal/binding"
	"reward-bridge/internal/repository"
)

// Expected outcomes. Handlers map these to short replies.
var (
	ErrAlreadySigned     = repository.ErrAlreadySigned
	ErrNotSignedToday    = repository.ErrNotSignedToday
	ErrInvalidQuantity   = repository.ErrInvalidQuantity
	ErrInsufficientStock = repository.ErrInsufficientStock
	ErrAlreadyBound      = repository.ErrAlreadyBound
	ErrNoFreeSlot        = repository.ErrNoFreeSlot
	ErrNotBound          = repository.ErrNotBound
	ErrConflict          = binding.ErrConflict
	ErrNotFound          = binding.ErrNotFound

	ErrInvalidAccount  = errors.New("invalid game account name")
	ErrSelfTarget      = errors.New("item cannot be used on yourself")
	ErrUnknownItem     = errors.New("unknown item")
	ErrNoEffect        = errors.New("item has no usable effect")
	ErrTargetNotBound  = errors.New("target user has no bound account")
	ErrTargetOffline   = errors.New("no target account is online")
	ErrAccountOffline  = errors.New("account is not online")
	ErrNotSellable     = errors.New("item cannot be sold")
	ErrEconomyDisabled = errors.New("economy sync is disabled")
	ErrNeverSigned     = errors.New("user has never signed in")
)

// Failures. The caller may retry.
var (
	ErrTransaction  = errors.New("storage operation failed")
	ErrExternalSync = errors.New("game server sync failed")
)

var expected = []error{
	ErrAlreadySigned,
	ErrNotSignedToday,
	ErrInvalidQuantity,
	ErrInsufficientStock,
	ErrAlreadyBound,
	ErrNoFreeSlot,
	ErrNotBound,
	repository.ErrSignStateNotFound,
}

// storageErr passes expected outcomes through and wraps anything else as
// ErrTransaction after logging it.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			return err
		}
	}
	log.Error().Err(err).Str("op", op).Msg("Storage operation failed")
	return fmt.Errorf("%w: %s: %w", ErrTransaction, op, err)
}
