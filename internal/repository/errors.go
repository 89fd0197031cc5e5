package repository

import "errors"

// Repository errors.
var (
	ErrSignStateNotFound = errors.New("sign state not found")
	ErrAlreadySigned     = errors.New("already signed in today")
	ErrNotSignedToday    = errors.New("not signed in today")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrAlreadyBound      = errors.New("account already bound")
	ErrNoFreeSlot        = errors.New("both binding slots are in use")
	ErrNotBound          = errors.New("account not bound to user")
)
