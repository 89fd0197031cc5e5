package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reward-bridge/internal/model"
)

// BindingRepository stores the chat user to game account mapping.
// An account name appears in at most one slot across all rows.
type BindingRepository struct {
	pool *pgxpool.Pool
}

// NewBindingRepository creates a new BindingRepository instance.
func NewBindingRepository(pool *pgxpool.Pool) *BindingRepository {
	return &BindingRepository{pool: pool}
}

func lockBindingKeys(ctx context.Context, tx pgx.Tx, userID int64, account string) error {
	// User first, then account, in every transaction.
	const query = `SELECT pg_advisory_xact_lock($1), pg_advisory_xact_lock(hashtextextended($2, 0))`
	if _, err := tx.Exec(ctx, query, userID, account); err != nil {
		return fmt.Errorf("failed to lock binding keys: %w", err)
	}
	return nil
}

func getPairForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*model.BindingPair, error) {
	const query = `
		SELECT user_id, account_slot1, account_slot2
		FROM binding_pairs
		WHERE user_id = $1
		FOR UPDATE
	`
	var p model.BindingPair
	err := tx.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.AccountSlot1, &p.AccountSlot2)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get binding pair: %w", err)
	}
	return &p, nil
}

// Bind attaches account to the user's first free slot and returns the slot
// number. It returns ErrAlreadyBound when any user holds the account and
// ErrNoFreeSlot when both of the user's slots are taken.
func (r *BindingRepository) Bind(ctx context.Context, userID int64, account string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockBindingKeys(ctx, tx, userID, account); err != nil {
		return 0, err
	}

	const ownerQuery = `
		SELECT EXISTS (
			SELECT 1 FROM binding_pairs WHERE account_slot1 = $1 OR account_slot2 = $1
		)
	`
	var taken bool
	if err := tx.QueryRow(ctx, ownerQuery, account).Scan(&taken); err != nil {
		return 0, fmt.Errorf("failed to check account owner: %w", err)
	}
	if taken {
		return 0, ErrAlreadyBound
	}

	pair, err := getPairForUpdate(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	var slot int
	switch {
	case pair == nil:
		slot = 1
		const insert = `INSERT INTO binding_pairs (user_id, account_slot1) VALUES ($1, $2)`
		if _, err := tx.Exec(ctx, insert, userID, account); err != nil {
			return 0, fmt.Errorf("failed to insert binding: %w", err)
		}
	case pair.AccountSlot1 == nil:
		slot = 1
		if _, err := tx.Exec(ctx, `UPDATE binding_pairs SET account_slot1 = $2 WHERE user_id = $1`, userID, account); err != nil {
			return 0, fmt.Errorf("failed to update binding: %w", err)
		}
	case pair.AccountSlot2 == nil:
		slot = 2
		if _, err := tx.Exec(ctx, `UPDATE binding_pairs SET account_slot2 = $2 WHERE user_id = $1`, userID, account); err != nil {
			return 0, fmt.Errorf("failed to update binding: %w", err)
		}
	default:
		return 0, ErrNoFreeSlot
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit binding: %w", err)
	}
	return slot, nil
}

// Unbind clears the slot holding account. The row is removed once both
// slots are empty. It returns ErrNotBound when the user does not hold it.
func (r *BindingRepository) Unbind(ctx context.Context, userID int64, account string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockBindingKeys(ctx, tx, userID, account); err != nil {
		return err
	}

	pair, err := getPairForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	if pair == nil {
		return ErrNotBound
	}

	switch {
	case pair.AccountSlot1 != nil && *pair.AccountSlot1 == account:
		pair.AccountSlot1 = nil
	case pair.AccountSlot2 != nil && *pair.AccountSlot2 == account:
		pair.AccountSlot2 = nil
	default:
		return ErrNotBound
	}

	if pair.AccountSlot1 == nil && pair.AccountSlot2 == nil {
		_, err = tx.Exec(ctx, `DELETE FROM binding_pairs WHERE user_id = $1`, userID)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE binding_pairs SET account_slot1 = $2, account_slot2 = $3 WHERE user_id = $1`,
			userID, pair.AccountSlot1, pair.AccountSlot2)
	}
	if err != nil {
		return fmt.Errorf("failed to unbind: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit unbind: %w", err)
	}
	return nil
}

// UserByAccount returns the user holding account in either slot.
func (r *BindingRepository) UserByAccount(ctx context.Context, account string) (int64, bool, error) {
	const query = `
		SELECT user_id FROM binding_pairs
		WHERE account_slot1 = $1 OR account_slot2 = $1
	`
	var userID int64
	err := r.pool.QueryRow(ctx, query, account).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get user by account: %w", err)
	}
	return userID, true, nil
}

// UserByPrimaryAccount returns the user whose first slot holds account.
func (r *BindingRepository) UserByPrimaryAccount(ctx context.Context, account string) (int64, bool, error) {
	const query = `SELECT user_id FROM binding_pairs WHERE account_slot1 = $1`

	var userID int64
	err := r.pool.QueryRow(ctx, query, account).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get user by primary account: %w", err)
	}
	return userID, true, nil
}

// AccountsByUser returns the user's accounts in slot order.
func (r *BindingRepository) AccountsByUser(ctx context.Context, userID int64) ([]string, error) {
	const query = `SELECT user_id, account_slot1, account_slot2 FROM binding_pairs WHERE user_id = $1`

	var p model.BindingPair
	err := r.pool.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.AccountSlot1, &p.AccountSlot2)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return p.Accounts(), nil
}

// PrimaryBindings lists every user with an account in the first slot.
func (r *BindingRepository) PrimaryBindings(ctx context.Context) ([]model.PrimaryBinding, error) {
	const query = `
		SELECT user_id, account_slot1
		FROM binding_pairs
		WHERE account_slot1 IS NOT NULL
		ORDER BY user_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary bindings: %w", err)
	}
	defer rows.Close()

	var out []model.PrimaryBinding
	for rows.Next() {
		var b model.PrimaryBinding
		if err := rows.Scan(&b.UserID, &b.Account); err != nil {
			return nil, fmt.Errorf("failed to scan primary binding: %w", err)
		}
		out = append(out, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating primary bindings: %w", err)
	}

	return out, nil
}
