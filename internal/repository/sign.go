// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reward-bridge/internal/model"
)

// Issue is a reward about to be written to the ledger.
type Issue struct {
	RewardName  string
	Category    string
	Amount      int64
	Multiplier  int
	LuckyNumber int
}

// DrawFunc picks a reward for the given streak. existingLucky is 0 when the
// user has no lucky number for today yet.
type DrawFunc func(streakDays, existingLucky int) (Issue, error)

// SignInResult is what a successful sign-in or box opening wrote.
type SignInResult struct {
	State     model.SignState
	Record    model.RewardRecord
	SignOrder int
}

// SignRepository persists sign-in state and issues rewards.
type SignRepository struct {
	pool *pgxpool.Pool
}

// NewSignRepository creates a new SignRepository instance.
func NewSignRepository(pool *pgxpool.Pool) *SignRepository {
	return &SignRepository{pool: pool}
}

const signStateColumns = `user_id, display_label, last_sign_date, streak_days, lucky_number,
	pending_currency, cached_balance, updated_at`

func scanSignState(row pgx.Row) (*model.SignState, error) {
	var s model.SignState
	err := row.Scan(
		&s.UserID,
		&s.DisplayLabel,
		&s.LastSignDate,
		&s.StreakDays,
		&s.LuckyNumber,
		&s.PendingCurrency,
		&s.CachedBalance,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns the sign state of a user or ErrSignStateNotFound.
func (r *SignRepository) Get(ctx context.Context, userID int64) (*model.SignState, error) {
	query := `SELECT ` + signStateColumns + ` FROM sign_states WHERE user_id = $1`

	s, err := scanSignState(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSignStateNotFound
		}
		return nil, fmt.Errorf("failed to get sign state: %w", err)
	}
	return s, nil
}

// lockUser takes a transaction-scoped advisory lock on the user so that a
// first sign-in, which has no row to lock yet, is serialized too.
func lockUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("failed to lock user %d: %w", userID, err)
	}
	return nil
}

func getForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*model.SignState, error) {
	query := `SELECT ` + signStateColumns + ` FROM sign_states WHERE user_id = $1 FOR UPDATE`

	s, err := scanSignState(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sign state: %w", err)
	}
	return s, nil
}

func insertReward(ctx context.Context, tx pgx.Tx, userID int64, issue Issue, today, now time.Time) (*model.RewardRecord, error) {
	const query = `
		INSERT INTO reward_records (user_id, reward_name, category, issued_amount, remaining_amount,
			multiplier, lucky_number, issue_date, issued_at)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8)
		RETURNING id, user_id, reward_name, category, issued_amount, remaining_amount,
			multiplier, lucky_number, issue_date, issued_at, fully_consumed, consumed_at
	`

	var rec model.RewardRecord
	err := tx.QueryRow(ctx, query,
		userID, issue.RewardName, issue.Category, issue.Amount,
		issue.Multiplier, issue.LuckyNumber, today, now,
	).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.RewardName,
		&rec.Category,
		&rec.IssuedAmount,
		&rec.RemainingAmount,
		&rec.Multiplier,
		&rec.LuckyNumberAtIssue,
		&rec.IssueDate,
		&rec.IssuedAt,
		&rec.FullyConsumed,
		&rec.ConsumedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reward record: %w", err)
	}
	return &rec, nil
}

// SignIn records today's sign-in and issues its reward in one transaction.
// It returns ErrAlreadySigned when the user already signed in on today.
func (r *SignRepository) SignIn(ctx context.Context, userID int64, label string, today, now time.Time, draw DrawFunc) (*SignInResult, error) {
	today = model.DateOf(today)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	prev, err := getForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if prev.SignedOn(today) {
		return nil, ErrAlreadySigned
	}

	var signedToday int
	const countQuery = `SELECT COUNT(*) FROM sign_states WHERE last_sign_date = $1`
	if err := tx.QueryRow(ctx, countQuery, today).Scan(&signedToday); err != nil {
		return nil, fmt.Errorf("failed to count sign-ins: %w", err)
	}

	streak := prev.NextStreak(today)
	issue, err := draw(streak, 0)
	if err != nil {
		return nil, err
	}

	const upsert = `
		INSERT INTO sign_states (user_id, display_label, last_sign_date, streak_days, lucky_number, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			display_label = EXCLUDED.display_label,
			last_sign_date = EXCLUDED.last_sign_date,
			streak_days = EXCLUDED.streak_days,
			lucky_number = EXCLUDED.lucky_number,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + signStateColumns

	state, err := scanSignState(tx.QueryRow(ctx, upsert, userID, label, today, streak, issue.LuckyNumber, now))
	if err != nil {
		return nil, fmt.Errorf("failed to save sign state: %w", err)
	}

	rec, err := insertReward(ctx, tx, userID, issue, today, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit sign-in: %w", err)
	}

	return &SignInResult{State: *state, Record: *rec, SignOrder: signedToday + 1}, nil
}

// IssueBox issues one blind-box reward using today's streak and lucky
// number. It returns ErrNotSignedToday unless the user signed in on today.
func (r *SignRepository) IssueBox(ctx context.Context, userID int64, category string, today, now time.Time, draw DrawFunc) (*SignInResult, error) {
	today = model.DateOf(today)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	state, err := getForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if !state.SignedOn(today) {
		return nil, ErrNotSignedToday
	}

	issue, err := draw(state.StreakDays, state.LuckyNumber)
	if err != nil {
		return nil, err
	}
	issue.Category = category

	rec, err := insertReward(ctx, tx, userID, issue, today, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit box: %w", err)
	}

	return &SignInResult{State: *state, Record: *rec}, nil
}

// AdjustPendingCurrency adds delta to the user's pending currency. It
// reports false when the user has no sign state.
func (r *SignRepository) AdjustPendingCurrency(ctx context.Context, userID int64, delta int64) (bool, error) {
	const query = `
		UPDATE sign_states
		SET pending_currency = pending_currency + $2, updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, userID, delta)
	if err != nil {
		return false, fmt.Errorf("failed to adjust pending currency: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SettleCurrency subtracts an applied delta from pending currency and
// stores the balance read back from the game server. A nil balance keeps
// the cached balance.
func (r *SignRepository) SettleCurrency(ctx context.Context, userID int64, applied int64, balance *int64) error {
	const query = `
		UPDATE sign_states
		SET pending_currency = pending_currency - $2,
			cached_balance = COALESCE($3, cached_balance),
			updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, userID, applied, balance)
	if err != nil {
		return fmt.Errorf("failed to settle currency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSignStateNotFound
	}
	return nil
}

// SetCachedBalance overwrites the cached balance only.
func (r *SignRepository) SetCachedBalance(ctx context.Context, userID int64, balance int64) error {
	const query = `
		UPDATE sign_states SET cached_balance = $2, updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, userID, balance)
	if err != nil {
		return fmt.Errorf("failed to set cached balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSignStateNotFound
	}
	return nil
}

// TodayRanking returns today's signers ordered by lucky number, highest first.
func (r *SignRepository) TodayRanking(ctx context.Context, today time.Time, limit int) ([]model.LuckyRank, error) {
	const query = `
		SELECT user_id, display_label, lucky_number, streak_days
		FROM sign_states
		WHERE last_sign_date = $1
		ORDER BY lucky_number DESC, updated_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, model.DateOf(today), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get lucky ranking: %w", err)
	}
	defer rows.Close()

	var ranks []model.LuckyRank
	for rows.Next() {
		var rank model.LuckyRank
		if err := rows.Scan(&rank.UserID, &rank.DisplayLabel, &rank.LuckyNumber, &rank.StreakDays); err != nil {
			return nil, fmt.Errorf("failed to scan lucky rank: %w", err)
		}
		ranks = append(ranks, rank)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lucky ranking: %w", err)
	}

	return ranks, nil
}
