package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reward-bridge/internal/model"
)

// Usage describes one use of a reward against zero or more game accounts.
type Usage struct {
	ConsumingUserID int64
	TargetUserID    *int64
	RewardName      string
	Accounts        []string
	Consumed        []model.Consumed
}

// InventoryRepository handles reward stock and consumption records.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository creates a new InventoryRepository instance.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// Stock returns the remaining quantity of one reward held by a user.
func (r *InventoryRepository) Stock(ctx context.Context, userID int64, rewardName string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(remaining_amount), 0)
		FROM reward_records
		WHERE user_id = $1 AND reward_name = $2 AND NOT fully_consumed
	`
	var total int64
	if err := r.pool.QueryRow(ctx, query, userID, rewardName).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to get stock: %w", err)
	}
	return total, nil
}

// StockTotals returns every reward the user still holds.
func (r *InventoryRepository) StockTotals(ctx context.Context, userID int64) ([]model.StockTotal, error) {
	const query = `
		SELECT reward_name, SUM(remaining_amount) AS remaining
		FROM reward_records
		WHERE user_id = $1 AND NOT fully_consumed
		GROUP BY reward_name
		ORDER BY reward_name
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock totals: %w", err)
	}
	defer rows.Close()

	var totals []model.StockTotal
	for rows.Next() {
		var t model.StockTotal
		if err := rows.Scan(&t.RewardName, &t.Remaining); err != nil {
			return nil, fmt.Errorf("failed to scan stock total: %w", err)
		}
		totals = append(totals, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock totals: %w", err)
	}

	return totals, nil
}

// Records returns a user's records of one reward, oldest first.
func (r *InventoryRepository) Records(ctx context.Context, userID int64, rewardName string) ([]model.RewardRecord, error) {
	const query = `
		SELECT id, user_id, reward_name, category, issued_amount, remaining_amount,
			multiplier, lucky_number, issue_date, issued_at, fully_consumed, consumed_at
		FROM reward_records
		WHERE user_id = $1 AND reward_name = $2
		ORDER BY issued_at, id
	`

	rows, err := r.pool.Query(ctx, query, userID, rewardName)
	if err != nil {
		return nil, fmt.Errorf("failed to get reward records: %w", err)
	}
	defer rows.Close()

	var records []model.RewardRecord
	for rows.Next() {
		var rec model.RewardRecord
		err := rows.Scan(
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
			return nil, fmt.Errorf("failed to scan reward record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reward records: %w", err)
	}

	return records, nil
}

// ConsumeFIFO takes quantity units of a reward from the user's oldest
// records first. Either the whole quantity is taken or nothing changes.
func (r *InventoryRepository) ConsumeFIFO(ctx context.Context, userID int64, rewardName string, quantity int64, now time.Time) ([]model.Consumed, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQuery = `
		SELECT id, remaining_amount
		FROM reward_records
		WHERE user_id = $1 AND reward_name = $2 AND NOT fully_consumed AND remaining_amount > 0
		ORDER BY issued_at, id
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, selectQuery, userID, rewardName)
	if err != nil {
		return nil, fmt.Errorf("failed to select stock: %w", err)
	}
	stock, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StockRow, error) {
		var s StockRow
		err := row.Scan(&s.ID, &s.Remaining)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock: %w", err)
	}

	plan, err := PlanConsumption(stock, quantity)
	if err != nil {
		return nil, err
	}

	const updateQuery = `
		UPDATE reward_records
		SET remaining_amount = remaining_amount - $2,
			fully_consumed = (remaining_amount - $2 = 0),
			consumed_at = CASE WHEN remaining_amount - $2 = 0 THEN $3 ELSE consumed_at END
		WHERE id = $1
	`
	for _, c := range plan {
		if _, err := tx.Exec(ctx, updateQuery, c.RecordID, c.Quantity, now); err != nil {
			return nil, fmt.Errorf("failed to consume record %d: %w", c.RecordID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit consumption: %w", err)
	}

	return plan, nil
}

// RecordUsage writes one consumption record per (account, consumed record)
// pair and returns how many rows were written.
func (r *InventoryRepository) RecordUsage(ctx context.Context, u Usage) (int, error) {
	const query = `
		INSERT INTO consumption_records (source_reward_id, consuming_user_id, target_user_id,
			target_account, reward_name, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	batch := &pgx.Batch{}
	for _, account := range u.Accounts {
		for _, c := range u.Consumed {
			batch.Queue(query, c.RecordID, u.ConsumingUserID, u.TargetUserID, account, u.RewardName, c.Quantity)
		}
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("failed to insert consumption record: %w", err)
		}
	}
	return batch.Len(), nil
}

// UsageCounts groups a user's consumption events by reward name. A zero
// since counts everything.
func (r *InventoryRepository) UsageCounts(ctx context.Context, userID int64, since time.Time) ([]model.UsageCount, error) {
	const query = `
		SELECT reward_name, COUNT(*) AS events
		FROM consumption_records
		WHERE consuming_user_id = $1 AND created_at >= $2
		GROUP BY reward_name
		ORDER BY reward_name
	`

	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage counts: %w", err)
	}
	defer rows.Close()

	var counts []model.UsageCount
	for rows.Next() {
		var c model.UsageCount
		if err := rows.Scan(&c.RewardName, &c.Events); err != nil {
			return nil, fmt.Errorf("failed to scan usage count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage counts: %w", err)
	}

	return counts, nil
}

// TimesTargeted counts consumption records naming the user as counterparty.
func (r *InventoryRepository) TimesTargeted(ctx context.Context, userID int64) (int64, error) {
	const query = `SELECT COUNT(*) FROM consumption_records WHERE target_user_id = $1`

	var n int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count targeted uses: %w", err)
	}
	return n, nil
}
