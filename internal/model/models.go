// Package model defines the data models for the reward bridge.
package model

import "time"

// SignState is the per-user daily sign-in row.
// At most one row exists per user.
type SignState struct {
	UserID          int64     `db:"user_id"`
	DisplayLabel    string    `db:"display_label"`
	LastSignDate    time.Time `db:"last_sign_date"`
	StreakDays      int       `db:"streak_days"`
	LuckyNumber     int       `db:"lucky_number"`
	PendingCurrency int64     `db:"pending_currency"`
	CachedBalance   int64     `db:"cached_balance"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// RewardRecord is one issued reward. Rows are append-only; only
// RemainingAmount, FullyConsumed and ConsumedAt change after insert.
type RewardRecord struct {
	ID                 int64      `db:"id"`
	UserID             int64      `db:"user_id"`
	RewardName         string     `db:"reward_name"`
	Category           string     `db:"category"`
	IssuedAmount       int64      `db:"issued_amount"`
	RemainingAmount    int64      `db:"remaining_amount"`
	Multiplier         int        `db:"multiplier"`
	LuckyNumberAtIssue int        `db:"lucky_number"`
	IssueDate          time.Time  `db:"issue_date"`
	IssuedAt           time.Time  `db:"issued_at"`
	FullyConsumed      bool       `db:"fully_consumed"`
	ConsumedAt         *time.Time `db:"consumed_at"`
}

// ConsumptionRecord logs that Quantity units of a reward record were spent
// against one target account.
type ConsumptionRecord struct {
	ID              int64     `db:"id"`
	SourceRewardID  int64     `db:"source_reward_id"`
	ConsumingUserID int64     `db:"consuming_user_id"`
	TargetUserID    *int64    `db:"target_user_id"`
	TargetAccount   string    `db:"target_account"`
	RewardName      string    `db:"reward_name"`
	Quantity        int64     `db:"quantity"`
	CreatedAt       time.Time `db:"created_at"`
}

// BindingPair maps a chat user to at most two game accounts.
type BindingPair struct {
	UserID       int64   `db:"user_id"`
	AccountSlot1 *string `db:"account_slot1"`
	AccountSlot2 *string `db:"account_slot2"`
}

// Accounts returns the non-empty slots in slot order.
func (b *BindingPair) Accounts() []string {
	accounts := make([]string, 0, 2)
	if b.AccountSlot1 != nil && *b.AccountSlot1 != "" {
		accounts = append(accounts, *b.AccountSlot1)
	}
	if b.AccountSlot2 != nil && *b.AccountSlot2 != "" {
		accounts = append(accounts, *b.AccountSlot2)
	}
	return accounts
}

// Consumed is one (record, quantity) pair produced by a FIFO consumption.
type Consumed struct {
	RecordID int64
	Quantity int64
}

// LuckyRank is one row of the daily lucky-number ranking.
type LuckyRank struct {
	UserID       int64  `db:"user_id"`
	DisplayLabel string `db:"display_label"`
	LuckyNumber  int    `db:"lucky_number"`
	StreakDays   int    `db:"streak_days"`
}

// StockTotal is the remaining quantity of one reward name.
type StockTotal struct {
	RewardName string `db:"reward_name"`
	Remaining  int64  `db:"remaining"`
}

// UsageCount aggregates consumption records by reward name.
type UsageCount struct {
	RewardName string `db:"reward_name"`
	Events     int64  `db:"events"`
}

// PrimaryBinding is a user whose first slot holds an account.
type PrimaryBinding struct {
	UserID  int64  `db:"user_id"`
	Account string `db:"account_slot1"`
}

// Reward categories.
const (
	CategorySign = "sign" // Issued by a daily sign-in
	CategoryBox  = "box"  // Issued by opening a blind box
)

// Special consumption targets that are not game accounts.
const (
	TargetSold = "sold" // Sold back for currency
	TargetNone = "none" // Effect without an in-game target
)

// MaxStreakDays caps the consecutive sign-in counter.
const MaxStreakDays = 999

// DateOf returns the calendar day of t as midnight UTC. Dates read from
// DATE columns come back in the same form, so values compare with Equal.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SignedOn reports whether the state records a sign-in on day.
func (s *SignState) SignedOn(day time.Time) bool {
	return s != nil && DateOf(s.LastSignDate).Equal(DateOf(day))
}

// NextStreak returns the streak after signing in on today: one more than
// the stored streak when the last sign-in was yesterday, 1 otherwise,
// capped at MaxStreakDays. A nil state is a first sign-in.
func (s *SignState) NextStreak(today time.Time) int {
	if s == nil {
		return 1
	}
	yesterday := DateOf(today).AddDate(0, 0, -1)
	if !DateOf(s.LastSignDate).Equal(yesterday) {
		return 1
	}
	return min(s.StreakDays+1, MaxStreakDays)
}
