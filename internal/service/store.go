package service

import (
	"context"
	"time"

	"reward-bridge/internal/model"
	"reward-bridge/internal/repository"
)

// SignStore persists sign-in state. Implemented by repository.SignRepository.
type SignStore interface {
	Get(ctx context.Context, userID int64) (*model.SignState, error)
	SignIn(ctx context.Context, userID int64, label string, today, now time.Time, draw repository.DrawFunc) (*repository.SignInResult, error)
	IssueBox(ctx context.Context, userID int64, category string, today, now time.Time, draw repository.DrawFunc) (*repository.SignInResult, error)
	AdjustPendingCurrency(ctx context.Context, userID int64, delta int64) (bool, error)
	SettleCurrency(ctx context.Context, userID int64, applied int64, balance *int64) error
	SetCachedBalance(ctx context.Context, userID int64, balance int64) error
	TodayRanking(ctx context.Context, today time.Time, limit int) ([]model.LuckyRank, error)
}

// InventoryStore persists reward stock. Implemented by
// repository.InventoryRepository.
type InventoryStore interface {
	Stock(ctx context.Context, userID int64, rewardName string) (int64, error)
	StockTotals(ctx context.Context, userID int64) ([]model.StockTotal, error)
	ConsumeFIFO(ctx context.Context, userID int64, rewardName string, quantity int64, now time.Time) ([]model.Consumed, error)
	RecordUsage(ctx context.Context, u repository.Usage) (int, error)
	UsageCounts(ctx context.Context, userID int64, since time.Time) ([]model.UsageCount, error)
	TimesTargeted(ctx context.Context, userID int64) (int64, error)
}

// BindingStore persists account bindings. Implemented by
// repository.BindingRepository.
type BindingStore interface {
	Bind(ctx context.Context, userID int64, account string) (int, error)
	Unbind(ctx context.Context, userID int64, account string) error
	UserByAccount(ctx context.Context, account string) (int64, bool, error)
	UserByPrimaryAccount(ctx context.Context, account string) (int64, bool, error)
	AccountsByUser(ctx context.Context, userID int64) ([]string, error)
	PrimaryBindings(ctx context.Context) ([]model.PrimaryBinding, error)
}

// CommandSink issues commands to the game server. Implemented by
// gameserver.CommandSink.
type CommandSink interface {
	Send(ctx context.Context, command string) (string, error)
	SendAll(ctx context.Context, commands []string) error
	Credit(ctx context.Context, account string, amount int64) error
}

// PresenceTracker knows which accounts are online. Implemented by
// gameserver.Presence.
type PresenceTracker interface {
	IsOnline(ctx context.Context, account string) (bool, error)
	Online(ctx context.Context, accounts []string) ([]string, error)
}

// BalanceReader reads the authoritative balance. Implemented by
// gameserver.BalanceView.
type BalanceReader interface {
	Balance(ctx context.Context, account string) (int64, error)
}

// Notifier reports asynchronous outcomes back to the chat conversation
// identified by ref. Implemented by bot.Bot.
type Notifier interface {
	Notify(ctx context.Context, ref string, text string) error
}
