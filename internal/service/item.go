package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bridge/internal/effect"
	"reward-bridge/internal/model"
	"reward-bridge/internal/reward"
)

// UseRequest describes one item use.
type UseRequest struct {
	UserID       int64
	Actor        string
	TargetUserID int64
	TargetLabel  string
	Item         string
}

// AccountOutcome is the effect result on one game account.
type AccountOutcome struct {
	Account string
	effect.Outcome
}

// UseResult is what an item use did.
type UseResult struct {
	Item          string
	Outcomes      []AccountOutcome
	Box           *SignResult
	CurrencyDelta int64
	Consumed      []model.Consumed
}

// Message is the reply text for the user.
func (r *UseResult) Message() string {
	if r.Box != nil {
		return r.Box.UserMessage
	}
	lines := make([]string, 0, len(r.Outcomes)+1)
	for _, o := range r.Outcomes {
		icon := "✅"
		if !o.Succeeded {
			icon = "❌"
		}
		lines = append(lines, fmt.Sprintf("%s %s", icon, o.Message))
	}
	if r.CurrencyDelta < 0 {
		lines = append(lines, fmt.Sprintf("💸 掉落绿宝石：%d", -r.CurrencyDelta))
	}
	return strings.Join(lines, "\n")
}

// SellResult is what a sale paid.
type SellResult struct {
	Item     string
	Quantity int64
	Factor   float64
	Amount   int64
}

// MarketTrend is today's sell price outlook.
type MarketTrend struct {
	Day    time.Time
	Factor float64
	Cost   int64
}

// ItemService runs item effects and sell-backs on top of the ledger.
type ItemService struct {
	catalog   *reward.Catalog
	effects   *effect.Registry
	roller    *effect.Roller
	signs     *SignService
	inventory *InventoryService
	bindings  BindingStore
	presence  PresenceTracker
	sink      CommandSink
	isAdmin   func(userID int64) bool
	botName   string
	trendCost int64
}

// ItemServiceConfig groups the ItemService collaborators.
type ItemServiceConfig struct {
	Catalog   *reward.Catalog
	Effects   *effect.Registry
	Roller    *effect.Roller
	Signs     *SignService
	Inventory *InventoryService
	Bindings  BindingStore
	Presence  PresenceTracker
	Sink      CommandSink
	IsAdmin   func(userID int64) bool
	BotName   string
	TrendCost int64
}

// NewItemService creates a new ItemService instance.
func NewItemService(cfg ItemServiceConfig) *ItemService {
	isAdmin := cfg.IsAdmin
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	return &ItemService{
		catalog:   cfg.Catalog,
		effects:   cfg.Effects,
		roller:    cfg.Roller,
		signs:     cfg.Signs,
		inventory: cfg.Inventory,
		bindings:  cfg.Bindings,
		presence:  cfg.Presence,
		sink:      cfg.Sink,
		isAdmin:   isAdmin,
		botName:   cfg.BotName,
		trendCost: cfg.TrendCost,
	}
}

func (s *ItemService) lookup(item string) (reward.Prize, effect.Effect, error) {
	prize, ok := s.catalog.Get(item)
	if !ok {
		return reward.Prize{}, nil, ErrUnknownItem
	}
	if prize.Effect == "" {
		return prize, nil, ErrNoEffect
	}
	e, ok := s.effects.Get(prize.Effect)
	if !ok {
		return prize, nil, fmt.Errorf("%w: %s", ErrNoEffect, prize.Effect)
	}
	return prize, e, nil
}

// UseItem spends one unit of an item on the target user's online accounts.
// The user must have signed in today; their lucky number drives the roll.
func (s *ItemService) UseItem(ctx context.Context, req UseRequest) (*UseResult, error) {
	_, e, err := s.lookup(req.Item)
	if err != nil {
		return nil, err
	}
	traits := e.Traits()

	lucky, signed, err := s.signs.LuckyNumber(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !signed {
		return nil, ErrNotSignedToday
	}

	if req.TargetUserID == req.UserID && !traits.SelfAllowed && !s.isAdmin(req.UserID) {
		return nil, ErrSelfTarget
	}

	stock, err := s.inventory.CheckStock(ctx, req.UserID, req.Item)
	if err != nil {
		return nil, err
	}
	if stock < 1 {
		return nil, ErrInsufficientStock
	}

	if traits.OpensBox {
		return s.openBox(ctx, req)
	}

	accounts, err := s.bindings.AccountsByUser(ctx, req.TargetUserID)
	if err != nil {
		return nil, storageErr("target accounts", err)
	}
	if len(accounts) == 0 {
		return nil, ErrTargetNotBound
	}
	online, err := s.presence.Online(ctx, accounts)
	if err != nil {
		return nil, fmt.Errorf("%w: presence: %w", ErrExternalSync, err)
	}
	if len(online) == 0 {
		return nil, ErrTargetOffline
	}
	if traits.SingleTarget {
		online = online[:1]
	}

	consumed, err := s.inventory.ConsumeFIFO(ctx, req.UserID, req.Item, 1)
	if err != nil {
		return nil, err
	}

	res := &UseResult{Item: req.Item, Consumed: consumed}
	var commands []string
	for _, account := range online {
		out := s.roller.Resolve(e, effect.Target{Account: account, Actor: req.Actor}, lucky)
		res.Outcomes = append(res.Outcomes, AccountOutcome{Account: account, Outcome: out})
		res.CurrencyDelta += out.CurrencyDelta
		commands = append(commands, out.Commands...)
	}

	if err := s.sink.SendAll(ctx, commands); err != nil {
		log.Error().
			Err(err).
			Int64("user_id", req.UserID).
			Str("item", req.Item).
			Interface("consumed", consumed).
			Msg("Item consumed but effect commands were not delivered")
		return nil, fmt.Errorf("%w: %w", ErrExternalSync, err)
	}

	target := req.TargetUserID
	_ = s.inventory.RecordUsage(ctx, req.UserID, req.Item, online, &target, consumed)

	if res.CurrencyDelta != 0 {
		if err := s.signs.AdjustPendingCurrency(ctx, req.UserID, res.CurrencyDelta); err != nil {
			return res, err
		}
	}

	log.Info().
		Int64("user_id", req.UserID).
		Int64("target_user_id", req.TargetUserID).
		Str("target", req.TargetLabel).
		Str("item", req.Item).
		Strs("accounts", online).
		Int64("currency_delta", res.CurrencyDelta).
		Msg("Item used")
	return res, nil
}

func (s *ItemService) openBox(ctx context.Context, req UseRequest) (*UseResult, error) {
	consumed, err := s.inventory.ConsumeFIFO(ctx, req.UserID, req.Item, 1)
	if err != nil {
		return nil, err
	}

	box, err := s.signs.OpenBox(ctx, req.TargetUserID, req.Actor)
	if err != nil {
		log.Error().
			Err(err).
			Int64("user_id", req.UserID).
			Int64("target_user_id", req.TargetUserID).
			Interface("consumed", consumed).
			Msg("Box consumed but not opened")
		return nil, err
	}

	target := req.TargetUserID
	_ = s.inventory.RecordUsage(ctx, req.UserID, req.Item, []string{model.TargetNone}, &target, consumed)

	if box.Broadcast != "" {
		if _, err := s.sink.Send(ctx, effect.Announce(box.Broadcast)); err != nil {
			log.Warn().Err(err).Msg("Failed to announce blind box")
		}
	}
	return &UseResult{Item: req.Item, Box: box, Consumed: consumed}, nil
}

// SellItem sells quantity units back for pending currency at today's
// price factor.
func (s *ItemService) SellItem(ctx context.Context, userID int64, label, item string, quantity int64) (*SellResult, error) {
	prize, ok := s.catalog.Get(item)
	if !ok {
		return nil, ErrUnknownItem
	}
	if prize.SellPrice <= 0 {
		return nil, ErrNotSellable
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	lucky, signed, err := s.signs.LuckyNumber(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !signed {
		return nil, ErrNotSignedToday
	}

	consumed, err := s.inventory.ConsumeFIFO(ctx, userID, item, quantity)
	if err != nil {
		return nil, err
	}
	_ = s.inventory.RecordUsage(ctx, userID, item, []string{model.TargetSold}, nil, consumed)

	factor := reward.PriceFactor(s.signs.Today(), lucky)
	res := &SellResult{
		Item:     item,
		Quantity: quantity,
		Factor:   factor,
		Amount:   reward.SellValue(prize.SellPrice, quantity, factor),
	}
	if err := s.signs.AdjustPendingCurrency(ctx, userID, res.Amount); err != nil {
		return nil, err
	}

	s.announce(ctx, fmt.Sprintf("[%s] %s 成功以 %d%% 的价格 出售 %d 个 %s, 共获得 %d 个绿宝石 !",
		s.botName, label, percent(factor), quantity, item, res.Amount))

	log.Info().
		Int64("user_id", userID).
		Str("item", item).
		Int64("quantity", quantity).
		Float64("factor", factor).
		Int64("amount", res.Amount).
		Msg("Item sold")
	return res, nil
}

// MarketTrend charges the configured fee and returns today's date factor.
// Users who never signed in have no balance to charge and get
// ErrNeverSigned.
func (s *ItemService) MarketTrend(ctx context.Context, userID int64, label string) (*MarketTrend, error) {
	state, err := s.signs.State(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNeverSigned
	}

	day := s.signs.Today()
	if err := s.signs.AdjustPendingCurrency(ctx, userID, -s.trendCost); err != nil {
		return nil, err
	}
	trend := &MarketTrend{Day: day, Factor: reward.DateFactor(day), Cost: s.trendCost}

	s.announce(ctx, fmt.Sprintf("[%s] %s 花费 %d 绿宝石查询了今日行情, 今日道具售价系数：%.2f",
		s.botName, label, trend.Cost, trend.Factor))
	return trend, nil
}

func (s *ItemService) announce(ctx context.Context, text string) {
	if _, err := s.sink.Send(ctx, effect.Announce(text)); err != nil {
		log.Warn().Err(err).Msg("Failed to announce to game server")
	}
}

func percent(f float64) int {
	return int(f*100 + 0.5)
}
