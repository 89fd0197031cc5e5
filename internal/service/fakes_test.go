package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"reward-bridge/internal/model"
	"reward-bridge/internal/repository"
)

// memLedger is an in-memory SignStore and InventoryStore.
type memLedger struct {
	mu      sync.Mutex
	states  map[int64]*model.SignState
	records []*model.RewardRecord
	usage   []model.ConsumptionRecord
	nextID  int64

	failUsage  error
	failSettle error
}

func newMemLedger() *memLedger {
	return &memLedger{states: make(map[int64]*model.SignState)}
}

func (m *memLedger) Get(_ context.Context, userID int64) (*model.SignState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[userID]
	if !ok {
		return nil, repository.ErrSignStateNotFound
	}
	c := *s
	return &c, nil
}

func (m *memLedger) insert(userID int64, issue repository.Issue, today, now time.Time) model.RewardRecord {
	m.nextID++
	rec := &model.RewardRecord{
		ID:                 m.nextID,
		UserID:             userID,
		RewardName:         issue.RewardName,
		Category:           issue.Category,
		IssuedAmount:       issue.Amount,
		RemainingAmount:    issue.Amount,
		Multiplier:         issue.Multiplier,
		LuckyNumberAtIssue: issue.LuckyNumber,
		IssueDate:          today,
		IssuedAt:           now,
	}
	m.records = append(m.records, rec)
	return *rec
}

func (m *memLedger) SignIn(_ context.Context, userID int64, label string, today, now time.Time, draw repository.DrawFunc) (*repository.SignInResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today = model.DateOf(today)
	prev := m.states[userID]
	if prev.SignedOn(today) {
		return nil, repository.ErrAlreadySigned
	}
	order := 1
	for _, s := range m.states {
		if s.SignedOn(today) {
			order++
		}
	}

	streak := prev.NextStreak(today)
	issue, err := draw(streak, 0)
	if err != nil {
		return nil, err
	}

	next := model.SignState{UserID: userID}
	if prev != nil {
		next = *prev
	}
	next.DisplayLabel = label
	next.LastSignDate = today
	next.StreakDays = streak
	next.LuckyNumber = issue.LuckyNumber
	next.UpdatedAt = now
	m.states[userID] = &next

	rec := m.insert(userID, issue, today, now)
	return &repository.SignInResult{State: next, Record: rec, SignOrder: order}, nil
}

func (m *memLedger) IssueBox(_ context.Context, userID int64, category string, today, now time.Time, draw repository.DrawFunc) (*repository.SignInResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.states[userID]
	if !s.SignedOn(today) {
		return nil, repository.ErrNotSignedToday
	}
	issue, err := draw(s.StreakDays, s.LuckyNumber)
	if err != nil {
		return nil, err
	}
	issue.Category = category
	rec := m.insert(userID, issue, model.DateOf(today), now)
	return &repository.SignInResult{State: *s, Record: rec}, nil
}

func (m *memLedger) AdjustPendingCurrency(_ context.Context, userID int64, delta int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[userID]
	if !ok {
		return false, nil
	}
	s.PendingCurrency += delta
	return true, nil
}

func (m *memLedger) SettleCurrency(_ context.Context, userID int64, applied int64, balance *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSettle != nil {
		return m.failSettle
	}
	s, ok := m.states[userID]
	if !ok {
		return repository.ErrSignStateNotFound
	}
	s.PendingCurrency -= applied
	if balance != nil {
		s.CachedBalance = *balance
	}
	return nil
}

func (m *memLedger) SetCachedBalance(_ context.Context, userID int64, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[userID]; ok {
		s.CachedBalance = balance
	}
	return nil
}

func (m *memLedger) TodayRanking(_ context.Context, today time.Time, limit int) ([]model.LuckyRank, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ranks []model.LuckyRank
	for _, s := range m.states {
		if s.SignedOn(today) {
			ranks = append(ranks, model.LuckyRank{UserID: s.UserID, DisplayLabel: s.DisplayLabel, LuckyNumber: s.LuckyNumber, StreakDays: s.StreakDays})
		}
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].LuckyNumber > ranks[j].LuckyNumber })
	if len(ranks) > limit {
		ranks = ranks[:limit]
	}
	return ranks, nil
}

func (m *memLedger) Stock(_ context.Context, userID int64, rewardName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.UserID == userID && r.RewardName == rewardName {
			n += r.RemainingAmount
		}
	}
	return n, nil
}

func (m *memLedger) StockTotals(_ context.Context, userID int64) ([]model.StockTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := map[string]int64{}
	for _, r := range m.records {
		if r.UserID == userID && r.RemainingAmount > 0 {
			totals[r.RewardName] += r.RemainingAmount
		}
	}
	var out []model.StockTotal
	for name, n := range totals {
		out = append(out, model.StockTotal{RewardName: name, Remaining: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RewardName < out[j].RewardName })
	return out, nil
}

func (m *memLedger) ConsumeFIFO(_ context.Context, userID int64, rewardName string, quantity int64, now time.Time) ([]model.Consumed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []repository.StockRow
	byID := map[int64]*model.RewardRecord{}
	for _, r := range m.records {
		if r.UserID == userID && r.RewardName == rewardName && !r.FullyConsumed {
			rows = append(rows, repository.StockRow{ID: r.ID, Remaining: r.RemainingAmount})
			byID[r.ID] = r
		}
	}
	plan, err := repository.PlanConsumption(rows, quantity)
	if err != nil {
		return nil, err
	}
	for _, c := range plan {
		r := byID[c.RecordID]
		r.RemainingAmount -= c.Quantity
		if r.RemainingAmount == 0 {
			r.FullyConsumed = true
			at := now
			r.ConsumedAt = &at
		}
	}
	return plan, nil
}

func (m *memLedger) RecordUsage(_ context.Context, u repository.Usage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUsage != nil {
		return 0, m.failUsage
	}
	n := 0
	for _, account := range u.Accounts {
		for _, c := range u.Consumed {
			m.usage = append(m.usage, model.ConsumptionRecord{
				SourceRewardID:  c.RecordID,
				ConsumingUserID: u.ConsumingUserID,
				TargetUserID:    u.TargetUserID,
				TargetAccount:   account,
				RewardName:      u.RewardName,
				Quantity:        c.Quantity,
			})
			n++
		}
	}
	return n, nil
}

func (m *memLedger) UsageCounts(_ context.Context, userID int64, _ time.Time) ([]model.UsageCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int64{}
	for _, u := range m.usage {
		if u.ConsumingUserID == userID {
			counts[u.RewardName]++
		}
	}
	var out []model.UsageCount
	for name, n := range counts {
		out = append(out, model.UsageCount{RewardName: name, Events: n})
	}
	return out, nil
}

func (m *memLedger) TimesTargeted(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.usage {
		if u.TargetUserID != nil && *u.TargetUserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memLedger) seed(userID int64, name string, amounts ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, a := range amounts {
		m.insert(userID, repository.Issue{RewardName: name, Category: model.CategorySign, Amount: a, Multiplier: 1, LuckyNumber: 1},
			base, base.Add(time.Duration(len(m.records)+i)*time.Minute))
	}
}

func (m *memLedger) pending(userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[userID]; ok {
		return s.PendingCurrency
	}
	return 0
}

// memBindings is an in-memory BindingStore.
type memBindings struct {
	mu    sync.Mutex
	pairs map[int64][]string
}

func newMemBindings() *memBindings {
	return &memBindings{pairs: make(map[int64][]string)}
}

func (b *memBindings) ownerLocked(account string) (int64, bool) {
	for uid, accounts := range b.pairs {
		for _, a := range accounts {
			if a == account {
				return uid, true
			}
		}
	}
	return 0, false
}

func (b *memBindings) Bind(_ context.Context, userID int64, account string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ownerLocked(account); ok {
		return 0, repository.ErrAlreadyBound
	}
	if len(b.pairs[userID]) >= 2 {
		return 0, repository.ErrNoFreeSlot
	}
	b.pairs[userID] = append(b.pairs[userID], account)
	return len(b.pairs[userID]), nil
}

func (b *memBindings) Unbind(_ context.Context, userID int64, account string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	accounts := b.pairs[userID]
	for i, a := range accounts {
		if a == account {
			b.pairs[userID] = append(accounts[:i:i], accounts[i+1:]...)
			if len(b.pairs[userID]) == 0 {
				delete(b.pairs, userID)
			}
			return nil
		}
	}
	return repository.ErrNotBound
}

func (b *memBindings) UserByAccount(_ context.Context, account string) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	uid, ok := b.ownerLocked(account)
	return uid, ok, nil
}

func (b *memBindings) UserByPrimaryAccount(_ context.Context, account string) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for uid, accounts := range b.pairs {
		if len(accounts) > 0 && accounts[0] == account {
			return uid, true, nil
		}
	}
	return 0, false, nil
}

func (b *memBindings) AccountsByUser(_ context.Context, userID int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pairs[userID]...), nil
}

func (b *memBindings) PrimaryBindings(_ context.Context) ([]model.PrimaryBinding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.PrimaryBinding
	for uid, accounts := range b.pairs {
		if len(accounts) > 0 {
			out = append(out, model.PrimaryBinding{UserID: uid, Account: accounts[0]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// recordingSink is a CommandSink that keeps every command.
type recordingSink struct {
	mu       sync.Mutex
	commands []string
	credits  map[string]int64
	err      error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{credits: make(map[string]int64)}
}

func (s *recordingSink) Send(_ context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.commands = append(s.commands, command)
	return "id", nil
}

func (s *recordingSink) SendAll(_ context.Context, commands []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.commands = append(s.commands, commands...)
	return nil
}

func (s *recordingSink) Credit(_ context.Context, account string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.credits[account] += amount
	return nil
}

func (s *recordingSink) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// staticPresence is a PresenceTracker over a fixed set.
type staticPresence map[string]bool

func (p staticPresence) IsOnline(_ context.Context, account string) (bool, error) {
	return p[account], nil
}

func (p staticPresence) Online(_ context.Context, accounts []string) ([]string, error) {
	var out []string
	for _, a := range accounts {
		if p[a] {
			out = append(out, a)
		}
	}
	return out, nil
}

// mapBalances is a BalanceReader over a map.
type mapBalances map[string]int64

var errNoBalance = errors.New("no balance row")

func (b mapBalances) Balance(_ context.Context, account string) (int64, error) {
	v, ok := b[account]
	if !ok {
		return 0, errNoBalance
	}
	return v, nil
}

// chatNotes is a Notifier that keeps every message.
type chatNotes struct {
	mu    sync.Mutex
	notes map[string][]string
}

func (n *chatNotes) Notify(_ context.Context, ref, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.notes == nil {
		n.notes = make(map[string][]string)
	}
	n.notes[ref] = append(n.notes[ref], text)
	return nil
}

func (n *chatNotes) get(ref string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notes[ref]...)
}
