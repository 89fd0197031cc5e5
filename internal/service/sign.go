// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bridge/internal/model"
	"reward-bridge/internal/pkg/lock"
	"reward-bridge/internal/repository"
	"reward-bridge/internal/reward"
)

// SignResult is the outcome of a sign-in or a blind box.
type SignResult struct {
	State       model.SignState
	Record      model.RewardRecord
	SignOrder   int
	UserMessage string
	// Broadcast is relayed to the game server chat. Empty when there is
	// nothing to announce.
	Broadcast string
}

// SignService handles daily sign-in and reward issuance.
type SignService struct {
	signs     SignStore
	generator *reward.Generator
	userLock  *lock.UserLock
	botName   string
	timezone  *time.Location
	now       func() time.Time
}

// NewSignService creates a new SignService instance.
func NewSignService(
	signs SignStore,
	generator *reward.Generator,
	userLock *lock.UserLock,
	botName string,
	timezone *time.Location,
) *SignService {
	if timezone == nil {
		timezone = time.UTC
	}
	return &SignService{
		signs:     signs,
		generator: generator,
		userLock:  userLock,
		botName:   botName,
		timezone:  timezone,
		now:       time.Now,
	}
}

// Today returns the current calendar day in the configured time zone.
func (s *SignService) Today() time.Time {
	return model.DateOf(s.now().In(s.timezone))
}

func (s *SignService) draw(category string) repository.DrawFunc {
	return func(streakDays, existingLucky int) (repository.Issue, error) {
		r, err := s.generator.Draw(streakDays, existingLucky)
		if err != nil {
			return repository.Issue{}, err
		}
		return repository.Issue{
			RewardName:  r.Name,
			Category:    category,
			Amount:      r.FinalAmount,
			Multiplier:  r.Multiplier,
			LuckyNumber: r.LuckyNumber,
		}, nil
	}
}

// SignIn records today's sign-in for userID and issues one reward.
func (s *SignService) SignIn(ctx context.Context, userID int64, label string) (*SignResult, error) {
	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	now := s.now()
	res, err := s.signs.SignIn(ctx, userID, label, s.Today(), now, s.draw(model.CategorySign))
	if err != nil {
		if errors.Is(err, reward.ErrNoEligiblePrize) {
			log.Error().Err(err).Int64("user_id", userID).Msg("Reward catalog has no eligible prize")
			return nil, err
		}
		return nil, storageErr("sign in", err)
	}

	log.Info().
		Int64("user_id", userID).
		Int("streak", res.State.StreakDays).
		Int("lucky", res.State.LuckyNumber).
		Str("reward", res.Record.RewardName).
		Int64("amount", res.Record.IssuedAmount).
		Msg("User signed in")

	return &SignResult{
		State:       res.State,
		Record:      res.Record,
		SignOrder:   res.SignOrder,
		UserMessage: signMessage(res),
		Broadcast: fmt.Sprintf("[%s] %s 今日第%d个签到，获得幸运数字 %d，触发 %d 倍奖励，得到 %s %d 个，当前已连续签到 %d 天。",
			s.botName, label, res.SignOrder, res.State.LuckyNumber, res.Record.Multiplier,
			res.Record.RewardName, res.Record.IssuedAmount, res.State.StreakDays),
	}, nil
}

func signMessage(res *repository.SignInResult) string {
	var b strings.Builder
	b.WriteString("🎉 签到成功！\n")
	fmt.Fprintf(&b, "✨ 今日幸运数字：%d\n", res.State.LuckyNumber)
	fmt.Fprintf(&b, "🔮 幸运倍数：%d\n", res.Record.Multiplier)
	fmt.Fprintf(&b, "🏆 获得道具：%s*%d\n", res.Record.RewardName, res.Record.IssuedAmount)
	fmt.Fprintf(&b, "🌟 连续签到天数：%d\n", res.State.StreakDays)
	fmt.Fprintf(&b, "你是今天第 %d 个签到的用户", res.SignOrder)
	return b.String()
}

// OpenBox issues one blind-box reward to userID. actor is the label of
// whoever opened it, which may be another user.
func (s *SignService) OpenBox(ctx context.Context, userID int64, actor string) (*SignResult, error) {
	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	res, err := s.signs.IssueBox(ctx, userID, model.CategoryBox, s.Today(), s.now(), s.draw(model.CategoryBox))
	if err != nil {
		if errors.Is(err, reward.ErrNoEligiblePrize) {
			return nil, err
		}
		return nil, storageErr("open box", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("actor", actor).
		Str("reward", res.Record.RewardName).
		Int64("amount", res.Record.IssuedAmount).
		Msg("Blind box opened")

	return &SignResult{
		State:       res.State,
		Record:      res.Record,
		UserMessage: fmt.Sprintf("🎁 盲盒开启成功\n获得道具：%s*%d", res.Record.RewardName, res.Record.IssuedAmount),
		Broadcast: fmt.Sprintf("[%s] %s 开启了盲盒，得到 %s %d 个",
			s.botName, actor, res.Record.RewardName, res.Record.IssuedAmount),
	}, nil
}

// AdjustPendingCurrency adds delta to the user's pending currency. A user
// without sign state is skipped with a warning.
func (s *SignService) AdjustPendingCurrency(ctx context.Context, userID int64, delta int64) error {
	if delta == 0 {
		return nil
	}

	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	ok, err := s.signs.AdjustPendingCurrency(ctx, userID, delta)
	if err != nil {
		return storageErr("adjust pending currency", err)
	}
	if !ok {
		log.Warn().Int64("user_id", userID).Int64("delta", delta).Msg("No sign state, pending currency not adjusted")
	}
	return nil
}

// LuckyNumber returns today's lucky number, or false if the user has not
// signed in today.
func (s *SignService) LuckyNumber(ctx context.Context, userID int64) (int, bool, error) {
	state, err := s.signs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSignStateNotFound) {
			return 0, false, nil
		}
		return 0, false, storageErr("get lucky number", err)
	}
	if !state.SignedOn(s.Today()) {
		return 0, false, nil
	}
	return state.LuckyNumber, true, nil
}

// State returns the user's sign state, or nil if they never signed in.
func (s *SignService) State(ctx context.Context, userID int64) (*model.SignState, error) {
	state, err := s.signs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSignStateNotFound) {
			return nil, nil
		}
		return nil, storageErr("get sign state", err)
	}
	return state, nil
}

// TodayRanking returns today's signers by lucky number, highest first.
func (s *SignService) TodayRanking(ctx context.Context, limit int) ([]model.LuckyRank, error) {
	if limit <= 0 {
		limit = 10
	}
	ranks, err := s.signs.TodayRanking(ctx, s.Today(), limit)
	if err != nil {
		return nil, storageErr("today ranking", err)
	}
	return ranks, nil
}
