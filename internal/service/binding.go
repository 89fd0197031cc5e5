package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"

	"reward-bridge/internal/binding"
	"reward-bridge/internal/config"
	"reward-bridge/internal/effect"
)

var accountPattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

// ValidAccount reports whether name looks like a game account name.
func ValidAccount(name string) bool {
	return accountPattern.MatchString(name)
}

// BindRequest is the result of asking to bind an account.
type BindRequest struct {
	Account string
	// Bound is set when the account was bound without a handshake.
	Bound   bool
	Slot    int
	Pending binding.Pending
}

// BindingService links chat users to game accounts through a confirm
// handshake in game.
type BindingService struct {
	store         BindingStore
	registry      *binding.Registry
	presence      PresenceTracker
	sink          CommandSink
	notifier      Notifier
	mode          string
	confirmPhrase string
}

// NewBindingService creates a new BindingService instance. notifier may be
// nil until the chat side is up; see SetNotifier.
func NewBindingService(
	store BindingStore,
	registry *binding.Registry,
	presence PresenceTracker,
	sink CommandSink,
	cfg config.BindingConfig,
	confirmPhrase string,
) *BindingService {
	mode := cfg.Mode
	if mode != config.BindingModeLoose {
		mode = config.BindingModeStrict
	}
	return &BindingService{
		store:         store,
		registry:      registry,
		presence:      presence,
		sink:          sink,
		mode:          mode,
		confirmPhrase: confirmPhrase,
	}
}

// SetNotifier sets where handshake outcomes are reported.
func (s *BindingService) SetNotifier(n Notifier) {
	s.notifier = n
}

// ConfirmPhrase is the chat line a player types in game to confirm.
func (s *BindingService) ConfirmPhrase() string {
	return s.confirmPhrase
}

// RequestBinding starts binding account to userID. In loose mode the
// account is bound immediately; otherwise the player has the registry
// window to confirm in game.
func (s *BindingService) RequestBinding(ctx context.Context, userID int64, account, ref string) (*BindRequest, error) {
	if !ValidAccount(account) {
		return nil, ErrInvalidAccount
	}

	owner, found, err := s.store.UserByAccount(ctx, account)
	if err != nil {
		return nil, storageErr("lookup account", err)
	}
	if found {
		log.Debug().Int64("user_id", userID).Int64("owner", owner).Str("account", account).Msg("Account already bound")
		return nil, ErrAlreadyBound
	}

	online, err := s.presence.IsOnline(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%w: presence: %w", ErrExternalSync, err)
	}
	if !online {
		return nil, ErrAccountOffline
	}

	if s.mode == config.BindingModeLoose {
		slot, err := s.store.Bind(ctx, userID, account)
		if err != nil {
			return nil, storageErr("bind", err)
		}
		log.Info().Int64("user_id", userID).Str("account", account).Int("slot", slot).Msg("Account bound")
		return &BindRequest{Account: account, Bound: true, Slot: slot}, nil
	}

	p, err := s.registry.Create(userID, account, ref)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("有人请求将此账号绑定到聊天用户 %d，请在 %d 秒内发送「%s」完成绑定",
		userID, int(s.registry.Window().Seconds()), s.confirmPhrase)
	if _, err := s.sink.Send(ctx, effect.Whisper(account, prompt)); err != nil {
		s.registry.Cancel(p)
		return nil, fmt.Errorf("%w: %w", ErrExternalSync, err)
	}

	log.Info().Int64("user_id", userID).Str("account", account).Msg("Binding requested")
	return &BindRequest{Account: account, Pending: p}, nil
}

// ConfirmBinding completes the pending request for account and returns the
// requester and the slot the account landed in.
func (s *BindingService) ConfirmBinding(ctx context.Context, account string) (binding.Pending, int, error) {
	p, err := s.registry.Confirm(account)
	if err != nil {
		return binding.Pending{}, 0, err
	}

	slot, err := s.store.Bind(ctx, p.RequesterID, account)
	if err != nil {
		err = storageErr("bind", err)
		s.report(ctx, p.Ref, bindFailureText(account, err))
		return p, 0, err
	}

	log.Info().Int64("user_id", p.RequesterID).Str("account", account).Int("slot", slot).Msg("Account bound")
	s.report(ctx, p.Ref, fmt.Sprintf("✅ 账号 %s 绑定成功（槽位 %d）", account, slot))
	if _, err := s.sink.Send(ctx, effect.Whisper(account, "绑定成功")); err != nil {
		log.Warn().Err(err).Str("account", account).Msg("Failed to notify player")
	}
	return p, slot, nil
}

// Expired reports an expired request back to the chat. It is the
// registry's expiry handler.
func (s *BindingService) Expired(p binding.Pending) {
	log.Info().Int64("user_id", p.RequesterID).Str("account", p.Account).Msg("Binding request expired")
	s.report(context.Background(), p.Ref, fmt.Sprintf("⌛ 账号 %s 绑定请求已超时", p.Account))
}

// Unbind removes account from userID.
func (s *BindingService) Unbind(ctx context.Context, userID int64, account string) error {
	if err := s.store.Unbind(ctx, userID, account); err != nil {
		return storageErr("unbind", err)
	}
	log.Info().Int64("user_id", userID).Str("account", account).Msg("Account unbound")
	return nil
}

// AccountsByUser returns the user's accounts in slot order.
func (s *BindingService) AccountsByUser(ctx context.Context, userID int64) ([]string, error) {
	accounts, err := s.store.AccountsByUser(ctx, userID)
	if err != nil {
		return nil, storageErr("accounts by user", err)
	}
	return accounts, nil
}

// UserByAccount returns the user an account is bound to.
func (s *BindingService) UserByAccount(ctx context.Context, account string) (int64, bool, error) {
	userID, ok, err := s.store.UserByAccount(ctx, account)
	if err != nil {
		return 0, false, storageErr("user by account", err)
	}
	return userID, ok, nil
}

func (s *BindingService) report(ctx context.Context, ref, text string) {
	if s.notifier == nil || ref == "" {
		return
	}
	if err := s.notifier.Notify(ctx, ref, text); err != nil {
		log.Warn().Err(err).Str("ref", ref).Msg("Failed to report binding outcome")
	}
}

func bindFailureText(account string, err error) string {
	switch {
	case errors.Is(err, ErrAlreadyBound):
		return fmt.Sprintf("❌ 账号 %s 已被绑定", account)
	case errors.Is(err, ErrNoFreeSlot):
		return "❌ 你已绑定两个账号，请先解绑"
	default:
		return fmt.Sprintf("❌ 账号 %s 绑定失败，请稍后再试", account)
	}
}
