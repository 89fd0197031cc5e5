// Package handler provides Telegram bot command handlers.
package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"reward-bridge/internal/reward"
	"reward-bridge/internal/service"
)

// errorReply maps a service error to the message shown to the user.
func errorReply(err error) string {
	switch {
	case errors.Is(err, service.ErrAlreadySigned):
		return "📅 今天已经签到过了，明天再来吧~"
	case errors.Is(err, service.ErrNotSignedToday):
		return "请签到后再试哦~"
	case errors.Is(err, service.ErrNeverSigned):
		return "❌ 你还没有签到过，先签到一次吧~"
	case errors.Is(err, service.ErrInvalidQuantity):
		return "❌ 数量必须是正整数"
	case errors.Is(err, service.ErrInsufficientStock):
		return "❌ 你没有足够的道具"
	case errors.Is(err, service.ErrUnknownItem):
		return "❌ 没有这个道具"
	case errors.Is(err, service.ErrNoEffect):
		return "❌ 这个道具不能使用"
	case errors.Is(err, service.ErrNotSellable):
		return "❌ 这个道具不能出售"
	case errors.Is(err, service.ErrSelfTarget):
		return "❌ 不能对自己使用这个道具"
	case errors.Is(err, service.ErrTargetNotBound):
		return "❌ 对方还没有绑定游戏账号"
	case errors.Is(err, service.ErrTargetOffline):
		return "❌ 对方不在线"
	case errors.Is(err, service.ErrInvalidAccount):
		return "❌ 游戏账号格式不正确"
	case errors.Is(err, service.ErrAccountOffline):
		return "❌ 该账号不在线，请先登录游戏"
	case errors.Is(err, service.ErrAlreadyBound):
		return "❌ 该账号已被绑定"
	case errors.Is(err, service.ErrNoFreeSlot):
		return "❌ 你已绑定两个账号，请先解绑"
	case errors.Is(err, service.ErrNotBound):
		return "❌ 你没有绑定这个账号"
	case errors.Is(err, service.ErrConflict):
		return "⏳ 该账号已有待确认的绑定请求"
	case errors.Is(err, service.ErrEconomyDisabled):
		return "❌ 经济同步未开启"
	case errors.Is(err, reward.ErrNoEligiblePrize):
		return "❌ 奖池配置有误，请联系管理员"
	case errors.Is(err, service.ErrExternalSync):
		return "❌ 游戏服务器暂时不可用，请稍后再试"
	default:
		return "❌ 操作失败，请稍后重试"
	}
}

// displayName returns the sender's username, or their first name.
func displayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// parseQuantity parses an optional count argument, defaulting to 1.
func parseQuantity(args []string, i int) (int64, error) {
	if len(args) <= i {
		return 1, nil
	}
	n, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || n <= 0 {
		return 0, service.ErrInvalidQuantity
	}
	return n, nil
}

// replyTarget returns the user the command message replies to.
func replyTarget(c tele.Context) *tele.User {
	msg := c.Message()
	if msg == nil || msg.ReplyTo == nil || msg.ReplyTo.Sender == nil || msg.ReplyTo.Sender.IsBot {
		return nil
	}
	return msg.ReplyTo.Sender
}

// MessageRef identifies a chat message so a later outcome can reply to it.
func MessageRef(c tele.Context) string {
	if c.Chat() == nil {
		return ""
	}
	if c.Message() == nil {
		return strconv.FormatInt(c.Chat().ID, 10)
	}
	return fmt.Sprintf("%d:%d", c.Chat().ID, c.Message().ID)
}

// ParseRef reverses MessageRef. messageID is 0 when the ref has none.
func ParseRef(ref string) (chatID int64, messageID int, err error) {
	chat, msg, found := strings.Cut(ref, ":")
	chatID, err = strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message ref %q: %w", ref, err)
	}
	if found {
		messageID, err = strconv.Atoi(msg)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid message ref %q: %w", ref, err)
		}
	}
	return chatID, messageID, nil
}
