package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"reward-bridge/internal/service"
)

// RankingHandler handles lucky-number queries.
type RankingHandler struct {
	signs *service.SignService
}

// NewRankingHandler creates a new RankingHandler.
func NewRankingHandler(signs *service.SignService) *RankingHandler {
	return &RankingHandler{signs: signs}
}

// HandleLucky handles the /lucky command.
func (h *RankingHandler) HandleLucky(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	lucky, ok, err := h.signs.LuckyNumber(context.Background(), sender.ID)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if !ok {
		return c.Reply("你今天还没有签到哦~")
	}
	return c.Reply(fmt.Sprintf("✨ 今日幸运数字：%d", lucky))
}

// HandleRank handles the /rank command.
// Displays today's signers ordered by lucky number.
func (h *RankingHandler) HandleRank(c tele.Context) error {
	ranks, err := h.signs.TodayRanking(context.Background(), 10)
	if err != nil {
		return c.Reply("❌ 获取排行榜失败，请稍后重试")
	}

	var b strings.Builder
	b.WriteString("🍀 今日幸运榜\n")
	b.WriteString("━━━━━━━━━━━━━━━\n")
	if len(ranks) == 0 {
		b.WriteString("暂无数据\n")
		return c.Reply(b.String())
	}

	medals := []string{"🥇", "🥈", "🥉"}
	for i, r := range ranks {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		name := r.DisplayLabel
		if name == "" {
			name = fmt.Sprintf("用户%d", r.UserID)
		}
		fmt.Fprintf(&b, "%s %s  幸运数字 %d  连签 %d 天\n", rank, name, r.LuckyNumber, r.StreakDays)
	}
	return c.Reply(b.String())
}
