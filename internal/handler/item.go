package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"reward-bridge/internal/effect"
	"reward-bridge/internal/reward"
	"reward-bridge/internal/service"
)

// ItemHandler handles stock, item use and sell-back commands.
type ItemHandler struct {
	items     *service.ItemService
	inventory *service.InventoryService
	catalog   *reward.Catalog
}

// NewItemHandler creates a new ItemHandler.
func NewItemHandler(items *service.ItemService, inventory *service.InventoryService, catalog *reward.Catalog) *ItemHandler {
	return &ItemHandler{items: items, inventory: inventory, catalog: catalog}
}

// HandleStock handles the /stock [item] command.
func (h *ItemHandler) HandleStock(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if args := c.Args(); len(args) > 0 {
		n, err := h.inventory.CheckStock(ctx, sender.ID, args[0])
		if err != nil {
			return c.Reply(errorReply(err))
		}
		return c.Reply(fmt.Sprintf("🎒 %s 剩余：%d", args[0], n))
	}

	p, err := h.inventory.Profile(ctx, sender.ID)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(formatStock(p))
}

// HandleMe handles the /me command.
func (h *ItemHandler) HandleMe(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	p, err := h.inventory.Profile(context.Background(), sender.ID)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(formatProfile(displayName(sender), p))
}

// HandleUse handles the /use <item> command. The target is the user the
// command replies to, or the sender.
func (h *ItemHandler) HandleUse(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("用法: 回复目标消息并发送 /use <道具>")
	}
	return h.use(c, args[0])
}

// HandleBox handles the /box command: it uses a blind box on the replied
// user, or on the sender.
func (h *ItemHandler) HandleBox(c tele.Context) error {
	name := h.boxItem()
	if name == "" {
		return c.Reply("❌ 没有可用的盲盒道具")
	}
	return h.use(c, name)
}

func (h *ItemHandler) boxItem() string {
	for _, p := range h.catalog.Prizes() {
		if p.Effect == effect.Box {
			return p.Name
		}
	}
	return ""
}

func (h *ItemHandler) use(c tele.Context, item string) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	target := sender
	if t := replyTarget(c); t != nil {
		target = t
	}

	res, err := h.items.UseItem(context.Background(), service.UseRequest{
		UserID:       sender.ID,
		Actor:        displayName(sender),
		TargetUserID: target.ID,
		TargetLabel:  displayName(target),
		Item:         item,
	})
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(res.Message())
}

// HandleSell handles the /sell <item> [n] command.
func (h *ItemHandler) HandleSell(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("用法: /sell <道具> [数量]")
	}
	n, err := parseQuantity(args, 1)
	if err != nil {
		return c.Reply(errorReply(err))
	}

	res, err := h.items.SellItem(context.Background(), sender.ID, displayName(sender), args[0], n)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(fmt.Sprintf("💰 成功以 %.0f%% 的价格出售 %d 个 %s，共获得 %d 个绿宝石！",
		res.Factor*100, res.Quantity, res.Item, res.Amount))
}

// HandleTrend handles the /trend command.
func (h *ItemHandler) HandleTrend(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	trend, err := h.items.MarketTrend(context.Background(), sender.ID, displayName(sender))
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(formatTrend(trend))
}

func formatTrend(t *service.MarketTrend) string {
	direction := "正常价"
	switch {
	case t.Factor > 1.0:
		direction = "溢价↑"
	case t.Factor < 1.0:
		direction = "↓折扣"
	}
	return fmt.Sprintf("📈 今日行情\n售价系数：%.2f倍\n市场趋势：%s\n本次查询花费 %d 绿宝石",
		t.Factor, direction, t.Cost)
}

func formatStock(p *service.Profile) string {
	if len(p.Stock) == 0 {
		return "🎒 背包空空如也"
	}
	var b strings.Builder
	b.WriteString("🎒 我的道具\n")
	for _, s := range p.Stock {
		fmt.Fprintf(&b, "• %s × %d\n", s.RewardName, s.Remaining)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatProfile(name string, p *service.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s\n", name)
	if p.State != nil {
		fmt.Fprintf(&b, "🌟 连续签到：%d 天\n", p.State.StreakDays)
		fmt.Fprintf(&b, "💎 绿宝石：%d（待发放 %d）\n", p.State.CachedBalance, p.State.PendingCurrency)
	} else {
		b.WriteString("🌟 还没有签到记录\n")
	}
	if len(p.Accounts) > 0 {
		fmt.Fprintf(&b, "🎮 绑定账号：%s\n", strings.Join(p.Accounts, ", "))
	}
	fmt.Fprintf(&b, "🎯 被使用道具：%d 次\n", p.TimesTargeted)
	if len(p.UsedToday) > 0 {
		b.WriteString("📅 今日使用：")
		for i, u := range p.UsedToday {
			if i > 0 {
				b.WriteString("，")
			}
			fmt.Fprintf(&b, "%s %d 次", u.RewardName, u.Events)
		}
		b.WriteString("\n")
	}
	b.WriteString(formatStock(p))
	return b.String()
}
