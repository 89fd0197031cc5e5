package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"reward-bridge/internal/service"
)

// BindingHandler handles game account binding commands.
type BindingHandler struct {
	bindings *service.BindingService
}

// NewBindingHandler creates a new BindingHandler.
func NewBindingHandler(bindings *service.BindingService) *BindingHandler {
	return &BindingHandler{bindings: bindings}
}

// HandleBind handles the /bind <account> command.
func (h *BindingHandler) HandleBind(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("用法: /bind <游戏账号>")
	}

	req, err := h.bindings.RequestBinding(context.Background(), sender.ID, args[0], MessageRef(c))
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if req.Bound {
		return c.Reply(fmt.Sprintf("✅ 账号 %s 绑定成功（槽位 %d）", req.Account, req.Slot))
	}
	return c.Reply(fmt.Sprintf("⏳ 请在游戏内发送「%s」确认绑定 %s",
		h.bindings.ConfirmPhrase(), req.Account))
}

// HandleUnbind handles the /unbind <account> command.
func (h *BindingHandler) HandleUnbind(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Reply("用法: /unbind <游戏账号>")
	}

	if err := h.bindings.Unbind(context.Background(), sender.ID, args[0]); err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(fmt.Sprintf("✅ 已解绑账号 %s", args[0]))
}

// HandleBindings handles the /bindings command.
func (h *BindingHandler) HandleBindings(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	accounts, err := h.bindings.AccountsByUser(context.Background(), sender.ID)
	if err != nil {
		return c.Reply(errorReply(err))
	}
	if len(accounts) == 0 {
		return c.Reply("你还没有绑定游戏账号，使用 /bind <游戏账号> 绑定")
	}
	return c.Reply("🎮 已绑定账号：" + strings.Join(accounts, ", "))
}
