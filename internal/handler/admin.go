package handler

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"reward-bridge/internal/service"
)

// AdminHandler handles admin-only commands.
type AdminHandler struct {
	economy *service.EconomyService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(economy *service.EconomyService) *AdminHandler {
	return &AdminHandler{economy: economy}
}

// HandleSync handles the /sync command.
// Reconciles every primary account's balance with the game server.
func (h *AdminHandler) HandleSync(c tele.Context) error {
	synced, err := h.economy.Sweep(context.Background())
	if err != nil {
		return c.Reply(errorReply(err))
	}
	return c.Reply(fmt.Sprintf("✅ 绿宝石同步完毕，共同步 %d 个账号", synced))
}
