package handler

import (
	"context"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"reward-bridge/internal/effect"
	"reward-bridge/internal/service"
)

// SignHandler handles daily sign-in.
type SignHandler struct {
	signs *service.SignService
	sink  service.CommandSink
}

// NewSignHandler creates a new SignHandler.
func NewSignHandler(signs *service.SignService, sink service.CommandSink) *SignHandler {
	return &SignHandler{signs: signs, sink: sink}
}

// HandleSign handles the /sign command.
func (h *SignHandler) HandleSign(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	res, err := h.signs.SignIn(ctx, sender.ID, displayName(sender))
	if err != nil {
		return c.Reply(errorReply(err))
	}

	if res.Broadcast != "" {
		if _, err := h.sink.Send(ctx, effect.Announce(res.Broadcast)); err != nil {
			log.Warn().Err(err).Int64("user_id", sender.ID).Msg("Failed to announce sign-in")
		}
	}
	return c.Reply(res.UserMessage)
}
