// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"reward-bridge/internal/config"
	"reward-bridge/internal/handler"
	"reward-bridge/internal/reward"
	"reward-bridge/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot    *tele.Bot
	cfg    *config.Config
	access *PrivateAccess

	// Handlers
	signHandler    *handler.SignHandler
	itemHandler    *handler.ItemHandler
	bindingHandler *handler.BindingHandler
	rankingHandler *handler.RankingHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config           *config.Config
	Catalog          *reward.Catalog
	SignService      *service.SignService
	InventoryService *service.InventoryService
	ItemService      *service.ItemService
	BindingService   *service.BindingService
	EconomyService   *service.EconomyService
	Sink             service.CommandSink
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, errors.New("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Telegram handler error")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:    teleBot,
		cfg:    deps.Config,
		access: NewPrivateAccess(),
	}

	b.signHandler = handler.NewSignHandler(deps.SignService, deps.Sink)
	b.itemHandler = handler.NewItemHandler(deps.ItemService, deps.InventoryService, deps.Catalog)
	b.bindingHandler = handler.NewBindingHandler(deps.BindingService)
	b.rankingHandler = handler.NewRankingHandler(deps.SignService)
	b.adminHandler = handler.NewAdminHandler(deps.EconomyService)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg, b.access))
	b.bot.Use(FloodMiddleware(NewFloodGuard(
		b.cfg.Bot.FloodPerMinute,
		b.cfg.Bot.FloodRepeats,
		b.cfg.Bot.FloodRepeatWindow,
	)))
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(CommandLimitMiddleware(b.cfg.Bot.CommandLimits))
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/sign", b.signHandler.HandleSign)
	b.bot.Handle("/lucky", b.rankingHandler.HandleLucky)
	b.bot.Handle("/rank", b.rankingHandler.HandleRank)

	b.bot.Handle("/stock", b.itemHandler.HandleStock)
	b.bot.Handle("/me", b.itemHandler.HandleMe)
	b.bot.Handle("/use", b.itemHandler.HandleUse)
	b.bot.Handle("/box", b.itemHandler.HandleBox)
	b.bot.Handle("/sell", b.itemHandler.HandleSell)
	b.bot.Handle("/trend", b.itemHandler.HandleTrend)

	b.bot.Handle("/bind", b.bindingHandler.HandleBind)
	b.bot.Handle("/unbind", b.bindingHandler.HandleUnbind)
	b.bot.Handle("/bindings", b.bindingHandler.HandleBindings)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/sync", b.adminHandler.HandleSync)
}

func (b *Bot) handleStart(c tele.Context) error {
	return c.Reply(helpText)
}

const helpText = "🎮 可用命令:\n" +
	"/sign - 每日签到\n" +
	"/lucky - 今日幸运数字\n" +
	"/rank - 今日幸运榜\n" +
	"/stock [道具] - 查看库存\n" +
	"/use <道具> - 回复目标消息使用道具\n" +
	"/box - 开启盲盒\n" +
	"/sell <道具> [数量] - 出售道具\n" +
	"/trend - 今日行情\n" +
	"/bind <游戏账号> - 绑定账号\n" +
	"/unbind <游戏账号> - 解绑账号\n" +
	"/bindings - 已绑定账号\n" +
	"/me - 我的信息"

// Notify replies to the chat message identified by ref.
func (b *Bot) Notify(_ context.Context, ref, text string) error {
	chatID, messageID, err := handler.ParseRef(ref)
	if err != nil {
		return err
	}

	opts := &tele.SendOptions{}
	if messageID != 0 {
		opts.ReplyTo = &tele.Message{ID: messageID, Chat: &tele.Chat{ID: chatID}}
	}
	if _, err := b.bot.Send(&tele.Chat{ID: chatID}, text, opts); err != nil {
		return fmt.Errorf("failed to notify chat %d: %w", chatID, err)
	}
	return nil
}

// Relay posts text to every whitelisted group.
func (b *Bot) Relay(_ context.Context, text string) error {
	var errs []error
	for _, chatID := range b.cfg.Whitelist.Chats {
		if _, err := b.bot.Send(&tele.Chat{ID: chatID}, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("bot", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
