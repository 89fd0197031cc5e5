// Package main is the entry point for the reward bridge.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"reward-bridge/internal/binding"
	"reward-bridge/internal/bot"
	"reward-bridge/internal/config"
	"reward-bridge/internal/effect"
	"reward-bridge/internal/gameserver"
	"reward-bridge/internal/httpapi"
	"reward-bridge/internal/pkg/db"
	"reward-bridge/internal/pkg/lock"
	"reward-bridge/internal/pkg/logger"
	"reward-bridge/internal/repository"
	"reward-bridge/internal/reward"
	"reward-bridge/internal/service"
)

func main() {
	configDir := flag.String("config", "config", "directory containing config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logCloser.Close()

	tz, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid timezone")
	}

	log.Info().Str("timezone", tz.String()).Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database, tz)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	signRepo := repository.NewSignRepository(dbPool.Pool)
	inventoryRepo := repository.NewInventoryRepository(dbPool.Pool)
	bindingRepo := repository.NewBindingRepository(dbPool.Pool)

	// Reward catalog and effects
	catalog, err := reward.FromConfig(cfg.Rewards)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid reward catalog")
	}
	effects, err := effect.NewRegistry(effect.Builtins()...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register effects")
	}
	if err := effects.ValidateCatalog(catalog); err != nil {
		log.Fatal().Err(err).Msg("Reward catalog references an unknown effect")
	}

	seed := time.Now().UnixNano()
	generator := reward.NewGenerator(catalog, rand.New(rand.NewSource(seed)))
	roller := effect.NewRoller(cfg.Effects, rand.New(rand.NewSource(seed+1)))

	log.Info().
		Int("prizes", len(catalog.Prizes())).
		Strs("effects", effects.IDs()).
		Msg("Reward catalog loaded")

	// Game server side
	redisClient, err := gameserver.NewRedisClient(ctx, &cfg.GameServer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer redisClient.Close()

	presence := gameserver.NewPresence(redisClient, cfg.GameServer.PresenceKey)
	sink := gameserver.NewCommandSink(redisClient, &cfg.GameServer)

	var balances service.BalanceReader
	if cfg.Economy.Enabled {
		if cfg.GameServer.BalanceDSN == "" {
			log.Fatal().Msg("economy is enabled but game_server.balance_dsn is empty")
		}
		view, err := gameserver.OpenBalanceView(cfg.GameServer.BalanceDSN, cfg.GameServer.BalanceTable, cfg.Log.Level)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open balance view")
		}
		defer view.Close()
		balances = view
	}

	// Services. The economy gets its own lock table so slow game server
	// calls never block sign-in or item use.
	ledgerLock := lock.NewUserLock()
	economyLock := lock.NewUserLock()

	signService := service.NewSignService(signRepo, generator, ledgerLock, cfg.Bot.Name, tz)
	inventoryService := service.NewInventoryService(inventoryRepo, signRepo, bindingRepo, ledgerLock, tz)
	itemService := service.NewItemService(service.ItemServiceConfig{
		Catalog:   catalog,
		Effects:   effects,
		Roller:    roller,
		Signs:     signService,
		Inventory: inventoryService,
		Bindings:  bindingRepo,
		Presence:  presence,
		Sink:      sink,
		IsAdmin:   cfg.IsAdmin,
		BotName:   cfg.Bot.Name,
		TrendCost: cfg.Economy.TrendQueryCost,
	})
	economyService := service.NewEconomyService(signRepo, bindingRepo, sink, balances, economyLock, cfg.Economy)

	var bindingService *service.BindingService
	registry := binding.NewRegistry(
		binding.WithWindow(cfg.Binding.ConfirmTimeout),
		binding.WithExpiryHandler(func(p binding.Pending) { bindingService.Expired(p) }),
	)
	defer registry.Close()
	bindingService = service.NewBindingService(bindingRepo, registry, presence, sink, cfg.Binding, cfg.GameServer.ConfirmPhrase)

	// Initialize bot
	telegramBot, err := bot.New(&bot.Dependencies{
		Config:           cfg,
		Catalog:          catalog,
		SignService:      signService,
		InventoryService: inventoryService,
		ItemService:      itemService,
		BindingService:   bindingService,
		EconomyService:   economyService,
		Sink:             sink,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}
	bindingService.SetNotifier(telegramBot)

	server := httpapi.NewServer(cfg.HTTP, httpapi.Deps{
		Binder:   bindingService,
		Economy:  economyService,
		Presence: presence,
		Relay:    telegramBot,
		Health: map[string]httpapi.HealthFunc{
			"postgres": dbPool.HealthCheck,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	// Background jobs
	go economyService.RunSweeper(ctx, cfg.Economy.SweepInterval)
	go sweepBindings(ctx, registry, cfg.Binding.SweepInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Webhook server stopped")
		}
	}

	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Webhook server did not shut down cleanly")
	}

	telegramBot.Stop()
	log.Info().Msg("Bridge stopped gracefully")
}

// sweepBindings evicts stale binding requests whose timers were missed.
func sweepBindings(ctx context.Context, registry *binding.Registry, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Msg("Swept binding requests")
			}
		}
	}
}
