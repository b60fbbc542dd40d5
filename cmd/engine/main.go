package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/proptrade/engine/account"
	"github.com/proptrade/engine/alert"
	"github.com/proptrade/engine/audit"
	"github.com/proptrade/engine/exec"
	"github.com/proptrade/engine/feeds"
	"github.com/proptrade/engine/gateway"
	"github.com/proptrade/engine/internal/config"
	"github.com/proptrade/engine/order"
	"github.com/proptrade/engine/position"
	"github.com/proptrade/engine/pricing"
	"github.com/proptrade/engine/storage"
	"github.com/proptrade/engine/triggers"
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("                  PROPTRADE ENGINE")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Durable store and persistence queues
	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Store connection failed")
	}
	log.Info().Msg("✅ Storage layer initialized")

	notifier, err := alert.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Warn().Err(err).Msg("Operator alerts unavailable, continuing without")
	}

	orderQ := storage.NewQueue("orders", cfg.PersistQueueCap, cfg.PersistBreakerTrips)
	closeQ := storage.NewQueue("closes", cfg.PersistQueueCap, cfg.PersistBreakerTrips)
	orderQ.SetDropHook(notifier.PersistenceDrop)
	closeQ.SetDropHook(notifier.PersistenceDrop)
	orderQ.Start()
	closeQ.Start()

	journal := storage.NewJournal(store, orderQ, closeQ)
	trail := audit.NewTrail(journal.AuditLogged)

	snapshots, err := storage.NewSnapshotPublisher(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, risk snapshots disabled")
	}

	// 2. In-memory state managers
	prices := pricing.NewEngine(cfg.DefaultSpreadBps)
	positions := position.NewManager()
	orders := order.NewManager(cfg.PriceMaxAge)
	accounts := account.NewManager(store, cfg.UserLockBudget, cfg.SystemLockBudget, cfg.AccountFlushInterval)
	log.Info().Msg("✅ State managers initialized")

	// Rehydrate state from the last run and put every active account under
	// risk monitoring before the first client connects.
	rehydrate(store, positions, orders)
	if active, err := store.ListActiveAccounts(); err != nil {
		log.Warn().Err(err).Msg("Active account preload failed")
	} else {
		accounts.Prime(active)
		log.Info().Int("accounts", len(active)).Msg("Active accounts monitored")
	}

	// 3. Execution kernel
	kernel := exec.NewKernel(
		accounts, positions, orders, prices,
		journal, trail,
		cfg.FeeBps, cfg.MaintenanceMargin, cfg.PriceMaxAge,
	)
	log.Info().Msg("✅ Execution kernel initialized")

	// 4. Session gateway
	gw := gateway.NewServer(gateway.Config{
		Port:              cfg.WSPort,
		JWTSecret:         cfg.JWTSecret,
		HeartbeatInterval: 30 * time.Second,
		PongTimeout:       60 * time.Second,
		ReapInterval:      15 * time.Second,
		FlushInterval:     100 * time.Millisecond,
		RateLimit:         rate.Limit(5),
		RateBurst:         10,
	}, kernel, accounts, positions, orders, prices)

	// Trigger outcomes fan out to connected sessions and operator alerts.
	events := triggers.Tee{gw, alert.NewEventSink(notifier)}

	// 5. Trigger engines
	limitFill := triggers.NewLimitFillEngine(orders, prices, kernel, events, cfg.LimitSweepInterval)
	tpsl := triggers.NewTPSLEngine(positions, kernel, events)
	liq := triggers.NewLiquidationEngine(positions, kernel, events, cfg.PriceMaxAge)
	riskEngine := triggers.NewRiskEngine(accounts, positions, kernel, journal, trail, events, snapshots, cfg.RiskSweepInterval)
	dispatcher := triggers.NewDispatcher(positions, tpsl, liq, riskEngine)
	log.Info().Msg("✅ Trigger engines initialized")

	// 6. Market feed
	source := feeds.NewBinanceSource(cfg.QuoteAPIURL)
	feed := feeds.NewService(source, prices, positions, cfg.Symbols, cfg.QuoteRefreshInterval, cfg.StatsRefreshInterval)
	log.Info().Strs("symbols", cfg.Symbols).Msg("✅ Market feed initialized")

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	accounts.Start()
	riskEngine.Start()
	limitFill.Start()
	dispatcher.Start(prices)
	feed.Start()

	if err := gw.Start(); err != nil {
		log.Fatal().Err(err).Msg("Gateway failed to start")
	}

	notifier.Startup(cfg.Env, len(cfg.Symbols))
	log.Info().Int("port", cfg.WSPort).Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")

	// Quiesce inputs first so no new work enters the kernel.
	feed.Stop()
	dispatcher.Stop(prices)
	limitFill.Stop()
	riskEngine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("Gateway shutdown incomplete")
	}

	// Flush dirty accounts, then drain the write queues.
	accounts.Stop()
	orderQ.Stop()
	closeQ.Stop()

	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("Store close failed")
	}

	log.Info().Msg("👋 Goodbye!")
}

// rehydrate reloads open positions and resting orders into memory. Trading
// state is memory-first; after a restart the store is the only copy.
func rehydrate(store *storage.Store, positions *position.Manager, orders *order.Manager) {
	open, err := store.ListOpenPositions()
	if err != nil {
		log.Warn().Err(err).Msg("Position rehydrate failed")
	} else {
		for _, p := range open {
			positions.Add(p)
		}
	}

	pending, err := store.ListPendingOrders()
	if err != nil {
		log.Warn().Err(err).Msg("Order rehydrate failed")
	} else {
		for _, o := range pending {
			if err := orders.Place(o); err != nil {
				log.Warn().Err(err).Str("order", o.ID).Msg("Order rehydrate skipped")
			}
		}
	}

	if len(open) > 0 || len(pending) > 0 {
		log.Info().Int("positions", len(open)).Int("orders", len(pending)).Msg("♻️ State rehydrated")
	}
}
