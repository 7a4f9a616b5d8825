package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	chanpay "github.com/set-night/chanpay"
	"github.com/set-night/chanpay/internal/config"
	"github.com/set-night/chanpay/internal/events"
	"github.com/set-night/chanpay/internal/handler"
	"github.com/set-night/chanpay/internal/httpapi"
	"github.com/set-night/chanpay/internal/intake"
	"github.com/set-night/chanpay/internal/job"
	"github.com/set-night/chanpay/internal/lock"
	"github.com/set-night/chanpay/internal/middleware"
	"github.com/set-night/chanpay/internal/repository"
	"github.com/set-night/chanpay/internal/service"
	"github.com/set-night/chanpay/internal/telegram"
)

// deferredLogger forwards to the Telegram logger once the bot exists. The
// middlewares and the user service are built before it.
type deferredLogger struct {
	target *telegram.TelegramLogger
}

func (d *deferredLogger) Audit(topic service.AuditTopic, message string) {
	if d.target != nil {
		d.target.Audit(topic, message)
	}
}

func (d *deferredLogger) LogError(err error, where string) {
	if d.target != nil {
		d.target.LogError(err, where)
	}
}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(chanpay.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	store := repository.NewStore(pool)
	policy := service.PolicyFromConfig(cfg)
	tgLog := &deferredLogger{}
	userService := service.NewUserService(store, tgLog, policy)

	// Redis is optional with a single replica: without it rate limiting is
	// off and sweeps run unlocked.
	var (
		rdb    *redis.Client
		locker job.Locker
	)
	middlewares := []bot.Middleware{middleware.Recover(tgLog), middleware.Logging()}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, continuing", "error", err)
		}
		locker = lock.NewRedis(rdb, config.SweepLockKey, config.SweepLockTTL)
		middlewares = append(middlewares, middleware.RateLimit(middleware.NewRedisCounter(rdb), cfg.RateLimitPerMinute))
	}
	middlewares = append(middlewares, middleware.UserLoader(userService, cfg))

	// Handler pointer for use in default handler closure
	var h *handler.Handler

	b, err := bot.New(cfg.BotToken,
		bot.WithMiddlewares(middlewares...),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h != nil {
				h.Default(ctx, b, update)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Get bot info
	me, err := b.GetMe(ctx)
	if err != nil {
		slog.Error("failed to get bot info", "error", err)
		os.Exit(1)
	}
	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)

	if cfg.DropPendingUpdates {
		if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			slog.Warn("drop pending updates failed", "error", err)
		}
	}

	tgLog.target = telegram.NewTelegramLogger(b, cfg)
	gateway := telegram.NewGateway(b)

	// Initialize services
	ledgerService := service.NewLedgerService(store, policy)
	requestService := service.NewRequestService(store, ledgerService, gateway, tgLog, policy)
	subscriptionService := service.NewSubscriptionService(store, ledgerService, gateway, tgLog, policy)
	invoiceService := service.NewInvoiceService(store, ledgerService, gateway, policy)
	channelService := service.NewChannelService(store, gateway, policy, me.ID)
	sweepService := service.NewSweepService(store, ledgerService, gateway, tgLog, policy)
	machine := intake.NewMachine(store, requestService, userService, invoiceService, channelService, cfg.WithdrawFeePercent, me.Username)

	scheduler := job.NewScheduler(sweepService, locker, cfg.SweepInterval)

	var publisher events.Publisher = events.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers)
		if err != nil {
			slog.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		publisher = kp
	}
	defer publisher.Close()
	relay := job.NewOutboxRelay(store, publisher, cfg.OutboxInterval, cfg.OutboxBatch, cfg.OutboxMaxRetries)

	// Initialize handler
	h = handler.New(handler.Deps{
		API:           b,
		Cfg:           cfg,
		Users:         userService,
		Requests:      requestService,
		Subscriptions: subscriptionService,
		Invoices:      invoiceService,
		Channels:      channelService,
		Ledger:        ledgerService,
		Intake:        machine,
		Sweeper:       scheduler,
		Reporter:      tgLog,
		BotUsername:   me.Username,
	})
	h.Register(b)

	// Operational HTTP surface
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Sweeper:    scheduler,
			DB:         pool,
			CronSecret: cfg.CronSecret,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	// Background jobs
	go scheduler.Start(ctx)
	go relay.Start(ctx)

	// Start bot
	slog.Info("starting bot", "username", me.Username, "id", me.ID)
	b.Start(ctx)

	// Graceful shutdown
	scheduler.Stop()
	relay.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}
	slog.Info("bot stopped gracefully")
}
