package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/pennywise/pennywise/internal/auth"
	"github.com/pennywise/pennywise/internal/budgets"
	"github.com/pennywise/pennywise/internal/config"
	"github.com/pennywise/pennywise/internal/friends"
	"github.com/pennywise/pennywise/internal/fx"
	"github.com/pennywise/pennywise/internal/identity"
	"github.com/pennywise/pennywise/internal/ledger"
	"github.com/pennywise/pennywise/internal/metrics"
	"github.com/pennywise/pennywise/internal/middleware"
	"github.com/pennywise/pennywise/internal/notification"
	"github.com/pennywise/pennywise/internal/transactions"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Kafka  *kafka.Writer
	Logger *slog.Logger

	// Rates overrides the exchange rate source; tests use a static provider.
	Rates fx.Provider
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDev() {
		// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", metrics.Handler())

	ledgerOpts := []ledger.Option{
		ledger.WithLocation(d.Cfg.LedgerLocation),
		ledger.WithMaxRetries(d.Cfg.LedgerMaxRetries),
		ledger.WithLogger(d.Logger),
	}
	var (
		ledgerBackend ledger.Ledger
		identityRepo  identity.Repository
		friendRepo    friends.Repository
		noticeStore   notification.Store
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB, ledgerOpts...)
		identityRepo = identity.NewPostgresRepository(d.DB)
		friendRepo = friends.NewPostgresRepository(d.DB)
		noticeStore = notification.NewPostgresStore(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory(ledgerOpts...)
		identityRepo = identity.NewMemoryRepository()
		friendRepo = friends.NewMemoryRepository()
		noticeStore = notification.NewMemoryStore()
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if d.Kafka != nil {
		notifier = notification.NewKafkaNotifier(d.Kafka)
	}
	noticeSvc := notification.NewService(noticeStore, notifier, d.Logger)

	rates := d.Rates
	if rates == nil {
		rates = fx.StaticProvider{Snapshot: fx.DefaultRates()}
		if d.Cfg.FXAppID != "" {
			rates = fx.NewHTTPProvider(d.Cfg.FXAPIURL, d.Cfg.FXAppID, &http.Client{Timeout: 5 * time.Second})
		} else {
			d.Logger.Warn("FX_APP_ID not set, using built-in exchange rates")
		}
	}
	converter := fx.NewConverter(fx.NewCachedProvider(rates, d.Cache, d.Cfg.FXCacheTTL, d.Logger))

	identitySvc := identity.NewService(identityRepo, ledgerBackend, d.Cfg.DefaultCurrency, d.Logger)
	authSvc := auth.NewService(d.Cfg, identityRepo)
	friendSvc := friends.NewService(friendRepo, identitySvc, noticeSvc, d.Logger)
	txSvc := transactions.NewService(ledgerBackend, friendSvc, converter, noticeSvc, d.Cfg.LedgerLocation, d.Logger)
	budgetSvc := budgets.NewService(ledgerBackend)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	identityHandler := identity.NewHandler(identitySvc, ledgerBackend)
	RegisterIdentityRoutes(api, identityHandler)
	jwtmw := middleware.JWTAuth(authSvc)
	RegisterAuthRoutes(api, auth.NewHandler(identitySvc, authSvc), middleware.LoginRateLimit(d.Cache, 5), jwtmw)

	// Protected routes
	protected := api.Group("", jwtmw, middleware.Idempotency(middleware.IdempotencyConfig{
		Cache:  d.Cache,
		TTL:    d.Cfg.IdempotencyTTL,
		Logger: d.Logger,
	}))
	RegisterProfileRoutes(protected, identityHandler)
	RegisterTransactionRoutes(protected, transactions.NewHandler(txSvc))
	RegisterBudgetRoutes(protected, budgets.NewHandler(budgetSvc, d.Cfg.LedgerLocation))
	RegisterFriendRoutes(protected, friends.NewHandler(friendSvc, identitySvc))
	RegisterNotificationRoutes(protected, notification.NewHandler(noticeSvc))

	return nil
}
