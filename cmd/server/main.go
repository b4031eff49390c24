package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/garrettladley/plata/internal/config"
	"github.com/garrettladley/plata/internal/ledger"
	"github.com/garrettladley/plata/internal/plata"
	"github.com/garrettladley/plata/internal/pubkey"
	xredis "github.com/garrettladley/plata/internal/redis"
	"github.com/garrettladley/plata/internal/server"
	"github.com/garrettladley/plata/internal/service/webhook"
	"github.com/garrettladley/plata/internal/storage"
	"github.com/garrettladley/plata/internal/xhttp/middleware"
	"github.com/garrettladley/plata/internal/xslog"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const (
	keyDriver    = "driver"
	keyTestMode  = "test_mode"
	keyRateLimit = "rate_limit"
	keyBackend   = "backend"
)

func main() {
	_ = godotenv.Load()

	logger := xslog.NewLoggerFromEnv(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = xslog.WithLogger(ctx, logger)

	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", xslog.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Read()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	store, closeStore, err := initLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = xredis.New(ctx, xredis.Config{URL: cfg.Redis.URL})
		if err != nil {
			return fmt.Errorf("failed to initialize redis client: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
	}

	keyStore := initKeyStore(ctx, redisClient, logger)
	limiter, closeLimiter := initLimiter(ctx, cfg, redisClient, logger)
	defer closeLimiter()

	logger.InfoContext(ctx, "initializing provider client",
		slog.Bool(keyTestMode, cfg.Plata.TestMode))
	if cfg.Env.IsProduction() && cfg.Plata.TestMode {
		logger.WarnContext(ctx, "provider test mode is enabled in production")
	}
	api := plata.New(
		plata.TokenSource(cfg.Plata.Token()),
		plata.WithBaseURL(cfg.Plata.BaseURL),
		plata.WithTimeout(cfg.Plata.FetchTimeout),
		plata.WithLogger(logger),
	)

	keys := pubkey.New(
		pubkey.Shared(keyStore, pubkey.FromProvider(api.Merchant.PublicKey), cfg.Plata.KeyTTL, nil),
		pubkey.WithTTL(cfg.Plata.KeyTTL),
		pubkey.WithMaxStaleness(cfg.Plata.KeyMaxStaleness),
		pubkey.WithMinRefreshInterval(cfg.Plata.KeyMinRefresh),
		pubkey.WithFetchTimeout(cfg.Plata.FetchTimeout),
	)

	processor := webhook.NewProcessor(keys, store, webhook.WithLedgerTimeout(cfg.LedgerTimeout))

	handler := server.NewHandler(server.Deps{
		Webhook:          processor,
		Ledger:           store,
		Limiter:          limiter,
		Logger:           logger,
		RequestIDOptions: []middleware.RequestIDOption{middleware.WithInboundRequestID()},
	})

	srv := server.New(":"+cfg.Port, handler)
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}

	return server.Serve(ctx, srv, ln, server.DefaultDrainTimeout)
}

func initLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.Store, func(), error) {
	logger.InfoContext(ctx, "initializing ledger", slog.String(keyDriver, string(cfg.Database.Driver)))

	l, err := ledger.Open(ctx, string(cfg.Database.Driver), cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return l, func() {
		if err := l.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close ledger", xslog.Error(err))
		}
	}, nil
}

func initKeyStore(ctx context.Context, redisClient *redis.Client, logger *slog.Logger) storage.KeyStore {
	if redisClient == nil {
		logger.InfoContext(ctx, "initializing key store", slog.String(keyBackend, "memory"))
		return storage.NewMemoryKeyStore(nil)
	}
	logger.InfoContext(ctx, "initializing key store", slog.String(keyBackend, "redis"))
	return storage.NewRedisKeyStore(storage.RedisConfig{Client: redisClient})
}

func initLimiter(ctx context.Context, cfg config.Config, redisClient *redis.Client, logger *slog.Logger) (storage.RateLimiter, func()) {
	if redisClient == nil {
		logger.InfoContext(ctx, "initializing rate limiter",
			slog.String(keyBackend, "memory"),
			slog.Int(keyRateLimit, cfg.RateLimit))
		limiter := storage.NewMemoryLimiter(float64(cfg.RateLimit), cfg.RateLimit)
		return limiter, func() { _ = limiter.Close() }
	}
	logger.InfoContext(ctx, "initializing rate limiter",
		slog.String(keyBackend, "redis"),
		slog.Int(keyRateLimit, cfg.RateLimit))
	return storage.NewRedisLimiter(storage.RedisConfig{Client: redisClient}, cfg.RateLimit), func() {}
}
