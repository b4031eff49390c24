package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garrettladley/plata/internal/xslog"
	"github.com/redis/go-redis/v9"
)

const DefaultPingTimeout = 5 * time.Second

type Config struct {
	URL         string
	PingTimeout time.Duration
}

// New connects to the shared cache that holds the provider key and the
// webhook rate limit buckets across replicas.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opt.Addr, err)
	}

	xslog.FromContext(ctx).LogAttrs(ctx, slog.LevelInfo, "connected to redis",
		slog.String("addr", opt.Addr),
		slog.Int("db", opt.DB),
	)
	return client, nil
}
