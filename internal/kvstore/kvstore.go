// Package kvstore provides the shared Redis client.
//
// Redis backs the rate-limiter counters, the LLM request stream with its
// pub/sub result channels, and the alert throttle windows.
package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/logger"
)

var Module = fx.Module("kvstore",
	fx.Provide(NewClient),
)

// NewClient creates the Redis client and verifies connectivity.
func NewClient(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*redis.Client, error) {
	log = log.With(logger.Scope("kvstore"))

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("redis client connected", slog.String("addr", opts.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing redis client")
			return client.Close()
		},
	})

	return client, nil
}
