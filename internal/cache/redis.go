package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"qms/campus-queue/internal/config"
)

// NewRedis returns nil without error when no address is configured; callers
// treat a nil client as "cache disabled".
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
