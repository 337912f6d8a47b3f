package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	const op = "redis.New"

	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctxPing, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()

	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return client, nil
}
