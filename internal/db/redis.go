package db

import (
	"context"
	"time"

	"packmarket/internal/logger"

	redis "github.com/redis/go-redis/v9"
)

// ConnectRedis returns nil when addr is empty or the server does not answer.
// Every redis consumer falls back to postgres or fails open on nil.
func ConnectRedis(addr, password string, db int) *redis.Client {
	if addr == "" {
		logger.Info("redis not configured")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, continuing without it", "addr", addr, "error", err)
		_ = rdb.Close()
		return nil
	}

	logger.Info("redis connected", "addr", addr)
	return rdb
}
