package database

import (
	"context"
	"fmt"
	"time"

	"marketai-go/internal/config"
	"marketai-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// OpenRedis 初始化 Redis 客户端连接并测试连通性。
func OpenRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
