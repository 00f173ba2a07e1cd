package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	blacklistPrefix  = "blacklist:"
	loginRatePrefix  = "ratelimit:login:"
	resetTokenPrefix = "password_reset:"
)

// TokenRepository 保存认证相关的短期状态：token 黑名单、登录限流计数和密码重置 token。
type TokenRepository interface {
	Blacklist(ctx context.Context, token string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	// ClaimToken 原子地把 token 加入黑名单，只有第一次调用返回 true。
	ClaimToken(ctx context.Context, token string, ttl time.Duration) (bool, error)
	// IncrLoginAttempts 递增计数，首次递增时设置窗口过期时间，返回当前计数。
	IncrLoginAttempts(ctx context.Context, key string, window time.Duration) (int64, error)
	SaveResetToken(ctx context.Context, token string, userID uint, ttl time.Duration) error
	// ConsumeResetToken 读取并删除 token；不存在或已过期时返回 ErrNotFound。
	ConsumeResetToken(ctx context.Context, token string) (uint, error)
}

type redisTokenRepository struct {
	redisClient *redis.Client
}

// NewTokenRepository 创建一个新的 TokenRepository 实例。
func NewTokenRepository(redisClient *redis.Client) TokenRepository {
	return &redisTokenRepository{redisClient: redisClient}
}

func (r *redisTokenRepository) Blacklist(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		// 已过期的 token 本身就无法通过校验
		return nil
	}
	if err := r.redisClient.Set(ctx, blacklistPrefix+token, "true", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (r *redisTokenRepository) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, blacklistPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return n > 0, nil
}

func (r *redisTokenRepository) ClaimToken(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := r.redisClient.SetNX(ctx, blacklistPrefix+token, "true", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim token: %w", err)
	}
	return ok, nil
}

func (r *redisTokenRepository) IncrLoginAttempts(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := loginRatePrefix + key
	n, err := r.redisClient.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment login attempts: %w", err)
	}
	if n == 1 {
		if err := r.redisClient.Expire(ctx, k, window).Err(); err != nil {
			return n, fmt.Errorf("failed to set login window: %w", err)
		}
	}
	return n, nil
}

func (r *redisTokenRepository) SaveResetToken(ctx context.Context, token string, userID uint, ttl time.Duration) error {
	if err := r.redisClient.Set(ctx, resetTokenPrefix+token, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save reset token: %w", err)
	}
	return nil
}

func (r *redisTokenRepository) ConsumeResetToken(ctx context.Context, token string) (uint, error) {
	// GETDEL 需要 Redis 6.2，这里用事务保证读取与删除的原子性
	key := resetTokenPrefix + token
	var get *redis.StringCmd
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to consume reset token: %w", err)
	}
	id, err := strconv.ParseUint(get.Val(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed reset token payload: %w", err)
	}
	return uint(id), nil
}
