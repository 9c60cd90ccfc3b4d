package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter 按 key 计数的限流器
type Limiter interface {
	// Allow 当前窗口内是否还能再处理一次请求
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// AllowN 一次消耗 n 个配额
	AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error)

	// Reset 清空 key 在当前窗口的计数
	Reset(ctx context.Context, key string, window time.Duration) error

	// Remaining 当前窗口剩余配额
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// WindowLimiter 固定窗口计数限流，计数存 Redis，多实例共享
type WindowLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	failOpen    bool // Redis 不可用时放行
	now         func() time.Time
}

func NewWindowLimiter(redisClient *redis.Client, logger *zap.Logger, failOpen bool) *WindowLimiter {
	return &WindowLimiter{
		redisClient: redisClient,
		logger:      logger,
		failOpen:    failOpen,
		now:         time.Now,
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return l.AllowN(ctx, key, 1, limit, window)
}

// AllowN 实现逻辑：INCRBY 当前窗口的计数并设置过期，计数不超过 limit 即放行
func (l *WindowLimiter) AllowN(ctx context.Context, key string, n int, limit int, window time.Duration) (bool, error) {
	bk := bucketKey(key, l.now(), window)

	pipe := l.redisClient.TxPipeline()
	incr := pipe.IncrBy(ctx, bk, int64(n))
	pipe.Expire(ctx, bk, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	allowed := count <= int64(limit)
	if !allowed {
		l.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", limit),
		)
	}
	return allowed, nil
}

func (l *WindowLimiter) Reset(ctx context.Context, key string, window time.Duration) error {
	if err := l.redisClient.Del(ctx, bucketKey(key, l.now(), window)).Err(); err != nil {
		return fmt.Errorf("reset rate limit for %s: %w", key, err)
	}
	return nil
}

func (l *WindowLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	count, err := l.redisClient.Get(ctx, bucketKey(key, l.now(), window)).Int64()
	if errors.Is(err, redis.Nil) {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get remaining: %w", err)
	}
	return max(limit-int(count), 0), nil
}

// bucketKey 同一窗口内的请求落在同一个 key 上
func bucketKey(key string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, now.UnixNano()/int64(window))
}
