package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailaudit/backend/internal/config"
)

// Limiter 按用户限制查询频率
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New 根据配置创建限流器：配置了 Redis 时使用分布式计数，否则使用进程内令牌桶
//
// PerMinute 小于等于 0 时不限流。
func New(cfg config.RateLimitConfig, rdb *goredis.Client, log *zap.Logger) Limiter {
	if cfg.PerMinute <= 0 {
		return Unlimited{}
	}
	if rdb != nil {
		return NewRedisLimiter(rdb, cfg.PerMinute, time.Minute, log)
	}
	return NewLocalLimiter(cfg.PerMinute, cfg.Burst)
}

// Unlimited 不限流
type Unlimited struct{}

// Allow 总是允许
func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

// LocalLimiter 进程内令牌桶，每个 key 一个桶
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter 创建进程内限流器
func NewLocalLimiter(perMinute, burst int) *LocalLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &LocalLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		lastGC:   time.Now(),
	}
}

// Allow 判断 key 是否还有令牌
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now

	if now.Sub(l.lastGC) > l.idleTTL {
		l.gc(now)
	}

	return e.limiter.AllowN(now, 1), nil
}

// gc 清理长时间未使用的桶，调用方持有锁
func (l *LocalLimiter) gc(now time.Time) {
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, key)
		}
	}
	l.lastGC = now
}

// RedisLimiter 基于 Redis INCR/EXPIRE 的固定窗口计数
type RedisLimiter struct {
	rdb    *goredis.Client
	limit  int64
	window time.Duration
	prefix string
	log    *zap.Logger
}

// NewRedisLimiter 创建分布式限流器
func NewRedisLimiter(rdb *goredis.Client, limit int, window time.Duration, log *zap.Logger) *RedisLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLimiter{
		rdb:    rdb,
		limit:  int64(limit),
		window: window,
		prefix: "mailaudit:ratelimit:",
		log:    log.Named("ratelimit"),
	}
}

// Allow 当前窗口计数未超过上限时返回 true
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, bucket)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}

	count := incr.Val()
	if count > l.limit {
		l.log.Debug("rate limit exceeded", zap.String("key", key), zap.Int64("count", count))
		return false, nil
	}
	return true, nil
}
