// Package redis 管理多副本共享的 Redis 连接。
//
// 连接只承载两类流量：ratelimit.RedisLimiter 的固定窗口计数（位于每个查询的请求路径上），
// 以及 /health/ready 的连通性检查。因此超时较短，连接池较小。
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailaudit/backend/internal/config"
)

// clientName 在 CLIENT LIST 中标识本服务的连接
const clientName = "mailaudit"

const connectTimeout = 5 * time.Second

// Client 限流计数与就绪检查共用的连接
type Client struct {
	rdb  *goredis.Client
	addr string
	log  *zap.Logger
}

// New 连接 Redis，启动时无法连通即返回错误
func New(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	rdb := goredis.NewClient(options(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	log.Info("connected to Redis for rate limiting",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)
	return &Client{rdb: rdb, addr: cfg.Address, log: log}, nil
}

// options 计数命令耗时极短，读写超时超过 1 秒即视为 Redis 异常，限流器随后放行请求
func options(cfg config.RedisConfig) *goredis.Options {
	return &goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   clientName,
		DialTimeout:  connectTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     8,
		MinIdleConns: 1,
	}
}

// Client 底层客户端，交给 ratelimit.New
func (c *Client) Client() *goredis.Client {
	return c.rdb
}

// Ping 就绪检查
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	return nil
}
