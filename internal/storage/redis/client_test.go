package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"mailaudit/backend/internal/config"
)

func TestNewUnreachable(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{Address: "127.0.0.1:1"}, zap.NewNop())

	assert.Nil(t, client)
	assert.ErrorContains(t, err, "failed to connect to Redis at 127.0.0.1:1")
}

func TestNewCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ctx, config.RedisConfig{Address: "127.0.0.1:1"}, nil)

	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	opts := options(config.RedisConfig{Address: "redis:6379", Password: "pw", DB: 2})

	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, clientName, opts.ClientName)
	assert.Equal(t, time.Second, opts.ReadTimeout)
	assert.Equal(t, time.Second, opts.WriteTimeout)
	assert.LessOrEqual(t, opts.PoolSize, 10)
}
