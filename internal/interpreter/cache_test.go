package interpreter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailaudit/backend/internal/cache"
	"mailaudit/backend/internal/domain"
)

func TestCachedInterpreter(t *testing.T) {
	t.Run("相同查询只调用一次模型", func(t *testing.T) {
		caller := new(mockCaller)
		caller.On("CallTool", mock.Anything, mock.Anything, mock.Anything).
			Return(&Reply{Content: []ContentBlock{toolUse(`{"status":"blocked","domain":"acme.com"}`)}}, nil).Once()

		cached := NewCached(New(caller, zap.NewNop()), cache.NewLocalCache[domain.SearchParameters](10, time.Minute), zap.NewNop())

		first, err := cached.Interpret(context.Background(), "Blocked from  acme.com")
		require.NoError(t, err)
		second, err := cached.Interpret(context.Background(), "blocked from acme.com")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, domain.StatusBlocked, second.Status)
		caller.AssertNumberOfCalls(t, "CallTool", 1)
	})

	t.Run("失败不缓存", func(t *testing.T) {
		caller := new(mockCaller)
		caller.On("CallTool", mock.Anything, mock.Anything, mock.Anything).
			Return(&Reply{Content: []ContentBlock{{Type: "text"}}}, nil).Twice()

		cached := NewCached(New(caller, zap.NewNop()), cache.NewLocalCache[domain.SearchParameters](10, time.Minute), zap.NewNop())

		_, err := cached.Interpret(context.Background(), "hello")
		require.Error(t, err)
		_, err = cached.Interpret(context.Background(), "hello")
		require.Error(t, err)

		assert.True(t, domain.IsUserIntent(err))
		caller.AssertNumberOfCalls(t, "CallTool", 2)
	})
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "blocked from acme.com", cacheKey("  Blocked\tFROM   acme.com "))
}
