package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行所有任务", func(t *testing.T) {
		p := NewWorkerPool(4, 100, zap.NewNop())
		p.Start(context.Background())

		var count atomic.Int32
		for i := 0; i < 50; i++ {
			require.NoError(t, p.TrySubmit(func(context.Context) { count.Add(1) }))
		}
		p.Stop()

		assert.Equal(t, int32(50), count.Load())
	})

	t.Run("队列已满", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		block := make(chan struct{})
		started := make(chan struct{})
		p.Start(context.Background())

		require.NoError(t, p.TrySubmit(func(context.Context) {
			close(started)
			<-block
		}))
		<-started
		require.NoError(t, p.TrySubmit(func(context.Context) {}))

		assert.ErrorIs(t, p.TrySubmit(func(context.Context) {}), ErrQueueFull)

		close(block)
		p.Stop()
	})

	t.Run("停止后拒绝任务", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		p.Start(context.Background())
		p.Stop()
		p.Stop()

		assert.ErrorIs(t, p.TrySubmit(func(context.Context) {}), ErrStopped)
	})

	t.Run("任务panic不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 10, zap.NewNop())
		p.Start(context.Background())

		var ran atomic.Bool
		require.NoError(t, p.TrySubmit(func(context.Context) { panic("boom") }))
		require.NoError(t, p.TrySubmit(func(context.Context) { ran.Store(true) }))
		p.Stop()

		assert.True(t, ran.Load())
	})
}
