package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
	"mailaudit/backend/internal/storage/history"
)

// lateWorkers 在 Stop 期间完成最后一个任务并写入历史
type lateWorkers struct {
	recorder *history.Recorder
	order    *[]string
}

func (w lateWorkers) Stop() {
	w.recorder.ObserveQuery(context.Background(), domain.QueryEvent{
		Query:       "blocked emails from test@example.com",
		Channel:     "teams",
		Outcome:     "success",
		CompletedAt: time.Now(),
	})
	*w.order = append(*w.order, "workers")
}

type orderedAuditor struct{ order *[]string }

func (a orderedAuditor) Shutdown() { *a.order = append(*a.order, "auditor") }

func TestStopBackground(t *testing.T) {
	t.Run("关闭期间完成的任务仍写入历史", func(t *testing.T) {
		store := history.NewMemoryStore(10)
		recorder := history.NewRecorder(store, 0, zap.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- recorder.Run(ctx) }()

		var order []string
		stopBackground(lateWorkers{recorder: recorder, order: &order}, orderedAuditor{order: &order}, func() {
			order = append(order, "recorder")
			cancel()
		})

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("recorder did not stop")
		}

		assert.Equal(t, []string{"workers", "auditor", "recorder"}, order)
		assert.Equal(t, 1, store.Len())
	})
}
