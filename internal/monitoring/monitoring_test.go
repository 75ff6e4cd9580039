package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
)

func TestMetricsObserveQuery(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.ObserveQuery(ctx, domain.QueryEvent{Channel: "teams", Outcome: domain.OutcomeSuccess, Count: 4, Elapsed: time.Second})
	m.ObserveQuery(ctx, domain.QueryEvent{Channel: "teams", Outcome: domain.ErrorKindIntent})
	m.ObserveQuery(ctx, domain.QueryEvent{Outcome: domain.ErrorKindGateway})
	m.ObserveQuery(ctx, domain.QueryEvent{Channel: "api", Outcome: domain.ErrorKindRateLimited})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("teams", domain.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("unknown", domain.ErrorKindGateway)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues(domain.ErrorKindIntent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues(domain.ErrorKindGateway)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitBlocks.WithLabelValues("api")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.QueryResults))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest("GET", "/health", "200", 10*time.Millisecond, 0, 42)
	m.RecordGatewayProbe(true)

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mailaudit_http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
	assert.Contains(t, body, "mailaudit_gateway_up 1")
	assert.Contains(t, body, "mailaudit_uptime_seconds")
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}

type fakeTarget struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (f *fakeTarget) HealthCheck(context.Context) bool {
	f.calls.Add(1)
	return f.healthy.Load()
}

func TestProber(t *testing.T) {
	t.Run("探测结果更新指标", func(t *testing.T) {
		target := &fakeTarget{}
		m := NewMetrics()
		p := NewProber(target, m, time.Minute, zap.NewNop())

		assert.False(t, p.Probe(context.Background()))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.GatewayUp))

		target.healthy.Store(true)
		assert.True(t, p.Probe(context.Background()))
		assert.True(t, p.Healthy())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayUp))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayProbes.WithLabelValues("failure")))
		assert.False(t, p.LastRun().IsZero())
	})

	t.Run("Run启动时立即探测并在取消后退出", func(t *testing.T) {
		target := &fakeTarget{}
		target.healthy.Store(true)
		p := NewProber(target, nil, time.Hour, zap.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		require.Eventually(t, func() bool { return target.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("prober did not stop")
		}
		assert.True(t, p.Healthy())
	})
}
