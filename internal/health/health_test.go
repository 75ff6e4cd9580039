package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHealthChecker(t *testing.T) {
	t.Run("所有检查通过", func(t *testing.T) {
		hc := NewHealthChecker(zap.NewNop())
		hc.AddReadinessCheck("auditor", AuditorCheck(func() bool { return true }))
		hc.AddReadinessCheck("history", PingCheck(func(context.Context) error { return nil }))

		rec := httptest.NewRecorder()
		hc.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		results := hc.CheckHealth()
		assert.Equal(t, "OK", results["auditor"])
		assert.Equal(t, "OK", results["history"])
		assert.NotEmpty(t, results["timestamp"])
	})

	t.Run("未就绪返回503", func(t *testing.T) {
		hc := NewHealthChecker(zap.NewNop())
		hc.AddReadinessCheck("auditor", AuditorCheck(func() bool { return false }))
		hc.AddReadinessCheck("gateway", GatewayCheck(func() bool { return false }))
		hc.AddReadinessCheck("redis", PingCheck(func(context.Context) error { return errors.New("connection refused") }))

		rec := httptest.NewRecorder()
		hc.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		results := hc.CheckHealth()
		assert.Contains(t, results["auditor"], ErrNotReady.Error())
		assert.Contains(t, results["gateway"], ErrGatewayDown.Error())
		assert.Contains(t, results["redis"], "connection refused")
	})

	t.Run("存活检查不受就绪影响", func(t *testing.T) {
		hc := NewHealthChecker(zap.NewNop())
		hc.AddReadinessCheck("auditor", AuditorCheck(func() bool { return false }))

		rec := httptest.NewRecorder()
		hc.LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
