package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// checkTimeout 单项检查超时
const checkTimeout = 5 * time.Second

// maxGoroutines 存活检查的协程数上限
const maxGoroutines = 10000

// ErrNotReady 审计服务未就绪
var ErrNotReady = errors.New("email auditor not initialized")

// ErrGatewayDown 最近一次网关探测失败
var ErrGatewayDown = errors.New("mimecast gateway probe failed")

// HealthChecker 健康检查器
type HealthChecker struct {
	health    healthcheck.Handler
	readiness map[string]healthcheck.Check
	logger    *zap.Logger
}

// NewHealthChecker 创建健康检查器，默认包含协程数存活检查
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health:    healthcheck.NewHandler(),
		readiness: make(map[string]healthcheck.Check),
		logger:    logger,
	}
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	return hc
}

// AddReadinessCheck 添加就绪检查，检查带统一超时
func (hc *HealthChecker) AddReadinessCheck(name string, check healthcheck.Check) {
	wrapped := healthcheck.Timeout(check, checkTimeout)
	hc.readiness[name] = wrapped
	hc.health.AddReadinessCheck(name, wrapped)
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行所有就绪检查并返回每项结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	names := make([]string, 0, len(hc.readiness))
	for name := range hc.readiness {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names)+1)
	for _, name := range names {
		if err := hc.readiness[name](); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

// AuditorCheck 审计服务就绪检查
func AuditorCheck(ready func() bool) healthcheck.Check {
	return func() error {
		if !ready() {
			return ErrNotReady
		}
		return nil
	}
}

// GatewayCheck 使用探测器的缓存结果，不在每次检查时调用 Mimecast
func GatewayCheck(healthy func() bool) healthcheck.Check {
	return func() error {
		if !healthy() {
			return ErrGatewayDown
		}
		return nil
	}
}

// PingCheck 依赖连通性检查（数据库、Redis）
func PingCheck(ping func(ctx context.Context) error) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return ping(ctx)
	}
}
