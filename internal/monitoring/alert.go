package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Level      AlertLevel `json:"level"`
	Component  string     `json:"component"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AlertRule 告警规则，Condition 返回 true 表示触发
type AlertRule struct {
	ID        string
	Name      string
	Condition func() bool
	Level     AlertLevel
	Component string
	Message   string
}

// AlertReceiver 告警接收器
type AlertReceiver interface {
	SendAlert(ctx context.Context, alert *Alert) error
}

// AlertManager 告警管理器
//
// 每条规则同一时间最多一个活跃告警；条件恢复后告警标记为已解决并再次通知接收器。
type AlertManager struct {
	alerts    map[string]*Alert
	rules     []AlertRule
	receivers []AlertReceiver
	logger    *zap.Logger
	now       func() time.Time
	mu        sync.RWMutex
}

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		alerts: make(map[string]*Alert),
		logger: logger.Named("alert"),
		now:    time.Now,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// GetActiveAlerts 获取活跃告警
func (am *AlertManager) GetActiveAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]Alert, 0)
	for _, alert := range am.alerts {
		if !alert.Resolved {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// CheckRules 检查所有规则
func (am *AlertManager) CheckRules(ctx context.Context) {
	am.mu.RLock()
	rules := make([]AlertRule, len(am.rules))
	copy(rules, am.rules)
	am.mu.RUnlock()

	for _, rule := range rules {
		if rule.Condition() {
			am.trigger(ctx, rule)
		} else {
			am.resolve(ctx, rule.ID)
		}
	}
}

// Run 按间隔检查规则直到 ctx 结束
func (am *AlertManager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			am.CheckRules(ctx)
		}
	}
}

func (am *AlertManager) trigger(ctx context.Context, rule AlertRule) {
	am.mu.Lock()
	if existing, ok := am.alerts[rule.ID]; ok && !existing.Resolved {
		am.mu.Unlock()
		return
	}
	alert := &Alert{
		ID:        rule.ID,
		Title:     rule.Name,
		Message:   rule.Message,
		Level:     rule.Level,
		Component: rule.Component,
		Timestamp: am.now(),
	}
	am.alerts[rule.ID] = alert
	snapshot := *alert
	am.mu.Unlock()

	am.logger.Info("alert triggered",
		zap.String("alert_id", rule.ID),
		zap.String("level", string(rule.Level)),
		zap.String("component", rule.Component),
	)
	am.send(ctx, &snapshot)
}

func (am *AlertManager) resolve(ctx context.Context, ruleID string) {
	am.mu.Lock()
	alert, ok := am.alerts[ruleID]
	if !ok || alert.Resolved {
		am.mu.Unlock()
		return
	}
	now := am.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	snapshot := *alert
	am.mu.Unlock()

	am.logger.Info("alert resolved", zap.String("alert_id", ruleID))
	am.send(ctx, &snapshot)
}

func (am *AlertManager) send(ctx context.Context, alert *Alert) {
	am.mu.RLock()
	receivers := append([]AlertReceiver(nil), am.receivers...)
	am.mu.RUnlock()

	for _, receiver := range receivers {
		if err := receiver.SendAlert(ctx, alert); err != nil {
			am.logger.Error("failed to send alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}
}

// ========== 内置告警规则 ==========

// GatewayUnhealthyRule 网关探测失败
func GatewayUnhealthyRule(healthy func() bool) AlertRule {
	return AlertRule{
		ID:        "gateway_unhealthy",
		Name:      "Mimecast Unreachable",
		Condition: func() bool { return !healthy() },
		Level:     AlertLevelCritical,
		Component: "mimecast",
		Message:   "Mimecast health probe is failing",
	}
}

// AuditorNotReadyRule 审计服务未就绪
func AuditorNotReadyRule(ready func() bool) AlertRule {
	return AlertRule{
		ID:        "auditor_not_ready",
		Name:      "Email Auditor Not Ready",
		Condition: func() bool { return !ready() },
		Level:     AlertLevelCritical,
		Component: "auditor",
		Message:   "Email auditor is not accepting queries",
	}
}

// HistoryStoreRule 历史存储不可用
func HistoryStoreRule(health func(ctx context.Context) error) AlertRule {
	return AlertRule{
		ID:   "history_store",
		Name: "History Store Connection",
		Condition: func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return health(ctx) != nil
		},
		Level:     AlertLevelWarning,
		Component: "history",
		Message:   "Query history store is unreachable",
	}
}

// HighMemoryUsageRule 高内存使用
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:   "high_memory_usage",
		Name: "High Memory Usage",
		Condition: func() bool {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.Alloc)/1024/1024 > thresholdMB
		},
		Level:     AlertLevelWarning,
		Component: "memory",
		Message:   fmt.Sprintf("Memory usage exceeds %.0f MB", thresholdMB),
	}
}

// ========== 告警接收器实现 ==========

// LogAlertReceiver 日志告警接收器
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 写入日志
func (lar *LogAlertReceiver) SendAlert(_ context.Context, alert *Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Bool("resolved", alert.Resolved),
	}

	switch {
	case alert.Resolved:
		lar.logger.Info("ALERT RESOLVED", fields...)
	case alert.Level == AlertLevelCritical:
		lar.logger.Error("CRITICAL ALERT", fields...)
	default:
		lar.logger.Warn("WARNING ALERT", fields...)
	}
	return nil
}

// WebhookAlertReceiver 以 JSON POST 告警
type WebhookAlertReceiver struct {
	url    string
	client *http.Client
}

// NewWebhookAlertReceiver 创建 Webhook 告警接收器
func NewWebhookAlertReceiver(url string, client *http.Client) *WebhookAlertReceiver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookAlertReceiver{url: url, client: client}
}

// SendAlert 发送告警到 Webhook，非 2xx 视为失败
func (war *WebhookAlertReceiver) SendAlert(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, war.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := war.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
