package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailaudit/backend/internal/domain"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 查询指标
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryResults  prometheus.Histogram
	QueryErrors   *prometheus.CounterVec

	// 网关指标
	GatewayUp     prometheus.Gauge
	GatewayProbes *prometheus.CounterVec

	// 渠道指标
	BotActivities    *prometheus.CounterVec
	WebSocketClients prometheus.Gauge

	// 错误与限流
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec

	// 系统指标
	SystemUptime prometheus.GaugeFunc
}

// NewMetrics 创建监控指标，注册到独立的注册表
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	m := &Metrics{
		registry: registry,
		started:  time.Now(),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailaudit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailaudit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailaudit_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailaudit_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailaudit_queries_total",
				Help: "Total number of audit queries by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailaudit_query_duration_seconds",
				Help:    "End-to-end duration of interpret and search",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"outcome"},
		),

		QueryResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailaudit_query_results",
				Help:    "Number of records returned per successful query",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),

		QueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailaudit_query_errors_total",
				Help: "Total number of failed queries by error kind",
			},
			[]string{"kind"},
		),

		GatewayUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailaudit_gateway_up",
				Help: "Whether the last Mimecast probe succeeded (1) or failed (0)",
			},
		),

		GatewayProbes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailaudit_gateway_probes_total",
				Help: "Total number of Mimecast health probes",
			},
			[]string{"result"},
		),

		BotActivities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailaudit_bot_activities_total",
				Help: "Total number of Bot Framework activities received",
			},
			[]string{"type"},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailaudit_websocket_clients",
				Help: "Number of connected live feed clients",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailaudit_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailaudit_ratelimit_blocks_total",
				Help: "Total number of queries rejected by the rate limiter",
			},
			[]string{"channel"},
		),
	}

	m.SystemUptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mailaudit_uptime_seconds",
			Help: "Seconds since the process started",
		},
		func() float64 { return time.Since(m.started).Seconds() },
	)

	return m
}

// ObserveQuery 记录查询完成事件
func (m *Metrics) ObserveQuery(_ context.Context, event domain.QueryEvent) {
	channel := event.Channel
	if channel == "" {
		channel = "unknown"
	}

	m.QueriesTotal.WithLabelValues(channel, event.Outcome).Inc()
	m.QueryDuration.WithLabelValues(event.Outcome).Observe(event.Elapsed.Seconds())

	if event.Outcome == domain.OutcomeSuccess {
		m.QueryResults.Observe(float64(event.Count))
		return
	}
	m.QueryErrors.WithLabelValues(event.Outcome).Inc()
	if event.Outcome == domain.ErrorKindRateLimited {
		m.RateLimitBlocks.WithLabelValues(channel).Inc()
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordGatewayProbe 记录网关探测结果
func (m *Metrics) RecordGatewayProbe(healthy bool) {
	if healthy {
		m.GatewayUp.Set(1)
		m.GatewayProbes.WithLabelValues("success").Inc()
		return
	}
	m.GatewayUp.Set(0)
	m.GatewayProbes.WithLabelValues("failure").Inc()
}

// RecordBotActivity 记录收到的机器人活动
func (m *Metrics) RecordBotActivity(activityType string) {
	m.BotActivities.WithLabelValues(activityType).Inc()
}

// RecordRateLimitBlock 记录被限流拒绝的查询
func (m *Metrics) RecordRateLimitBlock(channel string) {
	m.RateLimitBlocks.WithLabelValues(channel).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// UpdateWebSocketClients 更新实时推送连接数
func (m *Metrics) UpdateWebSocketClients(count int) {
	m.WebSocketClients.Set(float64(count))
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
