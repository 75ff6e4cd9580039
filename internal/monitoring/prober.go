package monitoring

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// HealthProber 可被周期探测的依赖
type HealthProber interface {
	HealthCheck(ctx context.Context) bool
}

// Prober 周期性探测 Mimecast 网关并更新指标
type Prober struct {
	cron    *cron.Cron
	target  HealthProber
	metrics *Metrics
	log     *zap.Logger
	spec    string
	timeout time.Duration

	healthy atomic.Bool
	lastRun atomic.Int64
}

// NewProber 创建探测器，interval 小于等于 0 时使用 5 分钟
func NewProber(target HealthProber, metrics *Metrics, interval time.Duration, log *zap.Logger) *Prober {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log = log.Named("prober")
	cronLog := cronLogger{log: log}

	return &Prober{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		target:  target,
		metrics: metrics,
		log:     log,
		spec:    fmt.Sprintf("@every %s", interval),
		timeout: 30 * time.Second,
	}
}

// Run 启动定时探测并阻塞直到 ctx 结束，启动时立即探测一次
func (p *Prober) Run(ctx context.Context) error {
	if _, err := p.cron.AddFunc(p.spec, func() { p.Probe(ctx) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	p.cron.Start()
	p.log.Info("gateway prober started", zap.String("spec", p.spec))

	p.Probe(ctx)

	<-ctx.Done()
	stopped := p.cron.Stop()
	<-stopped.Done()
	p.log.Info("gateway prober stopped")
	return nil
}

// Probe 执行一次探测
func (p *Prober) Probe(ctx context.Context) bool {
	if ctx.Err() != nil {
		return p.healthy.Load()
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	healthy := p.target.HealthCheck(probeCtx)
	p.healthy.Store(healthy)
	p.lastRun.Store(time.Now().UnixNano())
	if p.metrics != nil {
		p.metrics.RecordGatewayProbe(healthy)
	}

	if !healthy {
		p.log.Warn("gateway probe failed")
	} else {
		p.log.Debug("gateway probe succeeded")
	}
	return healthy
}

// Healthy 最近一次探测结果
func (p *Prober) Healthy() bool {
	return p.healthy.Load()
}

// LastRun 最近一次探测时间，未探测时为零值
func (p *Prober) LastRun() time.Time {
	ns := p.lastRun.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// cronLogger 把 cron 日志转发到 zap
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
