package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
)

// QueryInterpreter 把自然语言查询解析为搜索参数
type QueryInterpreter interface {
	Interpret(ctx context.Context, rawText string) (domain.SearchParameters, error)
}

// SearchGateway 邮件审计提供方
type SearchGateway interface {
	Search(ctx context.Context, params domain.SearchParameters) ([]domain.EmailRecord, error)
	HealthCheck(ctx context.Context) bool
}

// QueryObserver 接收每次查询的完成事件（指标、历史记录、实时推送）
//
// ObserveQuery 在 RunQuery 的调用方 goroutine 中同步执行，实现必须快速返回。
type QueryObserver interface {
	ObserveQuery(ctx context.Context, event domain.QueryEvent)
}

// AuditService 审计编排服务
//
// 两个状态：未初始化与就绪。Initialize 探测网关成功后进入就绪，Shutdown 回到未初始化。
// 并发查询之间只共享就绪标志与注入的只读依赖。
type AuditService struct {
	interpreter QueryInterpreter
	gateway     SearchGateway
	observers   []QueryObserver
	log         *zap.Logger
	now         func() time.Time

	ready atomic.Bool
}

// NewAuditService 创建审计服务
func NewAuditService(interpreter QueryInterpreter, gateway SearchGateway, log *zap.Logger, observers ...QueryObserver) *AuditService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditService{
		interpreter: interpreter,
		gateway:     gateway,
		observers:   observers,
		log:         log.Named("auditor"),
		now:         time.Now,
	}
}

// Initialize 探测网关，成功后进入就绪状态
func (s *AuditService) Initialize(ctx context.Context) error {
	s.log.Info("initializing email auditor")

	if !s.gateway.HealthCheck(ctx) {
		s.ready.Store(false)
		return &domain.GatewayError{Op: "health", Err: errGatewayUnhealthy}
	}

	s.ready.Store(true)
	s.log.Info("email auditor initialized successfully")
	return nil
}

// Ready 是否处于就绪状态
func (s *AuditService) Ready() bool {
	return s.ready.Load()
}

// RunQuery 解析并执行一次查询
//
// 未就绪时立即返回 *domain.NotReadyError，不发起任何网络调用。
// 其余失败包装为 *domain.QueryError，保留原始原因。
func (s *AuditService) RunQuery(ctx context.Context, rawText string) (*domain.SearchResult, error) {
	if !s.ready.Load() {
		err := &domain.QueryError{Query: rawText, Err: &domain.NotReadyError{}}
		s.notify(ctx, s.failureEvent(ctx, rawText, nil, 0, err))
		return nil, err
	}

	s.log.Info("processing query", zap.String("query", rawText))
	start := time.Now()

	params, err := s.interpreter.Interpret(ctx, rawText)
	if err != nil {
		return nil, s.fail(ctx, rawText, nil, start, err)
	}

	records, err := s.gateway.Search(ctx, params)
	if err != nil {
		return nil, s.fail(ctx, rawText, &params, start, err)
	}

	elapsed := time.Since(start)
	result := domain.NewSearchResult(rawText, params, records, elapsed, s.now())

	s.log.Info("query completed",
		zap.String("query", rawText),
		zap.Int("result_count", result.Count),
		zap.Int64("elapsed_ms", result.ElapsedMs),
	)

	s.notify(ctx, domain.QueryEvent{
		Query:       rawText,
		Requester:   RequesterFromContext(ctx),
		Channel:     ChannelFromContext(ctx),
		Parameters:  &params,
		Count:       result.Count,
		Elapsed:     elapsed,
		ElapsedMs:   result.ElapsedMs,
		Outcome:     domain.OutcomeSuccess,
		CompletedAt: result.CompletedAt,
	})

	return result, nil
}

// HealthCheck 就绪且网关探测成功时返回 true
func (s *AuditService) HealthCheck(ctx context.Context) bool {
	if !s.ready.Load() {
		return false
	}
	return s.gateway.HealthCheck(ctx)
}

// Shutdown 回到未初始化状态
func (s *AuditService) Shutdown() {
	s.log.Info("shutting down email auditor")
	s.ready.Store(false)
}

func (s *AuditService) fail(ctx context.Context, rawText string, params *domain.SearchParameters, start time.Time, cause error) error {
	err := &domain.QueryError{Query: rawText, Err: cause}
	elapsed := time.Since(start)

	fields := []zap.Field{
		zap.String("query", rawText),
		zap.String("kind", domain.ErrorKind(cause)),
		zap.Duration("elapsed", elapsed),
		zap.Error(cause),
	}
	if domain.IsUserIntent(cause) {
		s.log.Warn("query intent not recognized", fields...)
	} else {
		s.log.Error("query failed", fields...)
	}

	s.notify(ctx, s.failureEvent(ctx, rawText, params, elapsed, err))
	return err
}

func (s *AuditService) failureEvent(ctx context.Context, rawText string, params *domain.SearchParameters, elapsed time.Duration, err error) domain.QueryEvent {
	return domain.QueryEvent{
		Query:       rawText,
		Requester:   RequesterFromContext(ctx),
		Channel:     ChannelFromContext(ctx),
		Parameters:  params,
		Elapsed:     elapsed,
		ElapsedMs:   elapsed.Milliseconds(),
		Outcome:     domain.ErrorKind(err),
		Error:       err.Error(),
		CompletedAt: s.now(),
	}
}

func (s *AuditService) notify(ctx context.Context, event domain.QueryEvent) {
	for _, o := range s.observers {
		o.ObserveQuery(ctx, event)
	}
}
