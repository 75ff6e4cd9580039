package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "mailaudit/backend/internal/auth/jwt"
	"mailaudit/backend/internal/bot"
	"mailaudit/backend/internal/cache"
	"mailaudit/backend/internal/config"
	"mailaudit/backend/internal/domain"
	"mailaudit/backend/internal/health"
	"mailaudit/backend/internal/interpreter"
	"mailaudit/backend/internal/llm"
	"mailaudit/backend/internal/logger"
	"mailaudit/backend/internal/mimecast"
	"mailaudit/backend/internal/monitoring"
	"mailaudit/backend/internal/pool"
	"mailaudit/backend/internal/ratelimit"
	"mailaudit/backend/internal/service"
	"mailaudit/backend/internal/storage/history"
	"mailaudit/backend/internal/storage/redis"
	httptransport "mailaudit/backend/internal/transport/http"
	"mailaudit/backend/internal/websocket"
)

const (
	version             = "1.0.0"
	botProcessTimeout   = 90 * time.Second
	botConnectorTimeout = 15 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// main 启动邮件审计服务：Bot Framework 入口、查询 API、实时推送与周期探测。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailaudit server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	metrics := monitoring.NewMetrics()

	// Redis（可选，用于分布式限流）
	var rdbClient *redis.Client
	var rdb *goredis.Client
	if cfg.Redis.Address != "" {
		rdbClient, err = redis.New(context.Background(), cfg.Redis, log.Named("redis"))
		if err != nil {
			log.Fatal("failed to initialize redis", zap.Error(err))
		}
		rdb = rdbClient.Client()
	}

	store, err := openHistoryStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize history store", zap.Error(err))
	}
	recorder := history.NewRecorder(store, 0, log)

	// 查询解析
	var queryInterpreter service.QueryInterpreter = interpreter.New(llm.NewClient(cfg.Anthropic, log), log)
	var interpretCache *cache.LocalCache[domain.SearchParameters]
	if cfg.Cache.TTL > 0 {
		interpretCache = cache.NewLocalCache[domain.SearchParameters](cfg.Cache.MaxSize, cfg.Cache.TTL)
		queryInterpreter = interpreter.NewCached(queryInterpreter, interpretCache, log)
		log.Info("interpretation cache enabled",
			zap.Duration("ttl", cfg.Cache.TTL),
			zap.Int("max_size", cfg.Cache.MaxSize),
		)
	}

	gateway, err := mimecast.NewClient(cfg.Mimecast, mimecast.NewHTTPClient(cfg.Mimecast.Timeout), log)
	if err != nil {
		log.Fatal("failed to initialize mimecast client", zap.Error(err))
	}

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, metrics, log)
	auditService := service.NewAuditService(queryInterpreter, gateway, log, metrics, recorder, wsHub)

	initCtx, cancelInit := context.WithTimeout(context.Background(), cfg.Mimecast.Timeout+5*time.Second)
	err = auditService.Initialize(initCtx)
	cancelInit()
	if err != nil {
		log.Fatal("failed to initialize email auditor", zap.Error(err))
	}

	prober := monitoring.NewProber(gateway, metrics, cfg.Probe.Interval, log)

	// 健康检查
	healthChecker := health.NewHealthChecker(log)
	healthChecker.AddReadinessCheck("email_auditor", health.AuditorCheck(auditService.Ready))
	if cfg.Probe.Interval > 0 {
		healthChecker.AddReadinessCheck("mimecast", health.GatewayCheck(prober.Healthy))
	}
	healthChecker.AddReadinessCheck("history", health.PingCheck(store.Health))
	if rdbClient != nil {
		healthChecker.AddReadinessCheck("redis", health.PingCheck(rdbClient.Ping))
	}

	// 告警
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	if cfg.Alert.WebhookURL != "" {
		alertManager.AddReceiver(monitoring.NewWebhookAlertReceiver(cfg.Alert.WebhookURL, nil))
	}
	alertManager.AddRule(monitoring.AuditorNotReadyRule(auditService.Ready))
	if cfg.Probe.Interval > 0 {
		alertManager.AddRule(monitoring.GatewayUnhealthyRule(prober.Healthy))
	}
	alertManager.AddRule(monitoring.HistoryStoreRule(store.Health))
	if cfg.Alert.MemoryLimitMB > 0 {
		alertManager.AddRule(monitoring.HighMemoryUsageRule(cfg.Alert.MemoryLimitMB))
	}

	limiter := ratelimit.New(cfg.RateLimit, rdb, log)
	workers := pool.NewWorkerPool(cfg.Worker.Workers, cfg.Worker.QueueSize, log)

	connector := bot.NewConnector(cfg.Teams, botConnectorTimeout, log)
	if !connector.Authenticated() {
		log.Warn("bot framework credentials not configured, replies are sent unauthenticated")
	}
	botAuth := bot.NewBotFrameworkAuth(cfg.Teams, &http.Client{Timeout: botConnectorTimeout}, log)
	botHandler := bot.NewHandler(auditService, connector, botAuth, workers, limiter, metrics, botProcessTimeout, log)

	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Auditor:       auditService,
		History:       store,
		Limiter:       limiter,
		BotHandler:    botHandler,
		JWTManager:    jwtManager,
		WebSocketHub:  wsHub,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        log,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 机器人任务在关闭时仍可完成，由 Stop 等待
	workers.Start(context.Background())

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		return wsHub.Run(groupCtx)
	})

	// 历史写入最后停止，机器人任务的记录不会丢失
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	group.Go(func() error {
		return recorder.Run(recorderCtx)
	})

	if cfg.Probe.Interval > 0 {
		group.Go(func() error {
			return prober.Run(groupCtx)
		})
	}

	if cfg.Alert.Interval > 0 {
		group.Go(func() error {
			return alertManager.Run(groupCtx, cfg.Alert.Interval)
		})
	}

	if interpretCache != nil {
		group.Go(func() error {
			return interpretCache.Run(groupCtx)
		})
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		stopBackground(workers, auditService, stopRecorder)

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		log.Warn("failed to close history store", zap.Error(err))
	}
	if rdbClient != nil {
		_ = rdbClient.Close()
	}

	log.Info("server exited cleanly")
}

type stopper interface{ Stop() }

type shutdowner interface{ Shutdown() }

// stopBackground 等待机器人任务与审计服务结束后再停止历史写入
func stopBackground(workers stopper, auditor shutdowner, stopRecorder context.CancelFunc) {
	workers.Stop()
	auditor.Shutdown()
	stopRecorder()
}

// openHistoryStore 配置了数据库时使用 SQL 存储，否则使用内存存储
func openHistoryStore(cfg *config.Config, log *zap.Logger) (history.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory history store")
		return history.NewMemoryStore(history.DefaultMemoryCapacity), nil
	}

	store, err := history.Open(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	log.Info("using database history store", zap.String("type", cfg.Database.Type))
	return store, nil
}
