package httptransport

import (
	"net/http"
	"slices"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "mailaudit/backend/internal/auth/jwt"
	"mailaudit/backend/internal/bot"
	"mailaudit/backend/internal/config"
	"mailaudit/backend/internal/health"
	"mailaudit/backend/internal/middleware"
	"mailaudit/backend/internal/monitoring"
	"mailaudit/backend/internal/ratelimit"
	"mailaudit/backend/internal/storage/history"
	"mailaudit/backend/internal/websocket"
)

// QueryTimeout 单次直连查询的总耗时上限
const QueryTimeout = 90 * time.Second

// Auditor 路由层需要的审计服务能力
type Auditor interface {
	QueryRunner
	ReadinessProbe
}

// RouterDependencies 路由器依赖项
//
// BotHandler 与 WebSocketHub 为 nil 时不注册对应路由。
type RouterDependencies struct {
	Config        *config.Config
	Auditor       Auditor
	History       history.Store
	Limiter       ratelimit.Limiter
	BotHandler    *bot.Handler
	JWTManager    *jwtpkg.Manager
	WebSocketHub  *websocket.Hub
	HealthChecker *health.HealthChecker
	Metrics       *monitoring.Metrics
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.HTTPMetrics())
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(log.Named("http")))
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Max-Body-Size"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	if slices.Contains(corsConfig.AllowOrigins, "*") {
		corsConfig.AllowCredentials = false
	}
	router.Use(gincors.New(corsConfig))

	statusHandler := NewStatusHandler(deps.Auditor)
	auditHandler := NewAuditHandler(deps.Auditor, deps.History, deps.Limiter, deps.Metrics, log)
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log.Named("auth"))

	// 健康检查
	router.GET("/health", statusHandler.Health)
	router.GET("/ready", statusHandler.Ready)
	if deps.HealthChecker != nil {
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyHandler()))
		router.GET("/health/checks", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.HealthChecker.CheckHealth())
		})
	}

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// ========== Bot Framework ==========
	if deps.BotHandler != nil {
		router.POST("/api/messages", middleware.BodySizeLimit(middleware.ActivityBodyLimit), deps.BotHandler.HandleActivity)
	}

	// V1 API
	v1 := router.Group("/v1/audit", middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	{
		v1.POST("/query", middleware.ValidateJSON(), jwtAuth.RequireScope(jwtpkg.ScopeQuery), middleware.Timeout(QueryTimeout), auditHandler.Query)
		v1.GET("/history", jwtAuth.RequireScope(jwtpkg.ScopeHistory), auditHandler.History)

		if deps.WebSocketHub != nil {
			v1.GET("/feed", jwtAuth.RequireScope(jwtpkg.ScopeFeed), websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
