package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ReadinessProbe 审计服务就绪状态
type ReadinessProbe interface {
	Ready() bool
}

// StatusHandler 健康检查与就绪检查
type StatusHandler struct {
	auditor ReadinessProbe
	started time.Time
}

// NewStatusHandler 创建状态处理器
func NewStatusHandler(auditor ReadinessProbe) *StatusHandler {
	return &StatusHandler{auditor: auditor, started: time.Now()}
}

// Health godoc
// @Summary 存活检查
// @Tags Status
// @Produce json
// @Router /health [get]
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Seconds(),
	})
}

// Ready godoc
// @Summary 就绪检查
// @Description 审计服务完成初始化后返回 200，否则 503
// @Tags Status
// @Produce json
// @Router /ready [get]
func (h *StatusHandler) Ready(c *gin.Context) {
	ready := h.auditor.Ready()

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"emailAuditor": ready,
	})
}
