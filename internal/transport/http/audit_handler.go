package httptransport

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
	"mailaudit/backend/internal/ratelimit"
	"mailaudit/backend/internal/service"
	"mailaudit/backend/internal/storage/history"
)

// MaxQueryLength 单次查询文本的最大字符数
const MaxQueryLength = 1000

// QueryRunner 执行自然语言查询
type QueryRunner interface {
	RunQuery(ctx context.Context, rawText string) (*domain.SearchResult, error)
}

// RateLimitRecorder 记录限流拒绝
type RateLimitRecorder interface {
	RecordRateLimitBlock(channel string)
}

// AuditHandler 审计查询 API
type AuditHandler struct {
	runner  QueryRunner
	history history.Store
	limiter ratelimit.Limiter
	metrics RateLimitRecorder
	log     *zap.Logger
}

// NewAuditHandler 创建审计查询处理器
func NewAuditHandler(runner QueryRunner, store history.Store, limiter ratelimit.Limiter, metrics RateLimitRecorder, log *zap.Logger) *AuditHandler {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditHandler{
		runner:  runner,
		history: store,
		limiter: limiter,
		metrics: metrics,
		log:     log.Named("audit"),
	}
}

// QueryRequest 查询请求
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// Query godoc
// @Summary 自然语言查询邮件审计日志
// @Tags Audit
// @Accept json
// @Produce json
// @Param body body QueryRequest true "查询内容"
// @Success 200 {object} Response{data=domain.SearchResult}
// @Failure 422 {object} Response
// @Failure 429 {object} Response
// @Failure 502 {object} Response
// @Router /v1/audit/query [post]
func (h *AuditHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		BadRequest(c, MsgQueryRequired)
		return
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		BadRequest(c, MsgQueryTooLong)
		return
	}

	ctx := c.Request.Context()
	requester := service.RequesterFromContext(ctx)

	allowed, err := h.limiter.Allow(ctx, requester)
	if err != nil {
		h.log.Warn("rate limiter unavailable, allowing query", zap.Error(err))
		allowed = true
	}
	if !allowed {
		if h.metrics != nil {
			h.metrics.RecordRateLimitBlock(service.ChannelAPI)
		}
		TooManyRequests(c, MsgRateLimited)
		return
	}

	result, err := h.runner.RunQuery(ctx, query)
	if err != nil {
		status, msg := QueryErrorResponse(err)
		Error(c, status, msg)
		return
	}

	Success(c, result)
}

// History godoc
// @Summary 查询历史
// @Description 按时间倒序返回最近的查询记录，mine=true 时只返回自己发起的查询
// @Tags Audit
// @Produce json
// @Param limit query int false "返回条数，默认 50，最大 500"
// @Param mine query bool false "只看自己的查询"
// @Success 200 {object} Response{data=object{records=[]domain.QueryRecord,count=int}}
// @Router /v1/audit/history [get]
func (h *AuditHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(c, MsgInvalidLimit)
			return
		}
		limit = n
	}

	requester := ""
	if mine, _ := strconv.ParseBool(c.Query("mine")); mine {
		requester = service.RequesterFromContext(c.Request.Context())
	}

	records, err := h.history.ListRecent(c.Request.Context(), limit, requester)
	if err != nil {
		h.log.Error("failed to list query history", zap.Error(err))
		InternalError(c, MsgHistoryFailed)
		return
	}
	if records == nil {
		records = []domain.QueryRecord{}
	}

	Success(c, gin.H{
		"records": records,
		"count":   len(records),
	})
}
