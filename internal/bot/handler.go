package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
	"mailaudit/backend/internal/pool"
	"mailaudit/backend/internal/ratelimit"
	"mailaudit/backend/internal/service"
)

// QueryRunner 执行自然语言查询
type QueryRunner interface {
	RunQuery(ctx context.Context, rawText string) (*domain.SearchResult, error)
}

// ReplySender 发送回复活动
type ReplySender interface {
	SendReply(ctx context.Context, to *Activity, reply *Activity) error
}

// TaskSubmitter 异步执行任务
type TaskSubmitter interface {
	TrySubmit(task pool.Task) error
}

// ActivityMetrics 机器人相关指标
type ActivityMetrics interface {
	RecordBotActivity(activityType string)
	RecordRateLimitBlock(channel string)
}

// Handler 处理 Bot Framework 活动
//
// 收到活动后立即返回 202，查询在协程池中执行，完成后通过 Connector 回复。
type Handler struct {
	runner  QueryRunner
	sender  ReplySender
	auth    Authenticator
	tasks   TaskSubmitter
	limiter ratelimit.Limiter
	metrics ActivityMetrics
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewHandler 创建活动处理器
//
// timeout 限制单个查询（含回复）的总耗时。auth 为 nil 时拒绝所有活动。
func NewHandler(runner QueryRunner, sender ReplySender, auth Authenticator, tasks TaskSubmitter, limiter ratelimit.Limiter, metrics ActivityMetrics, timeout time.Duration, log *zap.Logger) *Handler {
	if auth == nil {
		auth = rejectAll{}
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		runner:  runner,
		sender:  sender,
		auth:    auth,
		tasks:   tasks,
		limiter: limiter,
		metrics: metrics,
		timeout: timeout,
		log:     log.Named("bot"),
		now:     time.Now,
	}
}

// HandleActivity POST /api/messages
func (h *Handler) HandleActivity(c *gin.Context) {
	var activity Activity
	if err := c.ShouldBindJSON(&activity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "msg": "无效的活动格式"})
		return
	}

	if err := h.auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"), &activity); err != nil {
		h.log.Warn("rejecting unauthenticated activity",
			zap.String("type", activity.Type),
			zap.String("service_url", activity.ServiceURL),
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "未授权的活动"})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordBotActivity(activity.Type)
	}

	if !h.wantsReply(&activity) {
		c.Status(http.StatusOK)
		return
	}

	err := h.tasks.TrySubmit(func(ctx context.Context) {
		h.process(ctx, &activity)
	})
	if err != nil {
		h.log.Warn("rejecting activity",
			zap.String("conversation_id", activity.Conversation.ID),
			zap.Error(err),
		)
		status := http.StatusServiceUnavailable
		if !errors.Is(err, pool.ErrQueueFull) && !errors.Is(err, pool.ErrStopped) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"code": status, "msg": "服务繁忙，请稍后重试"})
		return
	}

	c.Status(http.StatusAccepted)
}

func (h *Handler) wantsReply(activity *Activity) bool {
	switch activity.Type {
	case ActivityTypeMessage:
		return true
	case ActivityTypeConversationUpdate:
		return activity.MembersJoined()
	default:
		return false
	}
}

// process 在工作协程中执行查询并回复
func (h *Handler) process(ctx context.Context, activity *Activity) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	requester := activity.Requester()
	ctx = service.WithRequester(ctx, requester, service.ChannelTeams)

	if activity.Type == ActivityTypeConversationUpdate {
		h.reply(ctx, activity, WelcomeCard())
		return
	}

	query := activity.QueryText()
	if query == "" {
		h.reply(ctx, activity, WelcomeCard())
		return
	}

	log := h.log.With(
		zap.String("user_id", requester),
		zap.String("conversation_id", activity.Conversation.ID),
	)
	log.Info("processing teams message", zap.String("query", query))

	allowed, err := h.limiter.Allow(ctx, requester)
	if err != nil {
		log.Warn("rate limiter unavailable, allowing query", zap.Error(err))
		allowed = true
	}
	if !allowed {
		if h.metrics != nil {
			h.metrics.RecordRateLimitBlock(service.ChannelTeams)
		}
		log.Warn("query rate limited")
		h.reply(ctx, activity, ErrorCard(UserMessage(domain.ErrRateLimited, "")))
		return
	}

	result, err := h.runner.RunQuery(ctx, query)
	if err != nil {
		errorID := NewErrorID(h.now())
		log.Error("query processing failed",
			zap.String("error_id", errorID),
			zap.String("kind", domain.ErrorKind(err)),
			zap.Error(err),
		)
		h.reply(ctx, activity, ErrorCard(UserMessage(err, errorID)))
		return
	}

	log.Info("query processed successfully",
		zap.Int("emails_found", result.Count),
		zap.Int64("execution_time_ms", result.ElapsedMs),
	)
	h.reply(ctx, activity, ResultsCard(result))
}

func (h *Handler) reply(ctx context.Context, to *Activity, card Attachment) {
	if err := h.sender.SendReply(ctx, to, to.NewReply(card)); err != nil {
		h.log.Error("failed to send reply",
			zap.String("conversation_id", to.Conversation.ID),
			zap.Error(err),
		)
	}
}

type rejectAll struct{}

func (rejectAll) Authenticate(context.Context, string, *Activity) error { return ErrUnauthorized }
