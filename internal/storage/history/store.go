// Package history 保存查询审计轨迹：谁在何时问了什么、结果数量与结果类别。
// 不保存邮件记录本身。
package history

import (
	"context"

	"mailaudit/backend/internal/domain"
)

// 列表条数限制
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store 查询历史存储
type Store interface {
	Save(ctx context.Context, record *domain.QueryRecord) error
	// ListRecent 按时间倒序返回最近的记录，requester 为空时不过滤
	ListRecent(ctx context.Context, limit int, requester string) ([]domain.QueryRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// normalizeLimit 将 limit 限制在 [1, MaxLimit]，非正数使用默认值
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
