package domain

import (
	"strings"
	"time"
)

// Status 邮件拦截状态（Mimecast route）
type Status string

const (
	StatusBlocked  Status = "blocked"  // 已阻止
	StatusHeld     Status = "held"     // 已隔离待审
	StatusRejected Status = "rejected" // 已拒收
	StatusAll      Status = "all"      // 全部状态（仅用于搜索）
	StatusUnknown  Status = "unknown"  // 提供方未返回状态
)

// ParseStatus 将任意字符串解析为可搜索的状态
//
// 仅接受 blocked / held / rejected / all（忽略大小写与首尾空白），
// 其他值返回 false。
func ParseStatus(value string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(value))); s {
	case StatusBlocked, StatusHeld, StatusRejected, StatusAll:
		return s, true
	default:
		return "", false
	}
}

// IsKnown 判断记录状态是否属于三种拦截状态之一
func (s Status) IsKnown() bool {
	return s == StatusBlocked || s == StatusHeld || s == StatusRejected
}

// DefaultWindowDays 默认搜索窗口（天）
const DefaultWindowDays = 7

// MaxWindowDays 搜索窗口上限（天），超出时截断
const MaxWindowDays = 3650

// ClampWindowDays 把天数限制在 [1, MaxWindowDays]，不大于 0 时使用默认值
func ClampWindowDays(days int) int {
	switch {
	case days <= 0:
		return DefaultWindowDays
	case days > MaxWindowDays:
		return MaxWindowDays
	default:
		return days
	}
}

// SearchParameters 与提供方无关的规范化搜索意图
//
// Sender 与 Domain 至多设置一个；Status 总是四个枚举值之一。
type SearchParameters struct {
	Status     Status `json:"status"`
	Sender     string `json:"sender,omitempty"`
	Domain     string `json:"domain,omitempty"`
	WindowDays int    `json:"windowDays"`
}

// HasSenderFilter 是否按发件人或发件域过滤
func (p SearchParameters) HasSenderFilter() bool {
	return p.Sender != "" || p.Domain != ""
}

// EmailRecord 规范化后的一条审计记录
type EmailRecord struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

// 记录字段缺省值
const (
	DefaultSubject = "(No Subject)"
	DefaultReason  = "Unknown"
)

// SearchResult 一次查询的完整结果
type SearchResult struct {
	Query       string           `json:"query"`
	Parameters  SearchParameters `json:"parameters"`
	Records     []EmailRecord    `json:"records"`
	Count       int              `json:"count"`
	ElapsedMs   int64            `json:"elapsedMs"`
	CompletedAt time.Time        `json:"completedAt"`
}

// NewSearchResult 构建结果信封，Count 始终等于记录数
func NewSearchResult(query string, params SearchParameters, records []EmailRecord, elapsed time.Duration, completedAt time.Time) *SearchResult {
	if records == nil {
		records = []EmailRecord{}
	}
	return &SearchResult{
		Query:       query,
		Parameters:  params,
		Records:     records,
		Count:       len(records),
		ElapsedMs:   elapsed.Milliseconds(),
		CompletedAt: completedAt,
	}
}

// QueryEvent 查询完成事件，供指标、历史记录和实时推送使用
type QueryEvent struct {
	Query       string            `json:"query"`
	Requester   string            `json:"requester,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Parameters  *SearchParameters `json:"parameters,omitempty"`
	Count       int               `json:"count"`
	Elapsed     time.Duration     `json:"-"`
	ElapsedMs   int64             `json:"elapsedMs"`
	Outcome     string            `json:"outcome"`
	Error       string            `json:"error,omitempty"`
	CompletedAt time.Time         `json:"completedAt"`
}

// OutcomeSuccess 查询成功时的 Outcome 值，失败时为 ErrorKind
const OutcomeSuccess = "success"
