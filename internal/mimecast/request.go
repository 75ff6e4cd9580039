package mimecast

import (
	"time"

	"mailaudit/backend/internal/domain"
)

// API 路径
const (
	SearchPath  = "/api/message-finder/search"
	AccountPath = "/api/account/get-account"
)

// PageSize 单次搜索返回的最大记录数，不做分页
const PageSize = 100

// timeLayout ISO 8601，毫秒精度，UTC
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// SearchRequest 搜索请求体
type SearchRequest struct {
	Meta RequestMeta    `json:"meta"`
	Data []SearchFilter `json:"data"`
}

// RequestMeta 请求元数据
type RequestMeta struct {
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination 分页参数
type Pagination struct {
	PageSize int `json:"pageSize"`
}

// SearchFilter 搜索条件
type SearchFilter struct {
	Start    string       `json:"start"`
	End      string       `json:"end"`
	SearchBy string       `json:"searchBy,omitempty"`
	Query    string       `json:"query,omitempty"`
	Options  TraceOptions `json:"advancedTrackAndTraceOptions"`
}

// TraceOptions 高级追踪选项
type TraceOptions struct {
	Route string `json:"route,omitempty"`
}

// BuildSearchRequest 由搜索参数和当前时间构建请求体
//
// 相同输入总是得到相同结果。域名通过匹配发件人 "@domain" 实现。
// 窗口天数限制在 [1, domain.MaxWindowDays]。
func BuildSearchRequest(params domain.SearchParameters, now time.Time) SearchRequest {
	end := now.UTC()
	start := end.AddDate(0, 0, -domain.ClampWindowDays(params.WindowDays))

	filter := SearchFilter{
		Start: start.Format(timeLayout),
		End:   end.Format(timeLayout),
	}

	switch {
	case params.Sender != "":
		filter.SearchBy = "sender"
		filter.Query = params.Sender
	case params.Domain != "":
		filter.SearchBy = "sender"
		filter.Query = "@" + params.Domain
	}

	if params.Status != domain.StatusAll && params.Status != "" {
		filter.Options.Route = string(params.Status)
	}

	return SearchRequest{
		Meta: RequestMeta{Pagination: &Pagination{PageSize: PageSize}},
		Data: []SearchFilter{filter},
	}
}

// accountRequest 账户查询请求体 {meta:{},data:[]}
type accountRequest struct {
	Meta struct{} `json:"meta"`
	Data []any    `json:"data"`
}

func newAccountRequest() accountRequest {
	return accountRequest{Data: []any{}}
}
