package httptransport

import (
	"net/http"

	"mailaudit/backend/internal/domain"
)

// 错误类别 -> HTTP 状态码与中文消息
var errorResponses = map[string]struct {
	status int
	msg    string
}{
	domain.ErrorKindNotReady:       {http.StatusServiceUnavailable, "审计服务尚未就绪，请稍后重试"},
	domain.ErrorKindIntent:         {http.StatusUnprocessableEntity, "无法理解该查询，请换种说法，例如：查看最近 3 天来自 user@example.com 的被拦截邮件"},
	domain.ErrorKindEmptyResponse:  {http.StatusBadGateway, "语言模型未返回内容，请稍后重试"},
	domain.ErrorKindInfrastructure: {http.StatusBadGateway, "查询解析服务暂不可用"},
	domain.ErrorKindGateway:        {http.StatusBadGateway, "Mimecast 查询失败"},
	domain.ErrorKindRateLimited:    {http.StatusTooManyRequests, MsgRateLimited},
}

// QueryErrorResponse 把查询错误映射为 HTTP 状态码和中文消息
func QueryErrorResponse(err error) (int, string) {
	if resp, ok := errorResponses[domain.ErrorKind(err)]; ok {
		return resp.status, resp.msg
	}
	return http.StatusInternalServerError, MsgInternalError
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgQueryRequired  = "查询内容不能为空"
	MsgQueryTooLong   = "查询内容过长"
	MsgInvalidLimit   = "limit 必须是正整数"
	MsgRateLimited    = "查询过于频繁，请稍后重试"
	MsgHistoryFailed  = "获取查询历史失败"
	MsgInternalError  = "服务器内部错误，请稍后重试"
)
