package interpreter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"mailaudit/backend/internal/domain"
)

// NormalizeArguments 将工具参数规范化为搜索参数
//
// 规则：
//   - status 缺失或不在枚举内时使用 all
//   - days 缺失、非数字或不大于 0 时使用 7，超过 domain.MaxWindowDays 时截断
//   - sender 含 @ 视为邮箱地址，否则非空时视为域名
func NormalizeArguments(args map[string]any) domain.SearchParameters {
	params := domain.SearchParameters{
		Status:     domain.StatusAll,
		WindowDays: domain.DefaultWindowDays,
	}

	if raw, ok := args["status"].(string); ok {
		if status, ok := domain.ParseStatus(raw); ok {
			params.Status = status
		}
	}

	if days, ok := parseDays(args["days"]); ok {
		params.WindowDays = domain.ClampWindowDays(days)
	}

	if raw, ok := args["sender"].(string); ok {
		sender := strings.TrimSpace(raw)
		switch {
		case strings.Contains(sender, "@"):
			params.Sender = sender
		case sender != "":
			params.Domain = sender
		}
	}

	return params
}

// parseDays 解析天数，接受 JSON 数字与数字字符串
func parseDays(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return floatDays(v)
	case int:
		return v, true
	case int64:
		return int64Days(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int64Days(i), true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatDays(f)
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatDays(f)
	default:
		return 0, false
	}
}

// floatDays 向上取整；超出上限截断，NaN 视为无效
func floatDays(f float64) (int, bool) {
	switch {
	case math.IsNaN(f):
		return 0, false
	case f > domain.MaxWindowDays:
		return domain.MaxWindowDays, true
	case f <= 0:
		return 0, true
	}
	return int(math.Ceil(f)), true
}

func int64Days(i int64) int {
	switch {
	case i > domain.MaxWindowDays:
		return domain.MaxWindowDays
	case i <= 0:
		return 0
	}
	return int(i)
}
