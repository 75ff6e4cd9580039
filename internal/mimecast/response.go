package mimecast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailaudit/backend/internal/domain"
)

// text 宽松的字符串字段
//
// 数字与布尔值保留字面文本；null、对象与数组视为空。
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		*t = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	case '{', '[', 'n':
		*t = ""
	default:
		*t = text(b)
	}
	return nil
}

// message Mimecast 返回的单条消息，字段名仅在本包内可见
type message struct {
	ID             text `json:"id"`
	Subject        text `json:"subject"`
	From           text `json:"from"`
	To             text `json:"to"`
	Route          text `json:"route"`
	DetectionLevel text `json:"detectionLevel"`
	Received       text `json:"received"`
}

// failure Mimecast 在 HTTP 200 中返回的错误条目
type failure struct {
	Errors []struct {
		Code    text `json:"code"`
		Message text `json:"message"`
	} `json:"errors"`
}

// searchResponse data 逐条解码，单条格式异常不影响其余记录
type searchResponse struct {
	Data []json.RawMessage `json:"data"`
	Fail []failure         `json:"fail"`
}

// receivedLayouts 接收时间可能的格式
var receivedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000-0700",
}

// NormalizeResponse 将响应体转换为审计记录
//
// data 缺失或为空时返回空切片；响应体无法解析或包含 fail 条目时返回错误。
// 缺失字段使用默认值，received 缺失或无法解析时使用 now。
// 非对象的 data 元素被跳过。
func NormalizeResponse(body []byte, now time.Time) ([]domain.EmailRecord, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if msg := failureMessage(resp.Fail); msg != "" {
		return nil, fmt.Errorf("request rejected: %s", msg)
	}

	records := make([]domain.EmailRecord, 0, len(resp.Data))
	for _, raw := range resp.Data {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var m message
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		records = append(records, toRecord(m, now))
	}
	return records, nil
}

func toRecord(m message, now time.Time) domain.EmailRecord {
	record := domain.EmailRecord{
		ID:         string(m.ID),
		Subject:    string(m.Subject),
		Sender:     string(m.From),
		Recipient:  string(m.To),
		Status:     domain.Status(m.Route),
		Reason:     string(m.DetectionLevel),
		OccurredAt: parseReceived(string(m.Received), now),
	}

	if record.Subject == "" {
		record.Subject = domain.DefaultSubject
	}
	if record.Status == "" {
		record.Status = domain.StatusUnknown
	}
	if record.Reason == "" {
		record.Reason = domain.DefaultReason
	}
	return record
}

// parseReceived 支持 receivedLayouts 与毫秒时间戳
func parseReceived(value string, now time.Time) time.Time {
	if value == "" {
		return now
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms <= 0 {
			return now
		}
		return time.UnixMilli(ms).UTC()
	}
	for _, layout := range receivedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return now
}

func failureMessage(fails []failure) string {
	var parts []string
	for _, f := range fails {
		for _, e := range f.Errors {
			code, msg := string(e.Code), string(e.Message)
			switch {
			case msg != "" && code != "":
				parts = append(parts, code+": "+msg)
			case msg != "":
				parts = append(parts, msg)
			case code != "":
				parts = append(parts, code)
			}
		}
	}
	if len(parts) == 0 && len(fails) > 0 {
		return "unspecified failure"
	}
	return strings.Join(parts, "; ")
}
