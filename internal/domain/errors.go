package domain

import (
	"errors"
	"fmt"
)

// InterpretationKind 查询解析失败类别
type InterpretationKind string

const (
	// InterpretationInfrastructure 模型服务不可用、认证失败或响应格式错误
	InterpretationInfrastructure InterpretationKind = "infrastructure"
	// InterpretationEmptyResponse 模型返回空内容
	InterpretationEmptyResponse InterpretationKind = "empty_response"
	// InterpretationIntentNotRecognized 模型未调用搜索工具，需要用户换种说法
	InterpretationIntentNotRecognized InterpretationKind = "intent_not_recognized"
)

// 错误类别，用于日志字段和指标标签
const (
	ErrorKindNotReady       = "not_ready"
	ErrorKindIntent         = "intent_not_recognized"
	ErrorKindEmptyResponse  = "empty_response"
	ErrorKindInfrastructure = "infrastructure"
	ErrorKindGateway        = "gateway"
	ErrorKindRateLimited    = "rate_limited"
	ErrorKindUnknown        = "unknown"
)

// ErrRateLimited 请求过于频繁
var ErrRateLimited = errors.New("too many queries, slow down")

// RephraseMessage 意图无法识别时返回给用户的提示
const RephraseMessage = "I couldn't turn that into an email search. Please rephrase, e.g. \"show blocked emails from user@example.com in the last 3 days\"."

// InterpretationError 查询解析错误
type InterpretationError struct {
	Kind InterpretationKind
	Err  error
}

func (e *InterpretationError) Error() string {
	switch e.Kind {
	case InterpretationEmptyResponse:
		return "no response from language model"
	case InterpretationIntentNotRecognized:
		return "language model did not use the search tool, please rephrase your query"
	}
	if e.Err != nil {
		return fmt.Sprintf("failed to parse query: %v", e.Err)
	}
	return "failed to parse query"
}

func (e *InterpretationError) Unwrap() error { return e.Err }

// GatewayError Mimecast 调用失败
type GatewayError struct {
	Op         string // search / health
	StatusCode int    // HTTP 状态码，未收到响应时为 0
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("mimecast %s failed (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("mimecast %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NotReadyError 审计服务尚未初始化或已关闭
type NotReadyError struct{}

func (e *NotReadyError) Error() string {
	return "email auditor not initialized, call Initialize first"
}

// QueryError 携带原始查询文本的统一错误
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("failed to process query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsUserIntent 判断错误是否源于用户输入（应提示换种说法）
func IsUserIntent(err error) bool {
	var ie *InterpretationError
	return errors.As(err, &ie) && ie.Kind == InterpretationIntentNotRecognized
}

// IsNotReady 判断是否为未初始化错误
func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}

// ErrorKind 返回错误类别
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var (
		nr *NotReadyError
		ie *InterpretationError
		ge *GatewayError
	)
	switch {
	case errors.As(err, &nr):
		return ErrorKindNotReady
	case errors.As(err, &ie):
		switch ie.Kind {
		case InterpretationIntentNotRecognized:
			return ErrorKindIntent
		case InterpretationEmptyResponse:
			return ErrorKindEmptyResponse
		default:
			return ErrorKindInfrastructure
		}
	case errors.As(err, &ge):
		return ErrorKindGateway
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	default:
		return ErrorKindUnknown
	}
}
