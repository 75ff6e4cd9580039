package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
)

// Interpreter 查询解析器，把自然语言转换为搜索参数
type Interpreter struct {
	caller ToolCaller
	tool   Tool
	log    *zap.Logger
}

// New 创建查询解析器
func New(caller ToolCaller, log *zap.Logger) *Interpreter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Interpreter{
		caller: caller,
		tool:   SearchTool(),
		log:    log.Named("interpreter"),
	}
}

// Interpret 调用一次语言模型并返回校验后的搜索参数，不做重试
//
// 失败时返回 *domain.InterpretationError：
//   - 模型调用失败或参数无法解析：infrastructure
//   - 响应没有任何内容块：empty_response
//   - 模型未调用搜索工具：intent_not_recognized
func (i *Interpreter) Interpret(ctx context.Context, rawText string) (domain.SearchParameters, error) {
	start := time.Now()

	reply, err := i.caller.CallTool(ctx, rawText, i.tool)
	if err != nil {
		i.log.Error("query parsing failed",
			zap.String("query", rawText),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return domain.SearchParameters{}, &domain.InterpretationError{Kind: domain.InterpretationInfrastructure, Err: err}
	}

	params, err := i.extract(reply)
	if err != nil {
		i.log.Warn("query not interpreted",
			zap.String("query", rawText),
			zap.Duration("duration", time.Since(start)),
			zap.String("kind", domain.ErrorKind(err)),
			zap.Error(err),
		)
		return domain.SearchParameters{}, err
	}

	i.log.Info("query parsed successfully",
		zap.String("query", rawText),
		zap.Duration("duration", time.Since(start)),
		zap.String("status", string(params.Status)),
		zap.String("sender", params.Sender),
		zap.String("domain", params.Domain),
		zap.Int("window_days", params.WindowDays),
	)
	return params, nil
}

func (i *Interpreter) extract(reply *Reply) (domain.SearchParameters, error) {
	if reply == nil || len(reply.Content) == 0 {
		return domain.SearchParameters{}, &domain.InterpretationError{Kind: domain.InterpretationEmptyResponse}
	}

	for _, block := range reply.Content {
		if block.Type != "tool_use" || block.Name != i.tool.Name {
			continue
		}

		args := map[string]any{}
		if len(bytes.TrimSpace(block.Input)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(block.Input))
			dec.UseNumber()
			if err := dec.Decode(&args); err != nil {
				return domain.SearchParameters{}, &domain.InterpretationError{Kind: domain.InterpretationInfrastructure, Err: err}
			}
		}
		return NormalizeArguments(args), nil
	}

	return domain.SearchParameters{}, &domain.InterpretationError{Kind: domain.InterpretationIntentNotRecognized}
}
