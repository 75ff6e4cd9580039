package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"mailaudit/backend/internal/config"
	"mailaudit/backend/internal/interpreter"
)

// Client Anthropic Messages API 适配器，实现 interpreter.ToolCaller
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	log       *zap.Logger
}

// NewClient 创建模型客户端
//
// SDK 自带重试被关闭，每次解析只发起一次请求；超时取自配置。
func NewClient(cfg config.AnthropicConfig, log *zap.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api:       anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		log:       log.Named("anthropic"),
	}
}

// CallTool 发送单轮用户消息，并只提供给定的一个工具
func (c *Client) CallTool(ctx context.Context, prompt string, tool interpreter.Tool) (*interpreter.Reply, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{toToolParam(tool)},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	c.log.Debug("model responded",
		zap.String("id", msg.ID),
		zap.String("stop_reason", string(msg.StopReason)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	reply := &interpreter.Reply{Content: make([]interpreter.ContentBlock, 0, len(msg.Content))}
	for _, block := range msg.Content {
		reply.Content = append(reply.Content, interpreter.ContentBlock{
			Type:  block.Type,
			Text:  block.Text,
			Name:  block.Name,
			Input: block.Input,
		})
	}
	return reply, nil
}

func toToolParam(tool interpreter.Tool) anthropic.ToolUnionParam {
	properties := make(map[string]any, len(tool.Properties))
	for name, prop := range tool.Properties {
		schema := map[string]any{
			"type":        prop.Type,
			"description": prop.Description,
		}
		if len(prop.Enum) > 0 {
			schema["enum"] = prop.Enum
		}
		if prop.Default != nil {
			schema["default"] = prop.Default
		}
		properties[name] = schema
	}

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   tool.Required,
			},
		},
	}
}
