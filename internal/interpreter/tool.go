package interpreter

import (
	"context"
	"encoding/json"
)

// SearchToolName 唯一暴露给模型的工具名称
const SearchToolName = "search_mimecast"

// Property 工具参数的 JSON Schema 描述
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Tool 函数调用工具定义
type Tool struct {
	Name        string
	Description string
	Properties  map[string]Property
	Required    []string
}

// SearchTool 返回邮件搜索工具定义
func SearchTool() Tool {
	return Tool{
		Name:        SearchToolName,
		Description: "Search Mimecast for blocked, held, or rejected emails. Use this tool to find emails that were stopped by Mimecast security.",
		Properties: map[string]Property{
			"status": {
				Type:        "string",
				Enum:        []string{"blocked", "held", "rejected", "all"},
				Description: "Email status to search for",
			},
			"sender": {
				Type:        "string",
				Description: "Email address or domain to search for (e.g., user@example.com or example.com)",
			},
			"days": {
				Type:        "integer",
				Description: "Number of days to search back (default: 7)",
				Default:     7,
			},
		},
		Required: []string{"status"},
	}
}

// ContentBlock 模型响应中的一个内容块
type ContentBlock struct {
	Type  string          // text / tool_use
	Text  string          // Type 为 text 时的文本
	Name  string          // Type 为 tool_use 时的工具名称
	Input json.RawMessage // Type 为 tool_use 时的参数
}

// Reply 模型响应
type Reply struct {
	Content []ContentBlock
}

// ToolCaller 支持函数调用的语言模型
type ToolCaller interface {
	CallTool(ctx context.Context, prompt string, tool Tool) (*Reply, error)
}
