package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailaudit/backend/internal/config"
	"mailaudit/backend/internal/interpreter"
)

const toolUseMessage = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-3-5-sonnet-20241022",
  "content": [
    {"type": "text", "text": "Let me search."},
    {"type": "tool_use", "id": "toolu_01", "name": "search_mimecast", "input": {"status": "blocked", "sender": "test@example.com", "days": 3}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 120, "output_tokens": 40}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(config.AnthropicConfig{
		APIKey:    "sk-ant-test",
		Model:     "claude-3-5-sonnet-20241022",
		MaxTokens: 1024,
		BaseURL:   server.URL,
		Timeout:   5 * time.Second,
	}, zap.NewNop())
}

func TestCallTool(t *testing.T) {
	t.Run("发送单个工具并解析工具调用", func(t *testing.T) {
		var captured map[string]any
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/messages", r.URL.Path)
			assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(toolUseMessage))
		})

		reply, err := client.CallTool(context.Background(), "Show blocked emails", interpreter.SearchTool())

		require.NoError(t, err)
		require.Len(t, reply.Content, 2)
		assert.Equal(t, "text", reply.Content[0].Type)
		assert.Equal(t, "Let me search.", reply.Content[0].Text)
		assert.Equal(t, "tool_use", reply.Content[1].Type)
		assert.Equal(t, interpreter.SearchToolName, reply.Content[1].Name)
		assert.JSONEq(t, `{"status":"blocked","sender":"test@example.com","days":3}`, string(reply.Content[1].Input))

		assert.Equal(t, "claude-3-5-sonnet-20241022", captured["model"])
		assert.EqualValues(t, 1024, captured["max_tokens"])
		tools, ok := captured["tools"].([]any)
		require.True(t, ok)
		require.Len(t, tools, 1)
		tool := tools[0].(map[string]any)
		assert.Equal(t, interpreter.SearchToolName, tool["name"])
		schema := tool["input_schema"].(map[string]any)
		assert.Equal(t, []any{"status"}, schema["required"])
	})

	t.Run("错误响应不重试", func(t *testing.T) {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`))
		})

		reply, err := client.CallTool(context.Background(), "q", interpreter.SearchTool())

		assert.Error(t, err)
		assert.Nil(t, reply)
		assert.Equal(t, int32(1), calls.Load())
	})
}
