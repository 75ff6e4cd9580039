package mimecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailaudit/backend/internal/config"
	"mailaudit/backend/internal/domain"
)

// DefaultTimeout 单次调用超时
const DefaultTimeout = 30 * time.Second

// maxResponseBytes 响应体读取上限
const maxResponseBytes = 10 << 20

// Client Mimecast 搜索网关
//
// 除只读配置外不持有可变状态，可被并发调用。
type Client struct {
	baseURL    string
	signer     *Signer
	httpClient *http.Client
	log        *zap.Logger
	now        func() time.Time
}

// NewHTTPClient 创建带固定超时的 HTTP 客户端
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewClient 创建 Mimecast 客户端
//
// httpClient 为 nil 时使用 cfg.Timeout 创建。
func NewClient(cfg config.MimecastConfig, httpClient *http.Client, log *zap.Logger) (*Client, error) {
	signer, err := NewSigner(Credentials{
		AppID:     cfg.AppID,
		AppKey:    cfg.AppKey,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
	if err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		signer:     signer,
		httpClient: httpClient,
		log:        log.Named("mimecast"),
		now:        time.Now,
	}, nil
}

// Search 搜索被拦截的邮件，最多返回 PageSize 条
//
// 远程调用失败一律返回 *domain.GatewayError，不会当作空结果。
func (c *Client) Search(ctx context.Context, params domain.SearchParameters) ([]domain.EmailRecord, error) {
	start := time.Now()
	now := c.now()

	body, status, err := c.post(ctx, SearchPath, BuildSearchRequest(params, now))
	if err != nil {
		c.log.Error("mimecast search failed",
			zap.Any("params", params),
			zap.Int("http_status", status),
			zap.Error(err),
		)
		return nil, &domain.GatewayError{Op: "search", StatusCode: status, Err: err}
	}

	records, err := NormalizeResponse(body, now)
	if err != nil {
		c.log.Error("mimecast search response invalid",
			zap.Any("params", params),
			zap.Error(err),
		)
		return nil, &domain.GatewayError{Op: "search", StatusCode: status, Err: err}
	}

	c.log.Info("mimecast search completed",
		zap.Any("params", params),
		zap.Int("result_count", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}

// HealthCheck 调用账户接口验证连通性与凭据，错误只记录不返回
func (c *Client) HealthCheck(ctx context.Context) bool {
	body, status, err := c.post(ctx, AccountPath, newAccountRequest())
	if err == nil {
		err = checkFailures(body)
	}
	if err != nil {
		c.log.Error("mimecast health check failed",
			zap.Int("http_status", status),
			zap.Error(err),
		)
		return false
	}
	return true
}

// post 发送签名后的 JSON 请求，返回响应体与 HTTP 状态码
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.signer.Sign(req, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := failureFromBody(body); msg != "" {
			return nil, resp.StatusCode, fmt.Errorf("unexpected status %s: %s", resp.Status, msg)
		}
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return body, resp.StatusCode, nil
}

func failureFromBody(body []byte) string {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return failureMessage(resp.Fail)
}

func checkFailures(body []byte) error {
	if msg := failureFromBody(body); msg != "" {
		return fmt.Errorf("request rejected: %s", msg)
	}
	return nil
}
