package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"mailaudit/backend/internal/config"
)

const (
	botFrameworkScope = "https://api.botframework.com/.default"
	defaultTenant     = "botframework.com"
	tokenURLFormat    = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// Connector 通过 Bot Connector REST API 发送回复
//
// 配置了 AppID 时使用 client credentials 获取令牌；
// 未配置时直接发送，仅用于本地 Bot Framework Emulator。
// serviceUrl 不在允许列表内时拒绝发送，令牌不会离开可信主机。
type Connector struct {
	client        *http.Client
	policy        *ServiceURLPolicy
	authenticated bool
	log           *zap.Logger
}

// NewConnector 创建连接器
func NewConnector(cfg config.TeamsConfig, timeout time.Duration, log *zap.Logger) *Connector {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = defaultTenant
	}
	return newConnector(cfg, fmt.Sprintf(tokenURLFormat, tenant), &http.Client{Timeout: timeout}, log)
}

func newConnector(cfg config.TeamsConfig, tokenURL string, base *http.Client, log *zap.Logger) *Connector {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("connector")
	policy := NewServiceURLPolicy(cfg.AllowedServiceHosts)

	if cfg.AppID == "" {
		log.Warn("teams app id not configured, replies are sent without authentication")
		return &Connector{client: base, policy: policy, log: log}
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.AppID,
		ClientSecret: cfg.AppPassword,
		TokenURL:     tokenURL,
		Scopes:       []string{botFrameworkScope},
	}

	// 令牌请求与业务请求共用同一个带超时的底层客户端
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = base.Timeout

	return &Connector{client: client, policy: policy, authenticated: true, log: log}
}

// Authenticated 是否使用 Bot Framework 令牌
func (c *Connector) Authenticated() bool {
	return c.authenticated
}

// SendReply 回复到活动所在的会话
func (c *Connector) SendReply(ctx context.Context, to *Activity, reply *Activity) error {
	if !c.policy.Allowed(to.ServiceURL) {
		return fmt.Errorf("%w: %q", ErrServiceURLNotAllowed, to.ServiceURL)
	}

	endpoint, err := replyURL(to)
	if err != nil {
		return err
	}

	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bot connector returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	c.log.Debug("reply sent",
		zap.String("conversation_id", to.Conversation.ID),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}

// replyURL {serviceUrl}/v3/conversations/{id}/activities[/{replyToId}]
func replyURL(to *Activity) (string, error) {
	if to.ServiceURL == "" {
		return "", fmt.Errorf("activity has no serviceUrl")
	}
	if to.Conversation.ID == "" {
		return "", fmt.Errorf("activity has no conversation id")
	}

	base, err := url.Parse(strings.TrimRight(to.ServiceURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid serviceUrl %q", to.ServiceURL)
	}

	endpoint := base.String() + "/v3/conversations/" + url.PathEscape(to.Conversation.ID) + "/activities"
	if to.ID != "" {
		endpoint += "/" + url.PathEscape(to.ID)
	}
	return endpoint, nil
}
