package bot

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"mailaudit/backend/internal/config"
)

// Bot Framework 渠道令牌的签发者
const botFrameworkIssuer = "https://api.botframework.com"

const (
	keyRefreshInterval = 24 * time.Hour
	keyRetryInterval   = 5 * time.Minute
	clockSkew          = 5 * time.Minute
)

var (
	// ErrUnauthorized 入站活动未通过校验
	ErrUnauthorized = errors.New("unauthorized activity")
	// ErrServiceURLNotAllowed serviceUrl 不在允许列表内
	ErrServiceURLNotAllowed = errors.New("serviceUrl not allowed")
)

// Authenticator 校验入站活动
type Authenticator interface {
	Authenticate(ctx context.Context, authHeader string, activity *Activity) error
}

// channelClaims Bot Framework 渠道令牌声明
type channelClaims struct {
	ServiceURL string `json:"serviceurl"`
	jwt.RegisteredClaims
}

// BotFrameworkAuth 校验 Bot Framework 渠道签发的 JWT
//
// 签名密钥来自 OpenID 元数据中的 jwks_uri，按天刷新，遇到未知 kid 时提前刷新。
// 未配置 AppID 时只检查 serviceUrl，用于本地 Emulator。
type BotFrameworkAuth struct {
	appID  string
	policy *ServiceURLPolicy
	keys   *signingKeys
	log    *zap.Logger
}

// NewBotFrameworkAuth 创建入站校验器
func NewBotFrameworkAuth(cfg config.TeamsConfig, client *http.Client, log *zap.Logger) *BotFrameworkAuth {
	if log == nil {
		log = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	log = log.Named("bot_auth")
	if cfg.AppID == "" {
		log.Warn("teams app id not configured, inbound activities are not authenticated")
	}

	return &BotFrameworkAuth{
		appID:  cfg.AppID,
		policy: NewServiceURLPolicy(cfg.AllowedServiceHosts),
		keys: &signingKeys{
			metadataURL: cfg.OpenIDMetadataURL,
			client:      client,
			now:         time.Now,
		},
		log: log,
	}
}

// Authenticate 校验 Authorization 头与活动的 serviceUrl
func (a *BotFrameworkAuth) Authenticate(ctx context.Context, authHeader string, activity *Activity) error {
	if activity.ServiceURL != "" && !a.policy.Allowed(activity.ServiceURL) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, ErrServiceURLNotAllowed)
	}
	if a.appID == "" {
		return nil
	}

	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	claims := &channelClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims,
		func(token *jwt.Token) (interface{}, error) {
			kid, _ := token.Header["kid"].(string)
			return a.keys.get(ctx, kid)
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(botFrameworkIssuer),
		jwt.WithAudience(a.appID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if claims.ServiceURL != "" && !sameServiceURL(claims.ServiceURL, activity.ServiceURL) {
		return fmt.Errorf("%w: serviceUrl does not match token", ErrUnauthorized)
	}
	return nil
}

func sameServiceURL(a, b string) bool {
	return strings.EqualFold(strings.TrimRight(a, "/"), strings.TrimRight(b, "/"))
}

// signingKeys OpenID 签名公钥缓存
type signingKeys struct {
	metadataURL string
	client      *http.Client
	now         func() time.Time

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
}

func (k *signingKeys) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if kid == "" {
		return nil, errors.New("token has no kid")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	key, known := k.keys[kid]
	stale := now.Sub(k.fetchedAt) >= keyRefreshInterval
	if known && !stale {
		return key, nil
	}

	if now.Sub(k.attemptedAt) >= keyRetryInterval {
		k.attemptedAt = now
		keys, err := k.fetch(ctx)
		switch {
		case err == nil:
			k.keys, k.fetchedAt = keys, now
			key, known = keys[kid]
		case !known:
			return nil, fmt.Errorf("fetch signing keys: %w", err)
		}
	}

	if !known {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (k *signingKeys) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	var metadata struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := k.getJSON(ctx, k.metadataURL, &metadata); err != nil {
		return nil, fmt.Errorf("openid metadata: %w", err)
	}
	if metadata.JWKSURI == "" {
		return nil, errors.New("openid metadata has no jwks_uri")
	}

	var set struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := k.getJSON(ctx, metadata.JWKSURI, &set); err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		pub, err := rsaPublicKey(jwk.N, jwk.E)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no usable RSA keys")
	}
	return keys, nil
}

func (k *signingKeys) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

func rsaPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	exp := new(big.Int).SetBytes(eb)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}
