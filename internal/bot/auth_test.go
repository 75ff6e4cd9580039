package bot

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailaudit/backend/internal/config"
)

const testServiceURL = "https://smba.trafficmanager.net/amer/"

type openIDFixture struct {
	server     *httptest.Server
	key        *rsa.PrivateKey
	keyFetches atomic.Int32
}

func newOpenIDFixture(t *testing.T) *openIDFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &openIDFixture{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openidconfiguration", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"jwks_uri": f.server.URL + "/keys"})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		f.keyFetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *openIDFixture) auth(appID string) *BotFrameworkAuth {
	return NewBotFrameworkAuth(config.TeamsConfig{
		AppID:             appID,
		OpenIDMetadataURL: f.server.URL + "/.well-known/openidconfiguration",
	}, f.server.Client(), zap.NewNop())
}

func validClaims() channelClaims {
	now := time.Now()
	return channelClaims{
		ServiceURL: testServiceURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    botFrameworkIssuer,
			Audience:  jwt.ClaimStrings{"app"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func (f *openIDFixture) sign(t *testing.T, kid string, claims channelClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestBotFrameworkAuth(t *testing.T) {
	f := newOpenIDFixture(t)
	activity := &Activity{Type: ActivityTypeMessage, ServiceURL: testServiceURL}

	t.Run("有效令牌", func(t *testing.T) {
		auth := f.auth("app")
		assert.NoError(t, auth.Authenticate(context.Background(), f.sign(t, "k1", validClaims()), activity))
		assert.NoError(t, auth.Authenticate(context.Background(), f.sign(t, "k1", validClaims()), activity))
	})

	t.Run("公钥按缓存复用", func(t *testing.T) {
		before := f.keyFetches.Load()
		auth := f.auth("app")
		for i := 0; i < 3; i++ {
			require.NoError(t, auth.Authenticate(context.Background(), f.sign(t, "k1", validClaims()), activity))
		}
		assert.Equal(t, before+1, f.keyFetches.Load())
	})

	cases := []struct {
		name   string
		header func(t *testing.T) string
	}{
		{"缺少 Authorization 头", func(t *testing.T) string { return "" }},
		{"非 Bearer 格式", func(t *testing.T) string { return "Basic abc" }},
		{"受众不匹配", func(t *testing.T) string {
			c := validClaims()
			c.Audience = jwt.ClaimStrings{"other-app"}
			return f.sign(t, "k1", c)
		}},
		{"签发者不匹配", func(t *testing.T) string {
			c := validClaims()
			c.Issuer = "https://evil.example.com"
			return f.sign(t, "k1", c)
		}},
		{"令牌已过期", func(t *testing.T) string {
			c := validClaims()
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			return f.sign(t, "k1", c)
		}},
		{"缺少过期时间", func(t *testing.T) string {
			c := validClaims()
			c.ExpiresAt = nil
			return f.sign(t, "k1", c)
		}},
		{"serviceurl 声明与活动不一致", func(t *testing.T) string {
			c := validClaims()
			c.ServiceURL = "https://smba.trafficmanager.net/emea/"
			return f.sign(t, "k1", c)
		}},
		{"未知 kid", func(t *testing.T) string { return f.sign(t, "k2", validClaims()) }},
		{"HS256 签名", func(t *testing.T) string {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
			token.Header["kid"] = "k1"
			signed, err := token.SignedString([]byte("secret"))
			require.NoError(t, err)
			return "Bearer " + signed
		}},
		{"其他密钥签名", func(t *testing.T) string {
			other, err := rsa.GenerateKey(rand.Reader, 2048)
			require.NoError(t, err)
			token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
			token.Header["kid"] = "k1"
			signed, err := token.SignedString(other)
			require.NoError(t, err)
			return "Bearer " + signed
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.auth("app").Authenticate(context.Background(), tc.header(t), activity)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}

	t.Run("serviceUrl 不在允许列表内", func(t *testing.T) {
		c := validClaims()
		c.ServiceURL = "https://attacker.example.com/"
		evil := &Activity{Type: ActivityTypeMessage, ServiceURL: "https://attacker.example.com/"}

		err := f.auth("app").Authenticate(context.Background(), f.sign(t, "k1", c), evil)

		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.ErrorIs(t, err, ErrServiceURLNotAllowed)
	})

	t.Run("未配置 AppID 时仍检查 serviceUrl", func(t *testing.T) {
		auth := f.auth("")

		assert.NoError(t, auth.Authenticate(context.Background(), "", activity))
		err := auth.Authenticate(context.Background(), "", &Activity{ServiceURL: "https://attacker.example.com/"})
		assert.ErrorIs(t, err, ErrServiceURLNotAllowed)
	})
}

func TestSigningKeysRefresh(t *testing.T) {
	f := newOpenIDFixture(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	keys := &signingKeys{
		metadataURL: f.server.URL + "/.well-known/openidconfiguration",
		client:      f.server.Client(),
		now:         func() time.Time { return clock },
	}

	_, err := keys.get(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, int32(1), f.keyFetches.Load())

	t.Run("未知 kid 在重试间隔内不重复拉取", func(t *testing.T) {
		clock = clock.Add(keyRetryInterval)
		_, err := keys.get(context.Background(), "k2")
		assert.Error(t, err)
		_, err = keys.get(context.Background(), "k2")
		assert.Error(t, err)
		assert.Equal(t, int32(2), f.keyFetches.Load())
	})

	t.Run("过期后刷新", func(t *testing.T) {
		clock = clock.Add(keyRefreshInterval)
		_, err := keys.get(context.Background(), "k1")
		require.NoError(t, err)
		assert.Equal(t, int32(3), f.keyFetches.Load())
	})

	t.Run("刷新失败时沿用已有公钥", func(t *testing.T) {
		f.server.Close()
		clock = clock.Add(keyRefreshInterval)
		key, err := keys.get(context.Background(), "k1")
		require.NoError(t, err)
		assert.Zero(t, f.key.N.Cmp(key.N))
	})
}

func TestServiceURLPolicy(t *testing.T) {
	defaults := NewServiceURLPolicy(nil)
	local := NewServiceURLPolicy([]string{"127.0.0.1", "localhost", "bots.example.com"})

	cases := []struct {
		name    string
		policy  *ServiceURLPolicy
		url     string
		allowed bool
	}{
		{"Teams 默认主机", defaults, "https://smba.trafficmanager.net/amer/", true},
		{"botframework 子域名", defaults, "https://europe.webchat.botframework.com/", true},
		{"通配不匹配根域名", defaults, "https://botframework.com/", false},
		{"相似域名", defaults, "https://evilbotframework.com/", false},
		{"后缀拼接域名", defaults, "https://smba.trafficmanager.net.evil.com/", false},
		{"默认策略拒绝 http", defaults, "http://smba.trafficmanager.net/", false},
		{"未列出主机", defaults, "https://attacker.example.com/", false},
		{"带用户信息", defaults, "https://user@smba.trafficmanager.net/", false},
		{"非 http 协议", defaults, "ftp://smba.trafficmanager.net/", false},
		{"空地址", defaults, "", false},
		{"回环地址允许 http", local, "http://127.0.0.1:3978/", true},
		{"localhost 允许 http", local, "http://localhost:3978/", true},
		{"非回环主机不允许 http", local, "http://bots.example.com/", false},
		{"显式主机 https", local, "https://bots.example.com/", true},
		{"大小写不敏感", local, "https://BOTS.example.com/", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.policy.Allowed(tc.url))
		})
	}
}
