package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jwtpkg "mailaudit/backend/internal/auth/jwt"
	"mailaudit/backend/internal/config"
	"mailaudit/backend/internal/domain"
	"mailaudit/backend/internal/health"
	"mailaudit/backend/internal/monitoring"
	"mailaudit/backend/internal/ratelimit"
	"mailaudit/backend/internal/service"
	"mailaudit/backend/internal/storage/history"
)

const testSecret = "test-secret-key-for-development-32-chars-long"

type fakeAuditor struct {
	ready     bool
	result    *domain.SearchResult
	err       error
	query     string
	requester string
}

func (f *fakeAuditor) Ready() bool { return f.ready }

func (f *fakeAuditor) RunQuery(ctx context.Context, rawText string) (*domain.SearchResult, error) {
	f.query = rawText
	f.requester = service.RequesterFromContext(ctx)
	return f.result, f.err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, error) { return false, nil }

type testEnv struct {
	router  *gin.Engine
	auditor *fakeAuditor
	store   *history.MemoryStore
	jwt     *jwtpkg.Manager
}

func newTestEnv(t *testing.T, limiter ratelimit.Limiter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		auditor: &fakeAuditor{ready: true},
		store:   history.NewMemoryStore(10),
		jwt:     jwtpkg.NewManager(testSecret, "mailaudit", time.Hour),
	}

	checker := health.NewHealthChecker(zap.NewNop())
	checker.AddReadinessCheck("auditor", health.AuditorCheck(func() bool { return env.auditor.Ready() }))

	env.router = NewRouter(RouterDependencies{
		Config:        &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		Auditor:       env.auditor,
		History:       env.store,
		Limiter:       limiter,
		JWTManager:    env.jwt,
		HealthChecker: checker,
		Metrics:       monitoring.NewMetrics(),
		Logger:        zap.NewNop(),
	})
	return env
}

func (e *testEnv) token(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken(subject, scopes, 0)
	require.NoError(t, err)
	return tok.AccessToken
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestStatusEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = env.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"emailAuditor":true`)

	env.auditor.ready = false
	w = env.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"not ready"`)

	w = env.do(http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mailaudit_http_requests_total")
}

func TestQueryEndpoint(t *testing.T) {
	t.Run("未认证", func(t *testing.T) {
		env := newTestEnv(t, nil)

		w := env.do(http.MethodPost, "/v1/audit/query", "", `{"query":"blocked"}`)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("查询成功", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.auditor.result = domain.NewSearchResult("blocked from acme.com", domain.SearchParameters{Status: domain.StatusBlocked, Domain: "acme.com", WindowDays: 7},
			[]domain.EmailRecord{{ID: "m1", Subject: "Hi", Status: domain.StatusBlocked}}, 120*time.Millisecond, time.Now())

		w := env.do(http.MethodPost, "/v1/audit/query", env.token(t, "ops@corp.com", jwtpkg.ScopeQuery), `{"query":"  blocked from acme.com  "}`)

		require.Equal(t, http.StatusOK, w.Code)
		resp := decode(t, w)
		assert.Equal(t, CodeSuccess, resp.Code)
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(1), data["count"])
		assert.Equal(t, "blocked from acme.com", env.auditor.query)
		assert.Equal(t, "ops@corp.com", env.auditor.requester)
	})

	t.Run("空查询", func(t *testing.T) {
		env := newTestEnv(t, nil)

		w := env.do(http.MethodPost, "/v1/audit/query", env.token(t, "ops", jwtpkg.ScopeQuery), `{"query":"   "}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, MsgQueryRequired, decode(t, w).Msg)
	})

	t.Run("查询过长", func(t *testing.T) {
		env := newTestEnv(t, nil)
		body, err := json.Marshal(QueryRequest{Query: strings.Repeat("邮", MaxQueryLength+1)})
		require.NoError(t, err)

		w := env.do(http.MethodPost, "/v1/audit/query", env.token(t, "ops", jwtpkg.ScopeQuery), string(body))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("限流", func(t *testing.T) {
		env := newTestEnv(t, denyAll{})

		w := env.do(http.MethodPost, "/v1/audit/query", env.token(t, "ops", jwtpkg.ScopeQuery), `{"query":"blocked"}`)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Empty(t, env.auditor.query)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"意图无法识别", &domain.QueryError{Query: "hi", Err: &domain.InterpretationError{Kind: domain.InterpretationIntentNotRecognized}}, http.StatusUnprocessableEntity},
		{"未就绪", &domain.QueryError{Query: "hi", Err: &domain.NotReadyError{}}, http.StatusServiceUnavailable},
		{"网关失败", &domain.QueryError{Query: "hi", Err: &domain.GatewayError{Op: "search", StatusCode: 500, Err: errors.New("boom")}}, http.StatusBadGateway},
		{"模型不可用", &domain.QueryError{Query: "hi", Err: &domain.InterpretationError{Kind: domain.InterpretationInfrastructure, Err: errors.New("dial")}}, http.StatusBadGateway},
		{"未知错误", errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.auditor.err = tc.err

			w := env.do(http.MethodPost, "/v1/audit/query", env.token(t, "ops", jwtpkg.ScopeQuery), `{"query":"hi"}`)

			assert.Equal(t, tc.status, w.Code)
			assert.NotContains(t, w.Body.String(), "boom")
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for i, requester := range []string{"alice", "bob", "alice"} {
		require.NoError(t, env.store.Save(ctx, &domain.QueryRecord{
			ID:        string(rune('a' + i)),
			Query:     "q",
			Requester: requester,
			Outcome:   domain.OutcomeSuccess,
			CreatedAt: time.Now(),
		}))
	}
	token := env.token(t, "alice", jwtpkg.ScopeHistory)

	t.Run("全部", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/audit/history", token, "")

		require.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w).Data.(map[string]interface{})
		assert.Equal(t, float64(3), data["count"])
	})

	t.Run("只看自己", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/audit/history?mine=true&limit=1", token, "")

		require.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w).Data.(map[string]interface{})
		assert.Equal(t, float64(1), data["count"])
		records := data["records"].([]interface{})
		assert.Equal(t, "c", records[0].(map[string]interface{})["id"])
	})

	t.Run("无效 limit", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/audit/history?limit=abc", token, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("缺少权限", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/audit/history", env.token(t, "alice", jwtpkg.ScopeQuery), "")

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
