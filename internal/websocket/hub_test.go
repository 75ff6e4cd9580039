package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
	"mailaudit/backend/internal/service"
)

type gaugeRecorder struct {
	mu    sync.Mutex
	count int
}

func (g *gaugeRecorder) UpdateWebSocketClients(count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count = count
}

func (g *gaugeRecorder) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func startHub(t *testing.T, gauge ClientGauge) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub([]string{"http://allowed.example"}, gauge, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	router := gin.New()
	router.GET("/feed", func(c *gin.Context) {
		subject := c.Query("as")
		c.Request = c.Request.WithContext(service.WithRequester(c.Request.Context(), subject, service.ChannelAPI))
		c.Next()
	}, HandleWebSocket(hub))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/feed"
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubBroadcastsQueryEvents(t *testing.T) {
	gauge := &gaugeRecorder{}
	hub, url := startHub(t, gauge)
	conn := dial(t, url+"?as=alice")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, gauge.value())

	hub.ObserveQuery(context.Background(), domain.QueryEvent{
		Query:     "blocked from acme.com",
		Requester: "bob",
		Count:     3,
		Outcome:   domain.OutcomeSuccess,
	})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeQuery, msg.Type)

	var event domain.QueryEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "blocked from acme.com", event.Query)
	assert.Equal(t, 3, event.Count)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, gauge.value())
}

func TestHubScopeMine(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url+"?as=alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Scope: ScopeMine}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, ScopeMine, ack.Scope)

	hub.ObserveQuery(context.Background(), domain.QueryEvent{Query: "from bob", Requester: "bob"})
	hub.ObserveQuery(context.Background(), domain.QueryEvent{Query: "from alice", Requester: "alice"})

	msg := readMessage(t, conn)
	var event domain.QueryEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "from alice", event.Query)
}

func TestHubRejectsInvalidScope(t *testing.T) {
	hub, url := startHub(t, nil)
	conn := dial(t, url+"?as=alice")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Scope: "everyone"}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, msg.Error, "scope")
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t, nil)

	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := gorilla.DefaultDialer.Dial(url, header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}
