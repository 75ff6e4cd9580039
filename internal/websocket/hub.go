package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mailaudit/backend/internal/domain"
	"mailaudit/backend/internal/service"
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if slices.Contains(allowedOrigins, "*") {
				return true
			}

			// 没有 Origin 的多为非浏览器客户端
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}

			return slices.Contains(allowedOrigins, requestOrigin)
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeQuery      MessageType = "query_completed"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeSubscribe  MessageType = "subscribe"
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypeError      MessageType = "error"
)

// 订阅范围
const (
	ScopeAll  = "all"  // 所有人的查询
	ScopeMine = "mine" // 仅自己发起的查询
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Scope     string          `json:"scope,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ClientGauge 连接数指标
type ClientGauge interface {
	UpdateWebSocketClients(count int)
}

// Client 代表一个订阅查询推送的连接
type Client struct {
	ID      string
	Subject string // 令牌主体
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	scope   string
	closed  bool
	mu      sync.RWMutex
	log     *zap.Logger
}

// trySend 非阻塞投递，连接已关闭或缓冲已满时返回 false
func (c *Client) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Scope 当前订阅范围
func (c *Client) Scope() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope
}

func (c *Client) wants(event *domain.QueryEvent) bool {
	if c.Scope() == ScopeMine {
		return event.Requester == c.Subject
	}
	return true
}

// Hub 管理所有WebSocket连接并广播查询完成事件
type Hub struct {
	clients        map[string]*Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan domain.QueryEvent
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	gauge          ClientGauge
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
//   - gauge: 连接数指标，可为 nil
//   - log: 日志记录器
func NewHub(allowedOrigins []string, gauge ClientGauge, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan domain.QueryEvent, 256),
		done:           make(chan struct{}),
		log:            log.Named("websocket"),
		allowedOrigins: allowedOrigins,
		gauge:          gauge,
	}
}

// ObserveQuery 把查询事件放入广播队列，队列满时丢弃
func (h *Hub) ObserveQuery(_ context.Context, event domain.QueryEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast queue full, dropping event", zap.String("query", event.Query))
	}
}

// Run 启动Hub，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.updateGauge(count)
			h.log.Info("client registered", zap.String("id", client.ID), zap.String("subject", client.Subject))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.closeSend()
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.updateGauge(count)

		case event := <-h.broadcast:
			h.broadcastEvent(&event)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) updateGauge(count int) {
	if h.gauge != nil {
		h.gauge.UpdateWebSocketClients(count)
	}
}

// broadcastEvent 向订阅范围匹配的客户端推送
func (h *Hub) broadcastEvent(event *domain.QueryEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal query event", zap.Error(err))
		return
	}

	data, err := json.Marshal(&Message{
		Type:      MessageTypeQuery,
		Data:      payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.wants(event) {
			continue
		}
		if !client.trySend(data) {
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送应用层 ping
func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.trySend(data)
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for _, client := range h.clients {
		client.closeSend()
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	h.updateGauge(0)
}

// HandleWebSocket 处理WebSocket连接
//
// 认证由前置的 JWT 中间件完成，这里从请求上下文读取令牌主体。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		subject := service.RequesterFromContext(c.Request.Context())

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:      uuid.New().String(),
			Subject: subject,
			conn:    conn,
			send:    make(chan []byte, 256),
			hub:     hub,
			scope:   ScopeAll,
			log:     hub.log,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			return
		}

		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg.Scope)
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
		c.sendError("unknown message type: " + string(msg.Type))
	}
}

// subscribe 切换订阅范围
func (c *Client) subscribe(scope string) {
	if scope != ScopeAll && scope != ScopeMine {
		c.sendError("scope must be \"all\" or \"mine\"")
		return
	}

	c.mu.Lock()
	c.scope = scope
	c.mu.Unlock()

	c.log.Info("subscription changed",
		zap.String("clientID", c.ID),
		zap.String("subject", c.Subject),
		zap.String("scope", scope))

	c.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		Scope:     scope,
		Timestamp: time.Now(),
	})
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	if !c.trySend(data) {
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}
