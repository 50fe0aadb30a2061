package httpapi

import (
	"net/http"
	"time"

	"thingsnxt/internal/auth"
	"thingsnxt/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSHandler 观察者 WebSocket 边界
// 连接时用 ?token= 认证（浏览器的 WebSocket API 不能带自定义 Header）
type WSHandler struct {
	registry *ws.Registry
	secret   string
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewWSHandler(registry *ws.Registry, secret string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		secret:   secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP GET /ws?token=<access token>
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, Fail("token required"))
		return
	}
	claims, err := auth.ParseAccessToken(h.secret, token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, Fail("invalid token"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了响应
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := h.registry.Register(claims.UserID, conn)
	go h.readLoop(claims.UserID, client, conn)
	go h.pingLoop(conn)
}

// readLoop 观察者连接是单向推送的，读循环只消费 ping/pong 与关闭帧
func (h *WSHandler) readLoop(userID string, client *ws.Client, conn *websocket.Conn) {
	defer func() {
		h.registry.Unregister(userID, client)
		_ = conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop gorilla 允许 WriteControl 与数据写并发
func (h *WSHandler) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}
