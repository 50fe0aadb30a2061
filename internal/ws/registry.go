package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn 观察者连接的最小写接口；*websocket.Conn 满足它
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client 单个观察者连接（一个用户可同时持有多个，如多个浏览器标签页）
type Client struct {
	UserID string
	conn   Conn
	mu     sync.Mutex // gorilla 的并发写需要调用方串行化
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.conn.Close()
}

// Registry 按用户分组的观察者连接注册表
// 发送失败的连接视为死连接，Broadcast 顺手清理；这是除显式断开外唯一的清理路径
type Registry struct {
	mu     sync.RWMutex
	conns  map[string][]*Client // userID -> connections
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  map[string][]*Client{},
		logger: logger,
	}
}

// Register 登记一个已认证用户的新连接；无上限
func (r *Registry) Register(userID string, conn Conn) *Client {
	c := &Client{UserID: userID, conn: conn}
	r.mu.Lock()
	r.conns[userID] = append(r.conns[userID], c)
	r.mu.Unlock()
	r.logger.Info("observer connected", zap.String("user_id", userID))
	return c
}

// Unregister 移除连接；该用户最后一个连接移除后删除整个桶
func (r *Registry) Unregister(userID string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients, ok := r.conns[userID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			r.conns[userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(r.conns[userID]) == 0 {
		delete(r.conns, userID)
	}
}

// Broadcast 把事件投递给该用户的全部连接
// 没有任何连接时静默返回（观察者不在线不是错误）；写失败的连接被注销并关闭
func (r *Registry) Broadcast(userID string, event any) {
	r.mu.RLock()
	clients := make([]*Client, len(r.conns[userID]))
	copy(clients, r.conns[userID])
	r.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("marshal event failed", zap.Error(err))
		return
	}

	for _, c := range clients {
		if err := c.write(data); err != nil {
			r.logger.Info("dropping dead observer connection",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			r.Unregister(userID, c)
			_ = c.Close()
		}
	}
}

// ConnectionCount 当前连接总数（健康检查用）
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, clients := range r.conns {
		n += len(clients)
	}
	return n
}

// UserCount 当前有连接的用户数
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
