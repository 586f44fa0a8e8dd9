package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"storyhub/pkg/events"
	"storyhub/pkg/logger"
	"storyhub/pkg/redis"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client 代表一个WebSocket连接的用户
// UserID: 用户ID
// Conn: WebSocket连接
// Send: 发送消息的通道

type Client struct {
	UserID uint
	Conn   *websocket.Conn
	Send   chan []byte
}

// Manager 管理所有在线用户的WebSocket连接
// 作为事件接收方：在线用户实时推送，离线用户写入 Redis 离线通知

type Manager struct {
	clients map[uint]*Client // 在线用户
	lock    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{clients: make(map[uint]*Client)}
}

// Push 推送给客户端的消息
type Push struct {
	Type      string          `json:"type"`
	ActorID   uint            `json:"actor_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Offline   bool            `json:"offline,omitempty"`
}

// AddClient 添加新连接，同一用户的旧连接被替换
func (m *Manager) AddClient(client *Client) {
	m.lock.Lock()
	if old, ok := m.clients[client.UserID]; ok {
		close(old.Send)
	}
	m.clients[client.UserID] = client
	m.lock.Unlock()

	// 推送Redis中的离线通知
	go m.pushOffline(client)
}

// RemoveClient 移除连接（仅当仍是当前连接时）
func (m *Manager) RemoveClient(client *Client) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if c, ok := m.clients[client.UserID]; ok && c == client {
		close(c.Send)
		delete(m.clients, client.UserID)
	}
}

// IsOnline 判断用户是否在本实例在线
func (m *Manager) IsOnline(userID uint) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.clients[userID]
	return ok
}

// Publish 实现 events.Sink
func (m *Manager) Publish(ctx context.Context, e events.Event) error {
	if len(e.Recipients) == 0 {
		return nil
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	for _, userID := range e.Recipients {
		if userID == e.ActorID {
			continue
		}
		push := Push{Type: e.Type, ActorID: e.ActorID, Data: data, Timestamp: e.At.Unix()}
		if m.send(userID, push) {
			continue
		}
		// 不在线，存储到Redis离线通知
		n := &redis.Notification{Type: e.Type, ActorID: e.ActorID, Data: data, CreatedAt: e.At}
		if err := redis.AddOfflineNotification(ctx, userID, n); err != nil && !errors.Is(err, redis.ErrNotInitialized) {
			logger.Warn("存储离线通知失败", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// send 在线则写入发送通道
func (m *Manager) send(userID uint, push Push) bool {
	msg, err := json.Marshal(push)
	if err != nil {
		return false
	}
	m.lock.RLock()
	defer m.lock.RUnlock()
	client, ok := m.clients[userID]
	if !ok {
		return false
	}
	select {
	case client.Send <- msg:
	default:
		// 发送缓冲已满，丢弃本条
		logger.Warn("推送缓冲已满", zap.Uint("user_id", userID))
	}
	return true
}

// pushOffline 推送离线通知给刚上线的用户
func (m *Manager) pushOffline(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	notifications, err := redis.PopOfflineNotifications(ctx, client.UserID)
	if err != nil {
		return
	}
	for _, n := range notifications {
		push := Push{Type: n.Type, ActorID: n.ActorID, Data: n.Data, Timestamp: n.CreatedAt.Unix(), Offline: true}
		if !m.send(client.UserID, push) {
			return
		}
	}
}
