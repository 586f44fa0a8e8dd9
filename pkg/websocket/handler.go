package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"storyhub/config"
	"storyhub/pkg/jwt"
	"storyhub/pkg/redis"
	"storyhub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// Handler /ws 连接处理
type Handler struct {
	manager *Manager
	jwt     *jwt.JWTService
	cfg     config.WebSocketConfig
}

func NewHandler(manager *Manager, jwtService *jwt.JWTService, cfg config.WebSocketConfig) *Handler {
	return &Handler{manager: manager, jwt: jwtService, cfg: cfg}
}

// Serve Gin路由处理函数
func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Sec-WebSocket-Protocol"), "Bearer ")
	}
	if token == "" {
		response.Unauthorized(c, "缺少token")
		return
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "token无效或已过期")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Unauthorized(c, "token无效")
		return
	}

	// 回显子协议，避免客户端提示 "Server sent no subprotocol"
	respHeader := http.Header{}
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		return
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	h.manager.AddClient(client)
	_ = redis.MarkOnline(context.Background(), userID)

	defer func() {
		h.manager.RemoveClient(client)
		_ = redis.MarkOffline(context.Background(), userID)
		_ = conn.Close()
	}()

	// 启动写协程 + 定时发送ping心跳
	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-client.Send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	// 读协程（接收心跳）。若超时未收到任何读事件则断开
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(appData string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &msg); err == nil && msg.Type == "heartbeat" {
			// 刷新用户在线状态（延长TTL）
			_ = redis.MarkOnline(context.Background(), userID)
		}
	}
}
