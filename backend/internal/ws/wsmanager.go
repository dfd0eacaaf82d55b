package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"musicboxServer/backend/config"
	"musicboxServer/backend/internal/broadcast"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 允许本地开发环境以及同一局域网内设备页面的来源
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
		"http://192.168.",
		"http://10.",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	// 同源
	return strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host
}

type Manager struct {
	hub        *Hub
	engine     *broadcast.Engine
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	opt        connOptions
	logger     *slog.Logger
}

func NewManager(hub *Hub, engine *broadcast.Engine, cfg config.SyncConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		hub:        hub,
		engine:     engine,
		dispatcher: NewDispatcher(engine, logger.With("component", "dispatcher")),
		upgrader: websocket.Upgrader{
			CheckOrigin:       checkOrigin,
			EnableCompression: true,
		},
		opt: connOptions{
			pingInterval:         cfg.ClientPingInterval(),
			timeout:              cfg.ClientTimeout(),
			compressionThreshold: cfg.CompressPayloadsOverBytes,
		},
		logger: logger,
	}
}

// WebSocketConnect 升级连接并阻塞到连接断开
func (m *Manager) WebSocketConnect(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade error", "err", err, "origin", c.Request.Header.Get("Origin"))
		return
	}

	sid := uuid.NewString()
	wsConn := newConn(conn, sid, m.opt, m.logger)
	m.hub.Register(wsConn)
	defer func() {
		// 先退房间再注销连接，保证 LeaveRoom 还能找到这个连接
		m.engine.Disconnect(context.Background(), sid)
		m.hub.Unregister(wsConn)
		wsConn.close()
	}()

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()

	ctx := c.Request.Context()
	m.logger.Info("client connected", "client_id", sid, "user_id", c.GetUint64("userId"), "remote", c.ClientIP())
	if err := m.engine.Connect(ctx, sid); err != nil {
		m.logger.Warn("connection status not delivered", "client_id", sid, "err", err)
	}

	// 最后进入读循环（阻塞至连接关闭）
	wsConn.readLoop(ctx, m.dispatcher.Dispatch)
	m.logger.Info("client disconnected", "client_id", sid)
}
