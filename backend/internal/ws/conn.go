package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

type connOptions struct {
	pingInterval         time.Duration
	timeout              time.Duration
	compressionThreshold int
}

type Conn struct {
	ws *websocket.Conn
	id string
	// 出站队列，元素是已经编码好的帧；满了就丢弃，由 Hub 把失败报告给调用方
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	opt       connOptions
	logger    *slog.Logger
}

func newConn(ws *websocket.Conn, id string, opt connOptions, logger *slog.Logger) *Conn {
	return &Conn{
		ws:     ws,
		id:     id,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		opt:    opt,
		logger: logger.With("client_id", id),
	}
}

func (c *Conn) ID() string { return c.id }

// Enqueue 非阻塞入队；连接已关闭或队列已满返回 false
func (c *Conn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readLoop 阻塞直到连接断开或超时。
// 超过 timeout 没有收到任何消息（包括 pong）就判定客户端掉线。
func (c *Conn) readLoop(ctx context.Context, dispatch func(ctx context.Context, clientID string, raw []byte)) {
	defer c.close()
	c.ws.SetReadLimit(maxMessageSize)
	extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(c.opt.timeout)) }
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket read error", "err", err)
			}
			return
		}
		extend()
		dispatch(ctx, c.id, raw)
	}
}

// writeLoop 唯一的写者：消费出站队列，并按 pingInterval 发送 ping
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opt.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			// 只有超过阈值的帧才压缩，小帧压缩得不偿失
			c.ws.EnableWriteCompression(c.opt.compressionThreshold > 0 && len(b) > c.opt.compressionThreshold)
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Debug("websocket write error", "err", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("websocket ping error", "err", err)
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
