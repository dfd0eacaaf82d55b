package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"musicboxServer/backend/internal/broadcast"
)

var (
	ErrUnknownClient  = errors.New("UNKNOWN_CLIENT")
	ErrSendBufferFull = errors.New("SEND_BUFFER_FULL")
)

// outboundFrame 线上帧格式：{"event": "...", "data": {...}}
type outboundFrame struct {
	Event string            `json:"event"`
	Data  broadcast.Payload `json:"data"`
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeFrame(p broadcast.Payload) ([]byte, error) {
	return json.Marshal(outboundFrame{Event: p.Event(), Data: p})
}

// Hub 连接与房间的内存索引，实现 broadcast.Transport 与 subscription.RoomTransport。
// 发送只是把编码好的帧放进每个连接的缓冲队列，真正的写出由各连接的 writeLoop 完成。
type Hub struct {
	// 读写锁保护下面两个 map；加入/离开房间、广播时都会先加锁
	mu sync.RWMutex
	// clientID -> connection
	conns map[string]*Conn
	// room -> set of connections
	rooms  map[string]map[*Conn]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[*Conn]struct{}),
		logger: logger,
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

// Unregister 移除连接，并把它从所有房间里摘掉
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
	}
	for room, conns := range h.rooms {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) JoinRoom(_ context.Context, clientID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[clientID]
	if !ok {
		return ErrUnknownClient
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][c] = struct{}{}
	return nil
}

func (h *Hub) LeaveRoom(_ context.Context, clientID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[clientID]
	if !ok {
		return ErrUnknownClient
	}
	if conns, ok := h.rooms[room]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	return nil
}

func (h *Hub) Emit(_ context.Context, clientID string, p broadcast.Payload) error {
	h.mu.RLock()
	c, ok := h.conns[clientID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	b, err := encodeFrame(p)
	if err != nil {
		return err
	}
	if !c.Enqueue(b) {
		return ErrSendBufferFull
	}
	return nil
}

// EmitToRoom 帧只编码一次；任何一个成员的队列已满都会返回错误，
// 此时其他成员可能已经收到，客户端按序号丢弃重复事件。
func (h *Hub) EmitToRoom(_ context.Context, room string, p broadcast.Payload) error {
	b, err := encodeFrame(p)
	if err != nil {
		return err
	}

	// 先拷贝一份成员快照，写队列时不持锁
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	failed := 0
	for _, c := range members {
		if !c.Enqueue(b) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d members in %s", ErrSendBufferFull, failed, len(members), room)
	}
	return nil
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
