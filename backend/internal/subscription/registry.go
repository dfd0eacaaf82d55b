package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// RoomTransport 连接层的房间准入/移出，由 ws.Hub 实现
type RoomTransport interface {
	JoinRoom(ctx context.Context, clientID, room string) error
	LeaveRoom(ctx context.Context, clientID, room string) error
}

// PresenceMirror 把房间成员关系镜像到外部存储（例如 Redis），失败只记日志
type PresenceMirror interface {
	AddMember(ctx context.Context, room, clientID string) error
	RemoveMember(ctx context.Context, room, clientID string) error
}

type Stats struct {
	TotalClients       int            `json:"total_clients"`
	TotalSubscriptions int            `json:"total_subscriptions"`
	Rooms              map[string]int `json:"rooms"`
}

// Registry 记录每个客户端订阅了哪些房间（以及反向索引），并驱动连接层加入/离开房间。
// 锁只保护内存中的两张表，调用连接层时不持锁。
type Registry struct {
	mu sync.RWMutex
	// clientID -> set of rooms
	clients map[string]map[string]struct{}
	// room -> set of clientIDs
	rooms map[string]map[string]struct{}

	transport RoomTransport
	presence  PresenceMirror
	logger    *slog.Logger
}

func NewRegistry(transport RoomTransport, presence PresenceMirror, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients:   make(map[string]map[string]struct{}),
		rooms:     make(map[string]map[string]struct{}),
		transport: transport,
		presence:  presence,
		logger:    logger,
	}
}

// Subscribe 幂等：已经在房间里就直接返回。连接层拒绝时不记录成员关系。
func (r *Registry) Subscribe(ctx context.Context, clientID, room string) error {
	if r.has(clientID, room) {
		return nil
	}
	if err := r.transport.JoinRoom(ctx, clientID, room); err != nil {
		return fmt.Errorf("join room %s: %w", room, err)
	}

	r.mu.Lock()
	if r.clients[clientID] == nil {
		r.clients[clientID] = make(map[string]struct{})
	}
	r.clients[clientID][room] = struct{}{}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][clientID] = struct{}{}
	r.mu.Unlock()

	r.mirrorAdd(ctx, room, clientID)
	return nil
}

// Unsubscribe 不指定房间时退出该客户端的全部房间。
// 成员关系先从表里删掉，连接层的失败合并后返回。
func (r *Registry) Unsubscribe(ctx context.Context, clientID string, rooms ...string) error {
	r.mu.Lock()
	if len(rooms) == 0 {
		for room := range r.clients[clientID] {
			rooms = append(rooms, room)
		}
	}
	removed := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if r.removeLocked(clientID, room) {
			removed = append(removed, room)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, room := range removed {
		if err := r.transport.LeaveRoom(ctx, clientID, room); err != nil {
			errs = append(errs, fmt.Errorf("leave room %s: %w", room, err))
		}
		r.mirrorRemove(ctx, room, clientID)
	}
	return errors.Join(errs...)
}

// Cleanup 断线时调用：尽力退出所有房间，单个房间失败不影响其他房间
func (r *Registry) Cleanup(ctx context.Context, clientID string) error {
	err := r.Unsubscribe(ctx, clientID)
	if err != nil {
		r.logger.Warn("cleanup left some rooms with errors", "client_id", clientID, "err", err)
	}
	r.mu.Lock()
	delete(r.clients, clientID)
	r.mu.Unlock()
	return err
}

// Subscriptions 返回按名字排序的房间列表（副本）
func (r *Registry) Subscriptions(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients[clientID]))
	for room := range r.clients[clientID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsSubscribed(clientID, room string) bool {
	return r.has(clientID, room)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Rooms: make(map[string]int, len(r.rooms))}
	for _, rooms := range r.clients {
		if len(rooms) == 0 {
			continue
		}
		s.TotalClients++
		s.TotalSubscriptions += len(rooms)
	}
	for room, members := range r.rooms {
		s.Rooms[room] = len(members)
	}
	return s
}

func (r *Registry) has(clientID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[clientID][room]
	return ok
}

func (r *Registry) removeLocked(clientID, room string) bool {
	rooms, ok := r.clients[clientID]
	if !ok {
		return false
	}
	if _, ok := rooms[room]; !ok {
		return false
	}
	delete(rooms, room)
	if len(rooms) == 0 {
		delete(r.clients, clientID)
	}
	if members, ok := r.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	return true
}

func (r *Registry) mirrorAdd(ctx context.Context, room, clientID string) {
	if r.presence == nil {
		return
	}
	if err := r.presence.AddMember(ctx, room, clientID); err != nil {
		r.logger.Warn("presence mirror add failed", "room", room, "client_id", clientID, "err", err)
	}
}

func (r *Registry) mirrorRemove(ctx context.Context, room, clientID string) {
	if r.presence == nil {
		return
	}
	if err := r.presence.RemoveMember(ctx, room, clientID); err != nil {
		r.logger.Warn("presence mirror remove failed", "room", room, "client_id", clientID, "err", err)
	}
}
