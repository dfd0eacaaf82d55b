package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"musicboxServer/backend/config"
	"musicboxServer/backend/internal/subscription"

	"github.com/google/uuid"
)

const defaultMaintenanceInterval = 30 * time.Second

type Options struct {
	Config config.SyncConfig
	// Transport 必填；若它同时实现了 subscription.RoomTransport，Rooms 可以不填
	Transport Transport
	Rooms     subscription.RoomTransport
	Presence  subscription.PresenceMirror
	// Sequences 可由外部传入，以便快照缓存等组件共享同一个序号源
	Sequences *SequenceAllocator
	Providers Providers
	Exporter  Exporter
	Logger    *slog.Logger

	MaintenanceInterval time.Duration
	Now                 func() time.Time
}

type EngineStats struct {
	GlobalSeq        uint64             `json:"global_seq"`
	ConnectedClients int                `json:"connected_clients"`
	Subscriptions    subscription.Stats `json:"subscriptions"`
	Outbox           OutboxStats        `json:"outbox"`
	Operations       TrackerStats       `json:"operations"`
}

type MaintenanceReport struct {
	SweptOperations int
	Redelivered     int
	Dropped         int
}

// Engine 服务端权威的状态同步/广播引擎。
// 所有序号都在这里发放；客户端只读序号，用它判断事件先后与是否需要重新同步。
type Engine struct {
	cfg       config.SyncConfig
	seq       *SequenceAllocator
	subs      *subscription.Registry
	ops       *OperationTracker
	outbox    *Outbox
	syncer    *SyncCoordinator
	transport Transport
	providers Providers
	player    PlayerStateProvider
	exporter  Exporter
	logger    *slog.Logger
	now       func() time.Time

	position *positionThrottle
	state    *stateDebouncer

	mu        sync.Mutex
	connected map[string]time.Time

	maintenanceInterval time.Duration
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
}

func NewEngine(opt Options) (*Engine, error) {
	if opt.Transport == nil {
		return nil, errors.New("broadcast: transport is required")
	}
	rooms := opt.Rooms
	if rooms == nil {
		rt, ok := opt.Transport.(subscription.RoomTransport)
		if !ok {
			return nil, errors.New("broadcast: room transport is required")
		}
		rooms = rt
	}
	if err := opt.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	seq := opt.Sequences
	if seq == nil {
		seq = NewSequenceAllocator()
	}
	interval := opt.MaintenanceInterval
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}

	e := &Engine{
		cfg:       opt.Config,
		seq:       seq,
		subs:      subscription.NewRegistry(rooms, opt.Presence, logger.With("component", "subscriptions")),
		transport: opt.Transport,
		providers: opt.Providers,
		exporter:  opt.Exporter,
		logger:    logger,
		now:       now,
		connected: make(map[string]time.Time),

		maintenanceInterval: interval,
	}
	e.ops = NewOperationTracker(opt.Config.DedupWindow(), opt.Config.OperationResultTTL())
	e.ops.now = now
	e.outbox = NewOutbox(OutboxOptions{
		Limit:        opt.Config.OutboxSizeLimit,
		CleanupBatch: opt.Config.OutboxCleanupBatch,
		RetryMax:     opt.Config.OutboxRetryMax,
		DrainBatch:   opt.Config.MaxEventBatchSize,
	}, logger.With("component", "outbox"))
	e.syncer = NewSyncCoordinator(seq, e.subs, opt.Providers, opt.Transport, logger.With("component", "sync"))
	e.syncer.now = now
	e.position = &positionThrottle{interval: opt.Config.PositionThrottleMin(), now: now}
	e.state = &stateDebouncer{delay: opt.Config.PlayerStateDebounce(), flush: e.flushPlayerState}

	// 没有外部播放器状态提供者时，用最近一次广播过的播放器状态应答
	e.player = opt.Providers.Player
	if e.player == nil {
		e.player = e.state
	}
	return e, nil
}

func (e *Engine) Sequences() *SequenceAllocator { return e.seq }

func (e *Engine) Registry() *subscription.Registry { return e.subs }

// Connect 新连接建立：回一条 connection_status，带上当前全局序号
func (e *Engine) Connect(ctx context.Context, clientID string) error {
	e.mu.Lock()
	e.connected[clientID] = e.now()
	e.mu.Unlock()
	e.logger.Debug("client connected", "client_id", clientID)
	return e.emit(ctx, clientID, ConnectionStatus{Status: "connected", SessionID: clientID, ServerSeq: e.seq.PeekGlobal()})
}

// Disconnect 连接断开：退出所有房间。离开房间失败只记日志。
func (e *Engine) Disconnect(ctx context.Context, clientID string) {
	e.mu.Lock()
	delete(e.connected, clientID)
	e.mu.Unlock()
	if err := e.subs.Cleanup(ctx, clientID); err != nil {
		e.logger.Warn("disconnect cleanup incomplete", "client_id", clientID, "err", err)
	}
	e.logger.Debug("client disconnected", "client_id", clientID)
}

func (e *Engine) Ping(ctx context.Context, clientID string, req PingRequest) error {
	e.mu.Lock()
	if _, ok := e.connected[clientID]; ok {
		e.connected[clientID] = e.now()
	}
	e.mu.Unlock()
	return e.emit(ctx, clientID, ClientPong{
		Timestamp:  req.Timestamp,
		ServerTime: e.now().UnixMilli(),
		ServerSeq:  e.seq.PeekGlobal(),
	})
}

func (e *Engine) JoinPlaylists(ctx context.Context, clientID string, req RoomRequest) error {
	return e.once(ctx, clientID, req.ClientOpID, func() (Payload, error) {
		if err := e.subscribe(ctx, clientID, RoomPlaylists); err != nil {
			return nil, err
		}
		return JoinAck{Room: RoomPlaylists, Success: true, ServerSeq: u64(e.seq.PeekGlobal())}, nil
	})
}

func (e *Engine) JoinPlaylist(ctx context.Context, clientID string, req JoinPlaylistRequest) error {
	if req.PlaylistID == "" {
		return invalid("playlist_id", ErrMissingPlaylistID)
	}
	room := PlaylistRoom(req.PlaylistID)
	return e.once(ctx, clientID, req.ClientOpID, func() (Payload, error) {
		if err := e.subscribe(ctx, clientID, room); err != nil {
			return nil, err
		}
		return JoinAck{
			Room:        room,
			Success:     true,
			PlaylistID:  req.PlaylistID,
			ServerSeq:   u64(e.seq.PeekGlobal()),
			PlaylistSeq: u64(e.seq.PeekPlaylist(req.PlaylistID)),
		}, nil
	})
}

// JoinNFC 加入 NFC 绑定会话房间；会话存在时先下发一次会话快照，再回 ack
func (e *Engine) JoinNFC(ctx context.Context, clientID string, req JoinNFCRequest) error {
	if req.AssocID == "" {
		return invalid("assoc_id", ErrMissingAssocID)
	}
	room := NFCRoom(req.AssocID)
	return e.once(ctx, clientID, req.ClientOpID, func() (Payload, error) {
		if err := e.subscribe(ctx, clientID, room); err != nil {
			return nil, err
		}
		e.sendSessionSnapshot(ctx, clientID, req.AssocID)
		return JoinAck{Room: room, Success: true}, nil
	})
}

func (e *Engine) LeavePlaylists(ctx context.Context, clientID string, req RoomRequest) error {
	return e.leave(ctx, clientID, RoomPlaylists, "", req.ClientOpID)
}

func (e *Engine) LeavePlaylist(ctx context.Context, clientID string, req JoinPlaylistRequest) error {
	if req.PlaylistID == "" {
		return invalid("playlist_id", ErrMissingPlaylistID)
	}
	return e.leave(ctx, clientID, PlaylistRoom(req.PlaylistID), req.PlaylistID, req.ClientOpID)
}

func (e *Engine) LeaveNFC(ctx context.Context, clientID string, req JoinNFCRequest) error {
	if req.AssocID == "" {
		return invalid("assoc_id", ErrMissingAssocID)
	}
	return e.leave(ctx, clientID, NFCRoom(req.AssocID), "", req.ClientOpID)
}

// Sync 处理 sync:request。快照失败时回 sync:error，不向上返回错误。
func (e *Engine) Sync(ctx context.Context, clientID string, req SyncRequest) error {
	done, err := e.syncer.Reconcile(ctx, clientID, req)
	if err != nil {
		e.logger.Warn("sync request failed", "client_id", clientID, "err", err)
		return e.emit(ctx, clientID, SyncError{Error: "snapshot_failed", Message: err.Error()})
	}
	e.logger.Debug("sync request complete", "client_id", clientID, "synced_rooms", done.SyncedRooms)
	return e.emit(ctx, clientID, done)
}

// RequestCurrentState 直接下发播放器状态，不消耗序号
func (e *Engine) RequestCurrentState(ctx context.Context, clientID string) error {
	state, err := e.player.PlayerState(ctx)
	if err != nil {
		return err
	}
	return e.emit(ctx, clientID, e.snapshotEvent(EventStatePlayer, RoomPlaylists, state))
}

// RequestInitialState 首次进入页面：歌单列表 + 播放器状态，缺哪个就跳过哪个
func (e *Engine) RequestInitialState(ctx context.Context, clientID string) error {
	sent := 0
	if lists, err := e.providers.playlists(ctx); err == nil {
		if err := e.emit(ctx, clientID, e.snapshotEvent(EventStatePlaylists, RoomPlaylists, lists)); err != nil {
			return err
		}
		sent++
	} else if !errors.Is(err, ErrNoSnapshotProvider) {
		return err
	}
	if state, err := e.player.PlayerState(ctx); err == nil {
		if err := e.emit(ctx, clientID, e.snapshotEvent(EventStatePlayer, RoomPlaylists, state)); err != nil {
			return err
		}
		sent++
	}
	if sent == 0 {
		return ErrNoSnapshotProvider
	}
	return nil
}

// Broadcast 给事件盖上序号后发往房间。
// 发往 playlist:{id} 房间的事件同时推进该歌单的序号。
// 投递失败不会返回给调用方：事件留在 outbox 里等维护任务重试，客户端也可以靠 sync:request 补齐。
// 序号在分配器的锁内发放，但发送在锁外进行：并发广播时成员可能先收到 44 再收到 43，
// 客户端按 server_seq（歌单房间按 playlist_seq）排序，丢弃不大于已处理序号的事件。
func (e *Engine) Broadcast(ctx context.Context, eventType string, data any, room string) (StateEvent, error) {
	if eventType == "" {
		return StateEvent{}, invalid("event_type", ErrMissingEventType)
	}
	if room == "" {
		return StateEvent{}, invalid("room", ErrMissingRoom)
	}

	now := e.now()
	ev := StateEvent{
		EventType: eventType,
		EventID:   uuid.NewString(),
		Room:      room,
		Timestamp: now.UnixMilli(),
		Data:      data,
	}
	if kind, id := ParseRoom(room); kind == RoomKindPlaylist {
		ev.ServerSeq, ev.PlaylistSeq = e.seq.nextScoped(id)
		ev.PlaylistID = id
	} else {
		ev.ServerSeq = e.seq.NextGlobal()
	}

	e.outbox.Enqueue(ev, room, now)
	if err := e.transport.EmitToRoom(ctx, room, ev); err != nil {
		e.outbox.Release(ev.ServerSeq)
		e.logger.Warn("broadcast delivery incomplete, kept in outbox",
			"err", &TransportError{Op: "emit_room", Room: room, Err: err}, "server_seq", ev.ServerSeq)
	} else {
		e.outbox.Confirm(ev.ServerSeq)
	}

	if e.exporter != nil {
		e.exporter.Export(ev)
	}
	return ev, nil
}

// BroadcastPosition 播放进度广播；距上一次放行不足 POSITION_THROTTLE_MIN_MS 的直接丢弃并返回 false
func (e *Engine) BroadcastPosition(ctx context.Context, position any) bool {
	if !e.position.allow() {
		return false
	}
	_, err := e.Broadcast(ctx, EventPositionUpdate, position, RoomPlaylists)
	return err == nil
}

// BroadcastPlayerState 播放器状态广播，按 PLAYER_STATE_DEBOUNCE_MS 防抖
func (e *Engine) BroadcastPlayerState(state any) {
	e.state.push(state)
}

func (e *Engine) flushPlayerState(state any) {
	if _, err := e.Broadcast(context.Background(), EventPlayerState, state, RoomPlaylists); err != nil {
		e.logger.Warn("player state broadcast failed", "err", err)
	}
}

// Acknowledge 回复发起操作的客户端；ack 本身也消耗一个全局序号
func (e *Engine) Acknowledge(ctx context.Context, clientID, clientOpID string, success bool, data any) error {
	seq := e.seq.NextGlobal()
	return e.emit(ctx, clientID, OperationAck{ClientOpID: clientOpID, Success: success, Data: data, ServerSeq: seq})
}

// Execute 带去重地执行一次客户端操作。
// opID 为空时不去重；窗口内重复的 opID 不再执行，直接返回缓存的结果（duplicate=true）；
// 同一个 opID 正在执行时返回 ErrOperationInFlight；执行失败（包括 panic）会撤销占位，允许重试。
func (e *Engine) Execute(ctx context.Context, opID string, fn func(context.Context) (any, error)) (result any, duplicate bool, err error) {
	if opID == "" {
		result, err = fn(ctx)
		return result, false, err
	}
	switch state, cached := e.ops.Claim(opID); state {
	case ClaimDuplicate:
		return cached, true, nil
	case ClaimInFlight:
		return nil, false, ErrOperationInFlight
	}
	completed := false
	defer func() {
		if !completed {
			e.ops.Release(opID)
		}
	}()
	result, err = fn(ctx)
	if err != nil {
		return nil, false, err
	}
	e.ops.Complete(opID, result)
	completed = true
	return result, false, nil
}

// Reject 把处理入站事件时的错误转成 error 帧发回客户端
func (e *Engine) Reject(ctx context.Context, clientID, event string, err error) {
	reply := errorReply(event, err)
	if reply.Code == "internal_error" {
		e.logger.Error("client event failed", "client_id", clientID, "event", event, "err", err)
	} else {
		e.logger.Debug("client event rejected", "client_id", clientID, "event", event, "code", reply.Code, "err", err)
	}
	if emitErr := e.emit(ctx, clientID, reply); emitErr != nil {
		e.logger.Debug("error reply not delivered", "client_id", clientID, "err", emitErr)
	}
}

// Start 启动后台维护任务（去重表清理、outbox 重投），直到 ctx 结束或 Stop
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.RunMaintenance(ctx)
			}
		}
	}()
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.state.stop()
}

func (e *Engine) RunMaintenance(ctx context.Context) MaintenanceReport {
	var r MaintenanceReport
	r.SweptOperations = e.ops.Sweep()
	r.Redelivered, r.Dropped = e.outbox.Drain(ctx, func(ctx context.Context, entry *OutboxEntry) error {
		return e.transport.EmitToRoom(ctx, entry.Room, entry.Event)
	})
	if r.SweptOperations > 0 || r.Redelivered > 0 || r.Dropped > 0 {
		e.logger.Debug("maintenance pass", "swept", r.SweptOperations, "redelivered", r.Redelivered, "dropped", r.Dropped)
	}
	return r
}

func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	connected := len(e.connected)
	e.mu.Unlock()
	return EngineStats{
		GlobalSeq:        e.seq.PeekGlobal(),
		ConnectedClients: connected,
		Subscriptions:    e.subs.Stats(),
		Outbox:           e.outbox.Stats(),
		Operations:       e.ops.Stats(),
	}
}

func (e *Engine) leave(ctx context.Context, clientID, room, playlistID, opID string) error {
	return e.once(ctx, clientID, opID, func() (Payload, error) {
		if err := e.subs.Unsubscribe(ctx, clientID, room); err != nil {
			return nil, &TransportError{Op: "leave", Room: room, ClientID: clientID, Err: err}
		}
		return LeaveAck{Room: room, Success: true, PlaylistID: playlistID}, nil
	})
}

func (e *Engine) subscribe(ctx context.Context, clientID, room string) error {
	if err := e.subs.Subscribe(ctx, clientID, room); err != nil {
		return &TransportError{Op: "join", Room: room, ClientID: clientID, Err: err}
	}
	return nil
}

// once 入站事件的去重：重复的 client_op_id 只重放缓存的 ack，不再执行
func (e *Engine) once(ctx context.Context, clientID, opID string, fn func() (Payload, error)) error {
	res, _, err := e.Execute(ctx, opID, func(context.Context) (any, error) { return fn() })
	if errors.Is(err, ErrOperationInFlight) {
		e.logger.Debug("duplicate operation still in flight, ignored", "client_id", clientID, "op_id", opID)
		return nil
	}
	if err != nil {
		return err
	}
	p, ok := res.(Payload)
	if !ok {
		return fmt.Errorf("operation %s produced %T, not a reply", opID, res)
	}
	return e.emit(ctx, clientID, p)
}

func (e *Engine) sendSessionSnapshot(ctx context.Context, clientID, assocID string) {
	session, found, err := e.providers.session(ctx, assocID)
	switch {
	case errors.Is(err, ErrNoSnapshotProvider), err == nil && !found:
		return
	case err != nil:
		e.logger.Warn("nfc session snapshot failed", "assoc_id", assocID, "err", err)
		return
	}
	if err := e.emit(ctx, clientID, e.snapshotEvent(EventStateNFCSession, NFCRoom(assocID), session)); err != nil {
		e.logger.Warn("nfc session snapshot not delivered", "client_id", clientID, "err", err)
	}
}

// snapshotEvent 直接下发的快照带上当前序号，但不分配新序号
func (e *Engine) snapshotEvent(eventType, room string, data any) StateEvent {
	return StateEvent{
		EventType: eventType,
		EventID:   uuid.NewString(),
		ServerSeq: e.seq.PeekGlobal(),
		Room:      room,
		Timestamp: e.now().UnixMilli(),
		Data:      data,
	}
}

func (e *Engine) emit(ctx context.Context, clientID string, p Payload) error {
	if err := e.transport.Emit(ctx, clientID, p); err != nil {
		return &TransportError{Op: "emit", ClientID: clientID, Err: err}
	}
	return nil
}
