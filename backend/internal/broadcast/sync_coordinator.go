package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SyncCoordinator 处理客户端重连后的 sync:request：
// 对比客户端汇报的序号与当前序号，只给落后的房间补发快照。
type SyncCoordinator struct {
	seq       *SequenceAllocator
	subs      subscriptionSource
	providers Providers
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

type subscriptionSource interface {
	Subscriptions(clientID string) []string
}

func NewSyncCoordinator(seq *SequenceAllocator, subs subscriptionSource, providers Providers, transport Transport, logger *slog.Logger) *SyncCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncCoordinator{seq: seq, subs: subs, providers: providers, transport: transport, logger: logger, now: time.Now}
}

// Reconcile 按 playlists、歌单、NFC 会话的顺序逐个房间判断是否需要补发。
// 任一快照拉取或发送失败都会中止，已经发出的快照不回收。
func (c *SyncCoordinator) Reconcile(ctx context.Context, clientID string, req SyncRequest) (SyncComplete, error) {
	rooms := sortRooms(c.subs.Subscriptions(clientID))
	synced := make([]string, 0, len(rooms))

	for _, room := range rooms {
		ev, ok, err := c.snapshotIfStale(ctx, room, req)
		if err != nil {
			return SyncComplete{}, &SnapshotError{Room: room, Err: err}
		}
		if !ok {
			continue
		}
		if err := c.transport.Emit(ctx, clientID, ev); err != nil {
			return SyncComplete{}, &TransportError{Op: "emit", Room: room, ClientID: clientID, Err: err}
		}
		synced = append(synced, room)
	}

	return SyncComplete{CurrentGlobalSeq: c.seq.PeekGlobal(), SyncedRooms: synced}, nil
}

// snapshotIfStale ok=false 表示该房间无需补发（未落后、没有提供者、或会话不存在）
func (c *SyncCoordinator) snapshotIfStale(ctx context.Context, room string, req SyncRequest) (StateEvent, bool, error) {
	kind, id := ParseRoom(room)
	globalSeq := c.seq.PeekGlobal()
	globalStale := req.LastGlobalSeq == nil || globalSeq > *req.LastGlobalSeq

	ev := StateEvent{
		EventID:   uuid.NewString(),
		ServerSeq: globalSeq,
		Room:      room,
		Timestamp: c.now().UnixMilli(),
	}

	var (
		data any
		err  error
	)
	switch kind {
	case RoomKindPlaylists:
		if !globalStale {
			return StateEvent{}, false, nil
		}
		ev.EventType = EventStatePlaylists
		data, err = c.providers.playlists(ctx)

	case RoomKindPlaylist:
		current := c.seq.PeekPlaylist(id)
		last, seen := req.LastPlaylistSeqs[id]
		if seen && current <= last {
			return StateEvent{}, false, nil
		}
		ev.EventType = EventStatePlaylist
		ev.PlaylistID = id
		ev.PlaylistSeq = current
		data, err = c.providers.playlist(ctx, id)

	case RoomKindNFC:
		if !globalStale {
			return StateEvent{}, false, nil
		}
		ev.EventType = EventStateNFCSession
		var found bool
		data, found, err = c.providers.session(ctx, id)
		if err == nil && !found {
			return StateEvent{}, false, nil
		}

	default:
		return StateEvent{}, false, nil
	}

	if errors.Is(err, ErrNoSnapshotProvider) {
		c.logger.Debug("no snapshot provider registered, skip room", "room", room)
		return StateEvent{}, false, nil
	}
	if err != nil {
		return StateEvent{}, false, err
	}
	ev.Data = data
	return ev, true, nil
}
