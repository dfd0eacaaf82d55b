package broadcast

import "context"

// Transport 出站：发给单个客户端或整个房间。
// EmitToRoom 对房间内某个成员投递失败时返回错误，调用方据此决定是否留在 outbox 里重试。
type Transport interface {
	Emit(ctx context.Context, clientID string, p Payload) error
	EmitToRoom(ctx context.Context, room string, p Payload) error
}

// 快照提供者：没有注册的提供者对应的房间在同步时直接跳过。

type PlaylistsSnapshotProvider interface {
	PlaylistsSnapshot(ctx context.Context) (any, error)
}

type PlaylistSnapshotProvider interface {
	PlaylistSnapshot(ctx context.Context, playlistID string) (any, error)
}

// SessionSnapshotProvider found=false 表示会话不存在（不算错误）
type SessionSnapshotProvider interface {
	SessionSnapshot(ctx context.Context, assocID string) (snapshot any, found bool, err error)
}

type PlayerStateProvider interface {
	PlayerState(ctx context.Context) (any, error)
}

type Providers struct {
	Playlists PlaylistsSnapshotProvider
	Playlist  PlaylistSnapshotProvider
	Session   SessionSnapshotProvider
	Player    PlayerStateProvider
}

// Exporter 把已发出的广播旁路导出（例如写入 Kafka），不能阻塞调用方
type Exporter interface {
	Export(ev StateEvent)
}

func (p Providers) playlists(ctx context.Context) (any, error) {
	if p.Playlists == nil {
		return nil, ErrNoSnapshotProvider
	}
	return p.Playlists.PlaylistsSnapshot(ctx)
}

func (p Providers) playlist(ctx context.Context, playlistID string) (any, error) {
	if p.Playlist == nil {
		return nil, ErrNoSnapshotProvider
	}
	return p.Playlist.PlaylistSnapshot(ctx, playlistID)
}

func (p Providers) session(ctx context.Context, assocID string) (any, bool, error) {
	if p.Session == nil {
		return nil, false, ErrNoSnapshotProvider
	}
	return p.Session.SessionSnapshot(ctx, assocID)
}
