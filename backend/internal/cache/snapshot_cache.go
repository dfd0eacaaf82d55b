package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"musicboxServer/backend/internal/broadcast"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	BaseSnapshotTTL = 10 * time.Minute // 基础过期时间
	Jitter          = time.Minute      // 随机抖动范围
)

// 获取随机TTL，防止缓存雪崩
func getRandomTTL() time.Duration {
	return BaseSnapshotTTL + time.Duration(rand.Int63n(int64(Jitter)))
}

type playlistSeqSource interface {
	PeekPlaylist(playlistID string) uint64
}

// SnapshotCache 歌单快照的读穿缓存：Singleflight 合并并发回源 + Redis 缓存。
// 键里带着歌单序号，歌单一有广播，旧快照就自然失效。
// 序号每次启动都从 0 开始，所以键里还带着本实例的 epoch，上一个进程写下的快照不会被命中。
// rdb 为空时只做 Singleflight。
type SnapshotCache struct {
	rdb    redis.UniversalClient
	epoch  string
	source broadcast.PlaylistSnapshotProvider
	seqs   playlistSeqSource
	sf     singleflight.Group
	logger *slog.Logger
}

var _ broadcast.PlaylistSnapshotProvider = (*SnapshotCache)(nil)

func NewSnapshotCache(rdb redis.UniversalClient, source broadcast.PlaylistSnapshotProvider, seqs playlistSeqSource, logger *slog.Logger) *SnapshotCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotCache{rdb: rdb, epoch: uuid.NewString(), source: source, seqs: seqs, logger: logger}
}

func (c *SnapshotCache) PlaylistSnapshot(ctx context.Context, playlistID string) (any, error) {
	key := c.key(playlistID)
	// 使用 Singleflight 包裹整个流程
	v, err, _ := c.sf.Do(key, func() (any, error) {
		if cached, hit := c.readCache(ctx, key); hit {
			return cached, nil
		}

		// 回源 (Redis Miss)
		snap, err := c.source.PlaylistSnapshot(ctx, playlistID)
		if err != nil {
			return nil, err
		}
		c.writeCache(ctx, key, snap)
		return snap, nil
	})
	return v, err
}

func (c *SnapshotCache) key(playlistID string) string {
	return snapshotKey(c.epoch, playlistID, c.seqs.PeekPlaylist(playlistID))
}

// readCache Redis 出错时当作未命中，不影响回源
func (c *SnapshotCache) readCache(ctx context.Context, key string) (json.RawMessage, bool) {
	if c.rdb == nil {
		return nil, false
	}
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("snapshot cache read failed", "key", key, "err", err)
		}
		return nil, false
	}
	return json.RawMessage(b), true
}

func (c *SnapshotCache) writeCache(ctx context.Context, key string, snap any) {
	if c.rdb == nil {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("snapshot not cacheable", "key", key, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, key, b, getRandomTTL()).Err(); err != nil {
		c.logger.Warn("snapshot cache write failed", "key", key, "err", err)
	}
}
