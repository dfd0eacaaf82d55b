package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RoomPresence 把房间成员关系镜像到 Redis，供运维查看或其他进程读取。
// 内存里的订阅表才是权威数据，这里只是副本。
type RoomPresence struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRoomPresence(rdb redis.UniversalClient, ttl time.Duration) *RoomPresence {
	return &RoomPresence{rdb: rdb, ttl: ttl}
}

func (p *RoomPresence) AddMember(ctx context.Context, room, clientID string) error {
	// 刷新 TTL 也直接调用 AddMember 即可
	tx := p.rdb.TxPipeline()
	tx.SAdd(ctx, roomMembersKey(room), clientID)
	tx.SAdd(ctx, roomsKey(), room)
	if p.ttl > 0 {
		tx.Expire(ctx, roomMembersKey(room), p.ttl)
	}
	_, err := tx.Exec(ctx)
	return err
}

var removeMemberScript = redis.NewScript(`
-- KEYS[1] = roomMembersKey(room)
-- KEYS[2] = roomsKey()
-- ARGV[1] = clientID
-- ARGV[2] = room
redis.call("SREM", KEYS[1], ARGV[1])
if redis.call("SCARD", KEYS[1]) == 0 then
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[2])
	return 0
end
return 1
`)

// RemoveMember 房间空了就顺带从房间索引里删掉
func (p *RoomPresence) RemoveMember(ctx context.Context, room, clientID string) error {
	err := removeMemberScript.Run(ctx, p.rdb, []string{roomMembersKey(room), roomsKey()}, clientID, room).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (p *RoomPresence) Members(ctx context.Context, room string) ([]string, error) {
	members, err := p.rdb.SMembers(ctx, roomMembersKey(room)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return members, nil
}

func (p *RoomPresence) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := p.rdb.SMembers(ctx, roomsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return rooms, nil
}

// Reset 进程启动时清掉上一个进程留下的镜像（连接都已经断了）
func (p *RoomPresence) Reset(ctx context.Context) error {
	rooms, err := p.Rooms(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(rooms)+1)
	for _, room := range rooms {
		keys = append(keys, roomMembersKey(room))
	}
	keys = append(keys, roomsKey())
	return p.rdb.Del(ctx, keys...).Err()
}
