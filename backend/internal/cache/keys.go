package cache

import "fmt"

// 键语义：
// - roomMembersKey(room):      房间内在线连接（Set<clientID>）
// - roomsKey():                有成员的房间索引（Set<room>）
// - snapshotKey(epoch, id, seq): 歌单快照（String<JSON>），序号变化或进程重启即失效

// 成员相关的键共用 {presence} 标签，保证在集群里落在同一个 slot，事务与 Lua 脚本才能跨键执行
const (
	keyRoomMembersFmt = "musicbox:{presence}:room:%s" // Set<clientID>
	keyRoomsSet       = "musicbox:{presence}:rooms"   // Set<room>
	keySnapshotFmt    = "musicbox:snapshot:{playlist:%s}:%s:%d"
)

func roomMembersKey(room string) string { return fmt.Sprintf(keyRoomMembersFmt, room) }
func roomsKey() string                  { return keyRoomsSet }
func snapshotKey(epoch, playlistID string, seq uint64) string {
	return fmt.Sprintf(keySnapshotFmt, playlistID, epoch, seq)
}
