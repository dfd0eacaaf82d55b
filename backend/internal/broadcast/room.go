package broadcast

import (
	"sort"
	"strings"
)

// 房间命名：
// - "playlists"            全部歌单的列表
// - "playlist:{id}"        单个歌单
// - "nfc:{assocId}"        一次 NFC 绑定会话
const (
	RoomPlaylists    = "playlists"
	playlistPrefix   = "playlist:"
	nfcSessionPrefix = "nfc:"
	rankUnknown      = 3
)

type RoomKind int

const (
	RoomKindUnknown RoomKind = iota
	RoomKindPlaylists
	RoomKindPlaylist
	RoomKindNFC
)

func PlaylistRoom(playlistID string) string { return playlistPrefix + playlistID }
func NFCRoom(assocID string) string         { return nfcSessionPrefix + assocID }

// ParseRoom 解析房间名，返回房间种类以及其中的 id（playlists 房间 id 为空）
func ParseRoom(room string) (RoomKind, string) {
	switch {
	case room == RoomPlaylists:
		return RoomKindPlaylists, ""
	case strings.HasPrefix(room, playlistPrefix) && len(room) > len(playlistPrefix):
		return RoomKindPlaylist, strings.TrimPrefix(room, playlistPrefix)
	case strings.HasPrefix(room, nfcSessionPrefix) && len(room) > len(nfcSessionPrefix):
		return RoomKindNFC, strings.TrimPrefix(room, nfcSessionPrefix)
	}
	return RoomKindUnknown, ""
}

func roomRank(room string) int {
	switch kind, _ := ParseRoom(room); kind {
	case RoomKindPlaylists:
		return 0
	case RoomKindPlaylist:
		return 1
	case RoomKindNFC:
		return 2
	}
	return rankUnknown
}

// sortRooms 同步顺序：playlists 最先，其次各个歌单（按名字），最后 NFC 会话
func sortRooms(rooms []string) []string {
	out := append([]string(nil), rooms...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := roomRank(out[i]), roomRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}
