package broadcast

import "sync"

// SequenceAllocator 发放全局序号与按歌单的序号。
// 两类序号都从 0 开始、只增不减、进程内不会重复；进程重启后从 0 重新计数。
type SequenceAllocator struct {
	mu        sync.Mutex
	global    uint64
	playlists map[string]uint64
}

func NewSequenceAllocator() *SequenceAllocator {
	return &SequenceAllocator{playlists: make(map[string]uint64)}
}

func (a *SequenceAllocator) NextGlobal() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.global++
	return a.global
}

func (a *SequenceAllocator) NextPlaylist(playlistID string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playlists[playlistID]++
	return a.playlists[playlistID]
}

// nextScoped 在同一把锁内同时推进全局序号与歌单序号，保证两者的先后关系一致
func (a *SequenceAllocator) nextScoped(playlistID string) (global, playlist uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.global++
	a.playlists[playlistID]++
	return a.global, a.playlists[playlistID]
}

func (a *SequenceAllocator) PeekGlobal() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.global
}

// PeekPlaylist 未出现过的歌单返回 0
func (a *SequenceAllocator) PeekPlaylist(playlistID string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playlists[playlistID]
}
