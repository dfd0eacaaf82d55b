package broadcast

import (
	"context"
	"sync"
	"time"
)

// positionThrottle 播放进度的限流：interval 内最多放行一次，其余直接丢弃
type positionThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func (t *positionThrottle) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// stateDebouncer 播放器状态的防抖：delay 内的连续更新只广播最后一次。
// 同时记住最近一次状态，client:request_current_state 在没有外部提供者时用它应答。
type stateDebouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending any
	latest  any
	hasAny  bool
	timer   *time.Timer
	flush   func(state any)
}

func (d *stateDebouncer) push(state any) {
	d.mu.Lock()
	d.latest = state
	d.hasAny = true
	if d.delay <= 0 {
		d.mu.Unlock()
		d.flush(state)
		return
	}
	d.pending = state
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
	}
	d.mu.Unlock()
}

func (d *stateDebouncer) fire() {
	d.mu.Lock()
	state := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()
	d.flush(state)
}

func (d *stateDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// PlayerState 让防抖器本身充当 PlayerStateProvider
func (d *stateDebouncer) PlayerState(context.Context) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasAny {
		return nil, ErrNoSnapshotProvider
	}
	return d.latest, nil
}
