package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OutboxEntry 一条已发出、尚未确认投递成功的房间广播
type OutboxEntry struct {
	Seq        uint64
	Room       string
	Event      StateEvent
	CreatedAt  time.Time
	RetryCount int

	inFlight bool
}

type OutboxStats struct {
	Pending   int    `json:"pending"`
	Delivered uint64 `json:"delivered"`
	Evicted   uint64 `json:"evicted"`
	Dropped   uint64 `json:"dropped"`
}

// Outbox 有界的待确认队列。
// - 超出 limit 时一次性淘汰最老的 cleanupBatch 条
// - 重试次数超过 retryMax 的条目直接丢弃并计数
type Outbox struct {
	mu           sync.Mutex
	entries      []*OutboxEntry
	limit        int
	cleanupBatch int
	retryMax     int
	drainBatch   int

	delivered uint64
	evicted   uint64
	dropped   uint64

	logger *slog.Logger
}

type OutboxOptions struct {
	Limit        int
	CleanupBatch int
	RetryMax     int
	DrainBatch   int
}

func NewOutbox(opt OutboxOptions, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	if opt.DrainBatch < 1 {
		opt.DrainBatch = 1
	}
	return &Outbox{
		limit:        opt.Limit,
		cleanupBatch: opt.CleanupBatch,
		retryMax:     opt.RetryMax,
		drainBatch:   opt.DrainBatch,
		logger:       logger,
	}
}

// Enqueue 新条目处于“正在投递”状态，直到 Confirm 或 Release；返回被淘汰的条数
func (o *Outbox) Enqueue(ev StateEvent, room string, now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, &OutboxEntry{
		Seq:       ev.ServerSeq,
		Room:      room,
		Event:     ev,
		CreatedAt: now,
		inFlight:  true,
	})
	return o.enforceLimitLocked()
}

// Confirm 投递成功，移除条目
func (o *Outbox) Confirm(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.indexLocked(seq)
	if i < 0 {
		return false
	}
	o.removeLocked(i)
	o.delivered++
	return true
}

// Release 投递失败，条目留给后续的 Drain 重试
func (o *Outbox) Release(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i := o.indexLocked(seq); i >= 0 {
		o.entries[i].inFlight = false
	}
}

// Retry 计一次重试；超过上限时丢弃条目并返回 false
func (o *Outbox) Retry(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.indexLocked(seq)
	if i < 0 {
		return false
	}
	return o.retryLocked(i)
}

// Drain 取出至多 drainBatch 条空闲条目重新投递，返回投递成功与丢弃的条数
func (o *Outbox) Drain(ctx context.Context, deliver func(context.Context, *OutboxEntry) error) (delivered, dropped int) {
	batch := o.claimBatch(&dropped)
	for i := range batch {
		e := &batch[i]
		if ctx.Err() != nil {
			o.Release(e.Seq)
			continue
		}
		if err := deliver(ctx, e); err != nil {
			o.logger.Debug("outbox redelivery failed", "seq", e.Seq, "room", e.Room, "retry", e.RetryCount, "err", err)
			o.Release(e.Seq)
			continue
		}
		if o.Confirm(e.Seq) {
			delivered++
		}
	}

	o.mu.Lock()
	o.enforceLimitLocked()
	o.mu.Unlock()
	return delivered, dropped
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

func (o *Outbox) Stats() OutboxStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OutboxStats{
		Pending:   len(o.entries),
		Delivered: o.delivered,
		Evicted:   o.evicted,
		Dropped:   o.dropped,
	}
}

// claimBatch 标记一批空闲条目为投递中，并计入重试次数；返回的是快照，投递在锁外进行
func (o *Outbox) claimBatch(dropped *int) []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := make([]OutboxEntry, 0, o.drainBatch)
	for i := 0; i < len(o.entries) && len(batch) < o.drainBatch; {
		if o.entries[i].inFlight {
			i++
			continue
		}
		if !o.retryLocked(i) {
			*dropped++
			continue
		}
		o.entries[i].inFlight = true
		batch = append(batch, *o.entries[i])
		i++
	}
	return batch
}

func (o *Outbox) retryLocked(i int) bool {
	e := o.entries[i]
	e.RetryCount++
	if e.RetryCount > o.retryMax {
		o.logger.Warn("outbox entry exceeded retry limit, dropped", "seq", e.Seq, "room", e.Room, "event_type", e.Event.EventType, "retries", e.RetryCount-1)
		o.removeLocked(i)
		o.dropped++
		return false
	}
	return true
}

func (o *Outbox) enforceLimitLocked() int {
	if len(o.entries) <= o.limit {
		return 0
	}
	n := o.cleanupBatch
	if n > len(o.entries) {
		n = len(o.entries)
	}
	// 复制到新切片，让被淘汰的条目可以被回收
	o.entries = append([]*OutboxEntry(nil), o.entries[n:]...)
	o.evicted += uint64(n)
	o.logger.Info("outbox over limit, evicted oldest entries", "evicted", n, "pending", len(o.entries))
	return n
}

func (o *Outbox) indexLocked(seq uint64) int {
	for i, e := range o.entries {
		if e.Seq == seq {
			return i
		}
	}
	return -1
}

func (o *Outbox) removeLocked(i int) {
	copy(o.entries[i:], o.entries[i+1:])
	o.entries[len(o.entries)-1] = nil
	o.entries = o.entries[:len(o.entries)-1]
}
