package broadcast

import (
	"sync"
	"time"
)

type ClaimState int

const (
	// ClaimNew 第一次见到这个 opID，调用方负责执行并在结束后 Complete 或 Release
	ClaimNew ClaimState = iota
	// ClaimDuplicate 窗口内已经执行过，附带缓存的结果（若还在 TTL 内）
	ClaimDuplicate
	// ClaimInFlight 同一个 opID 正在被另一个调用执行
	ClaimInFlight
)

type opRecord struct {
	processedAt time.Time
	inFlight    bool
}

type cachedResult struct {
	value    any
	storedAt time.Time
}

type TrackerStats struct {
	Operations int `json:"operations"`
	Results    int `json:"results"`
	InFlight   int `json:"in_flight"`
}

// OperationTracker 客户端操作 id 的去重表：记录在 window 内有效，结果缓存在 resultTTL 内有效
type OperationTracker struct {
	mu        sync.Mutex
	window    time.Duration
	resultTTL time.Duration
	now       func() time.Time
	processed map[string]opRecord
	results   map[string]cachedResult
}

func NewOperationTracker(window, resultTTL time.Duration) *OperationTracker {
	return &OperationTracker{
		window:    window,
		resultTTL: resultTTL,
		now:       time.Now,
		processed: make(map[string]opRecord),
		results:   make(map[string]cachedResult),
	}
}

// IsProcessed 超出窗口的记录在这里顺手删掉
func (t *OperationTracker) IsProcessed(opID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.liveRecord(opID, t.now())
	return ok
}

// MarkProcessed 记录 opID；带上 result 时同时缓存结果
func (t *OperationTracker) MarkProcessed(opID string, result ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.processed[opID] = opRecord{processedAt: now}
	if len(result) > 0 {
		t.results[opID] = cachedResult{value: result[0], storedAt: now}
	}
}

func (t *OperationTracker) Result(opID string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveResult(opID, t.now())
}

// Claim 原子地“检查 + 占位”，并发的重复请求只有一个能拿到 ClaimNew
func (t *OperationTracker) Claim(opID string) (ClaimState, any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if rec, ok := t.liveRecord(opID, now); ok {
		if rec.inFlight {
			return ClaimInFlight, nil
		}
		v, _ := t.liveResult(opID, now)
		return ClaimDuplicate, v
	}
	t.processed[opID] = opRecord{processedAt: now, inFlight: true}
	return ClaimNew, nil
}

func (t *OperationTracker) Complete(opID string, result any) {
	t.MarkProcessed(opID, result)
}

// Release 执行失败时撤销占位，让客户端的重试可以重新执行
func (t *OperationTracker) Release(opID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.processed[opID]; ok && rec.inFlight {
		delete(t.processed, opID)
	}
}

// Sweep 清理所有过期的记录与结果，返回删除的条目数
func (t *OperationTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for id, rec := range t.processed {
		if now.Sub(rec.processedAt) > t.window {
			delete(t.processed, id)
			removed++
		}
	}
	for id, res := range t.results {
		if now.Sub(res.storedAt) > t.resultTTL {
			delete(t.results, id)
			removed++
		}
	}
	return removed
}

func (t *OperationTracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := TrackerStats{Operations: len(t.processed), Results: len(t.results)}
	for _, rec := range t.processed {
		if rec.inFlight {
			s.InFlight++
		}
	}
	return s
}

// 以下两个函数要求调用方已持有锁
func (t *OperationTracker) liveRecord(opID string, now time.Time) (opRecord, bool) {
	rec, ok := t.processed[opID]
	if !ok {
		return opRecord{}, false
	}
	if now.Sub(rec.processedAt) > t.window {
		delete(t.processed, opID)
		return opRecord{}, false
	}
	return rec, true
}

func (t *OperationTracker) liveResult(opID string, now time.Time) (any, bool) {
	res, ok := t.results[opID]
	if !ok {
		return nil, false
	}
	if now.Sub(res.storedAt) > t.resultTTL {
		delete(t.results, opID)
		return nil, false
	}
	return res.value, true
}
