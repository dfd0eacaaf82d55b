package broadcast

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTracker(clock *fakeClock) *OperationTracker {
	tr := NewOperationTracker(300*time.Second, 600*time.Second)
	tr.now = clock.Now
	return tr
}

func TestMarkProcessedWithinWindow(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.MarkProcessed("op-1", 42)
	assert.True(t, tr.IsProcessed("op-1"))
	v, ok := tr.Result("op-1")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	clock.Advance(301 * time.Second)
	assert.False(t, tr.IsProcessed("op-1"))
}

func TestResultOutlivesWindowUntilTTL(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)
	tr.MarkProcessed("op-1", "done")

	clock.Advance(400 * time.Second)
	v, ok := tr.Result("op-1")
	require.True(t, ok)
	assert.Equal(t, "done", v)

	clock.Advance(201 * time.Second)
	_, ok = tr.Result("op-1")
	assert.False(t, ok)
}

func TestMarkProcessedWithoutResult(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	tr.MarkProcessed("op-2")
	assert.True(t, tr.IsProcessed("op-2"))
	_, ok := tr.Result("op-2")
	assert.False(t, ok)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)
	tr.MarkProcessed("old", 1)
	clock.Advance(350 * time.Second)
	tr.MarkProcessed("new", 2)

	// old 的记录过期，结果仍在 TTL 内
	assert.Equal(t, 1, tr.Sweep())
	assert.Equal(t, TrackerStats{Operations: 1, Results: 2}, tr.Stats())

	clock.Advance(301 * time.Second)
	// new 的记录 + old 的结果
	assert.Equal(t, 2, tr.Sweep())
	assert.Equal(t, TrackerStats{Operations: 0, Results: 1}, tr.Stats())
}

func TestClaimLifecycle(t *testing.T) {
	tr := newTestTracker(newFakeClock())

	state, _ := tr.Claim("op")
	require.Equal(t, ClaimNew, state)
	state, _ = tr.Claim("op")
	assert.Equal(t, ClaimInFlight, state)

	tr.Complete("op", "result")
	state, cached := tr.Claim("op")
	assert.Equal(t, ClaimDuplicate, state)
	assert.Equal(t, "result", cached)
}

func TestReleaseAllowsRetry(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	state, _ := tr.Claim("op")
	require.Equal(t, ClaimNew, state)

	tr.Release("op")
	assert.False(t, tr.IsProcessed("op"))
	state, _ = tr.Claim("op")
	assert.Equal(t, ClaimNew, state)
}

func TestReleaseKeepsCompletedOperation(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	tr.MarkProcessed("op", 1)
	tr.Release("op")
	assert.True(t, tr.IsProcessed("op"))
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if state, _ := tr.Claim("same-op"); state == ClaimNew {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
