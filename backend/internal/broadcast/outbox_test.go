package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOutbox(limit, cleanup, retryMax, drain int) *Outbox {
	return NewOutbox(OutboxOptions{Limit: limit, CleanupBatch: cleanup, RetryMax: retryMax, DrainBatch: drain}, nil)
}

func stateEvent(seq uint64) StateEvent {
	return StateEvent{EventType: "playlist_updated", ServerSeq: seq, Room: RoomPlaylists}
}

func TestOutboxEvictsOldestBatchOverLimit(t *testing.T) {
	o := newTestOutbox(1000, 100, 3, 50)
	now := time.Now()
	for seq := uint64(1); seq <= 1000; seq++ {
		assert.Zero(t, o.Enqueue(stateEvent(seq), RoomPlaylists, now))
	}
	require.Equal(t, 1000, o.Len())

	assert.Equal(t, 100, o.Enqueue(stateEvent(1001), RoomPlaylists, now))
	assert.Equal(t, 901, o.Len())
	assert.False(t, o.Confirm(100), "oldest entries must be gone")
	assert.True(t, o.Confirm(101))
	assert.Equal(t, uint64(100), o.Stats().Evicted)
}

func TestOutboxConfirmRemovesEntry(t *testing.T) {
	o := newTestOutbox(10, 2, 3, 5)
	o.Enqueue(stateEvent(1), RoomPlaylists, time.Now())
	assert.True(t, o.Confirm(1))
	assert.False(t, o.Confirm(1))
	assert.Equal(t, OutboxStats{Delivered: 1}, o.Stats())
}

func TestOutboxRetryDropsAfterMax(t *testing.T) {
	o := newTestOutbox(10, 2, 2, 5)
	o.Enqueue(stateEvent(7), RoomPlaylists, time.Now())

	assert.True(t, o.Retry(7))
	assert.True(t, o.Retry(7))
	assert.False(t, o.Retry(7))
	assert.Zero(t, o.Len())
	assert.Equal(t, uint64(1), o.Stats().Dropped)
}

func TestOutboxDrainSkipsEntriesStillBeingDelivered(t *testing.T) {
	o := newTestOutbox(10, 2, 3, 5)
	o.Enqueue(stateEvent(1), RoomPlaylists, time.Now())

	calls := 0
	delivered, dropped := o.Drain(context.Background(), func(context.Context, *OutboxEntry) error {
		calls++
		return nil
	})
	assert.Zero(t, calls)
	assert.Zero(t, delivered)
	assert.Zero(t, dropped)
	assert.Equal(t, 1, o.Len())
}

func TestOutboxDrainRedeliversReleasedEntries(t *testing.T) {
	o := newTestOutbox(10, 2, 3, 2)
	now := time.Now()
	for seq := uint64(1); seq <= 3; seq++ {
		o.Enqueue(stateEvent(seq), RoomPlaylists, now)
		o.Release(seq)
	}

	var got []uint64
	delivered, dropped := o.Drain(context.Background(), func(_ context.Context, e *OutboxEntry) error {
		got = append(got, e.Seq)
		assert.Equal(t, 1, e.RetryCount)
		return nil
	})
	assert.Equal(t, []uint64{1, 2}, got, "batch is capped and oldest first")
	assert.Equal(t, 2, delivered)
	assert.Zero(t, dropped)
	assert.Equal(t, 1, o.Len())
}

func TestOutboxDrainDropsAfterRepeatedFailures(t *testing.T) {
	o := newTestOutbox(10, 2, 2, 5)
	o.Enqueue(stateEvent(1), RoomPlaylists, time.Now())
	o.Release(1)

	fail := func(context.Context, *OutboxEntry) error { return errors.New("still down") }
	for i := 0; i < 2; i++ {
		delivered, dropped := o.Drain(context.Background(), fail)
		assert.Zero(t, delivered)
		assert.Zero(t, dropped)
		assert.Equal(t, 1, o.Len())
	}

	_, dropped := o.Drain(context.Background(), fail)
	assert.Equal(t, 1, dropped)
	assert.Zero(t, o.Len())
}
