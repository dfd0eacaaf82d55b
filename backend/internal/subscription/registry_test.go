package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu        sync.Mutex
	joins     []string
	leaves    []string
	failJoin  map[string]bool
	failLeave map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failJoin: map[string]bool{}, failLeave: map[string]bool{}}
}

func (f *fakeTransport) JoinRoom(_ context.Context, clientID, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failJoin[room] {
		return errors.New("join refused")
	}
	f.joins = append(f.joins, clientID+"@"+room)
	return nil
}

func (f *fakeTransport) LeaveRoom(_ context.Context, clientID, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, clientID+"@"+room)
	if f.failLeave[room] {
		return errors.New("leave refused")
	}
	return nil
}

type fakePresence struct {
	mu      sync.Mutex
	members map[string]map[string]bool
}

func (p *fakePresence) AddMember(_ context.Context, room, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[room] == nil {
		p.members[room] = map[string]bool{}
	}
	p.members[room][clientID] = true
	return nil
}

func (p *fakePresence) RemoveMember(_ context.Context, room, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members[room], clientID)
	return nil
}

func TestSubscribeIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	r := NewRegistry(tr, nil, nil)
	ctx := context.Background()

	require.NoError(t, r.Subscribe(ctx, "c1", "playlists"))
	require.NoError(t, r.Subscribe(ctx, "c1", "playlists"))

	assert.Equal(t, []string{"playlists"}, r.Subscriptions("c1"))
	assert.Len(t, tr.joins, 1)
	assert.Equal(t, []string{"c1"}, r.Members("playlists"))
}

func TestSubscribeTransportFailureLeavesNoMembership(t *testing.T) {
	tr := newFakeTransport()
	tr.failJoin["playlist:7"] = true
	r := NewRegistry(tr, nil, nil)

	err := r.Subscribe(context.Background(), "c1", "playlist:7")
	require.Error(t, err)
	assert.Empty(t, r.Subscriptions("c1"))
	assert.False(t, r.IsSubscribed("c1", "playlist:7"))
}

func TestUnsubscribeWithoutRoomsLeavesAll(t *testing.T) {
	tr := newFakeTransport()
	r := NewRegistry(tr, nil, nil)
	ctx := context.Background()
	require.NoError(t, r.Subscribe(ctx, "c1", "playlists"))
	require.NoError(t, r.Subscribe(ctx, "c1", "playlist:1"))
	require.NoError(t, r.Subscribe(ctx, "c2", "playlists"))

	require.NoError(t, r.Unsubscribe(ctx, "c1"))

	assert.Empty(t, r.Subscriptions("c1"))
	assert.Equal(t, []string{"c2"}, r.Members("playlists"))
	assert.Empty(t, r.Members("playlist:1"))
	assert.ElementsMatch(t, []string{"c1@playlists", "c1@playlist:1"}, tr.leaves)
}

func TestUnsubscribeUnknownRoomIsNoop(t *testing.T) {
	tr := newFakeTransport()
	r := NewRegistry(tr, nil, nil)
	require.NoError(t, r.Unsubscribe(context.Background(), "c1", "playlist:9"))
	assert.Empty(t, tr.leaves)
}

func TestCleanupContinuesAfterLeaveFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.failLeave["playlist:1"] = true
	r := NewRegistry(tr, nil, nil)
	ctx := context.Background()
	for _, room := range []string{"playlists", "playlist:1", "nfc:abc"} {
		require.NoError(t, r.Subscribe(ctx, "c1", room))
	}

	err := r.Cleanup(ctx, "c1")
	require.Error(t, err)
	assert.Len(t, tr.leaves, 3)
	assert.Empty(t, r.Subscriptions("c1"))
	assert.Equal(t, 0, r.Stats().TotalClients)
}

func TestStatsCountsClientsAndRooms(t *testing.T) {
	r := NewRegistry(newFakeTransport(), nil, nil)
	ctx := context.Background()
	require.NoError(t, r.Subscribe(ctx, "c1", "playlists"))
	require.NoError(t, r.Subscribe(ctx, "c1", "playlist:1"))
	require.NoError(t, r.Subscribe(ctx, "c2", "playlists"))

	s := r.Stats()
	assert.Equal(t, 2, s.TotalClients)
	assert.Equal(t, 3, s.TotalSubscriptions)
	assert.Equal(t, map[string]int{"playlists": 2, "playlist:1": 1}, s.Rooms)
}

func TestPresenceMirrorFollowsMembership(t *testing.T) {
	p := &fakePresence{members: map[string]map[string]bool{}}
	r := NewRegistry(newFakeTransport(), p, nil)
	ctx := context.Background()

	require.NoError(t, r.Subscribe(ctx, "c1", "playlists"))
	assert.True(t, p.members["playlists"]["c1"])

	require.NoError(t, r.Unsubscribe(ctx, "c1", "playlists"))
	assert.False(t, p.members["playlists"]["c1"])
}

func TestConcurrentSubscribersAreIsolated(t *testing.T) {
	r := NewRegistry(newFakeTransport(), nil, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = r.Subscribe(ctx, id, "playlists")
			_ = r.Subscribe(ctx, id, "playlist:"+id)
		}(string(rune('a' + i)))
	}
	wg.Wait()

	s := r.Stats()
	assert.Equal(t, 20, s.TotalClients)
	assert.Equal(t, 20, s.Rooms["playlists"])
	assert.Equal(t, []string{"playlist:a", "playlists"}, r.Subscriptions("a"))
}
