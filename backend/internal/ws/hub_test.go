package ws

import (
	"context"
	"encoding/json"
	"testing"

	"musicboxServer/backend/internal/broadcast"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(id string, buffer int) *Conn {
	return &Conn{id: id, send: make(chan []byte, buffer), done: make(chan struct{})}
}

func decodeOutbound(t *testing.T, b []byte) (string, map[string]any) {
	t.Helper()
	var f struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &f))
	return f.Event, f.Data
}

func TestHubEmitToRoomReachesMembersOnly(t *testing.T) {
	h := NewHub(nil)
	ctx := context.Background()
	a, b := testConn("a", 4), testConn("b", 4)
	h.Register(a)
	h.Register(b)
	require.NoError(t, h.JoinRoom(ctx, "a", "playlists"))

	ev := broadcast.StateEvent{EventType: "playlist_created", ServerSeq: 5, Room: "playlists"}
	require.NoError(t, h.EmitToRoom(ctx, "playlists", ev))

	require.Len(t, a.send, 1)
	assert.Len(t, b.send, 0)
	event, data := decodeOutbound(t, <-a.send)
	assert.Equal(t, "playlist_created", event)
	assert.Equal(t, float64(5), data["server_seq"])
}

func TestHubEmitToRoomReportsFullBuffers(t *testing.T) {
	h := NewHub(nil)
	ctx := context.Background()
	slow := testConn("slow", 1)
	h.Register(slow)
	require.NoError(t, h.JoinRoom(ctx, "slow", "playlists"))

	ev := broadcast.StateEvent{EventType: "x", ServerSeq: 1}
	require.NoError(t, h.EmitToRoom(ctx, "playlists", ev))
	err := h.EmitToRoom(ctx, "playlists", ev)
	assert.ErrorIs(t, err, ErrSendBufferFull)
}

func TestHubEmitUnknownClient(t *testing.T) {
	h := NewHub(nil)
	err := h.Emit(context.Background(), "ghost", broadcast.LeaveAck{Room: "playlists", Success: true})
	assert.ErrorIs(t, err, ErrUnknownClient)
	assert.ErrorIs(t, h.JoinRoom(context.Background(), "ghost", "playlists"), ErrUnknownClient)
}

func TestHubUnregisterRemovesFromRooms(t *testing.T) {
	h := NewHub(nil)
	ctx := context.Background()
	a := testConn("a", 1)
	h.Register(a)
	require.NoError(t, h.JoinRoom(ctx, "a", "playlists"))
	require.NoError(t, h.JoinRoom(ctx, "a", "playlist:1"))

	h.Unregister(a)
	assert.Zero(t, h.RoomSize("playlists"))
	assert.Zero(t, h.RoomSize("playlist:1"))
	assert.Zero(t, h.ConnCount())
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	c := testConn("a", 4)
	close(c.done)
	assert.False(t, c.Enqueue([]byte("{}")))
}
