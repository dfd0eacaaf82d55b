package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRoom(t *testing.T) {
	cases := []struct {
		room string
		kind RoomKind
		id   string
	}{
		{"playlists", RoomKindPlaylists, ""},
		{"playlist:42", RoomKindPlaylist, "42"},
		{"nfc:assoc-1", RoomKindNFC, "assoc-1"},
		{"playlist:", RoomKindUnknown, ""},
		{"lobby", RoomKindUnknown, ""},
	}
	for _, tc := range cases {
		kind, id := ParseRoom(tc.room)
		assert.Equal(t, tc.kind, kind, tc.room)
		assert.Equal(t, tc.id, id, tc.room)
	}
}

func TestSortRoomsOrdersByKind(t *testing.T) {
	got := sortRooms([]string{"nfc:b", "playlist:9", "playlists", "playlist:10", "nfc:a"})
	assert.Equal(t, []string{"playlists", "playlist:10", "playlist:9", "nfc:a", "nfc:b"}, got)
}
