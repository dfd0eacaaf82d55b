package store

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, NewPlaylistStore(db).Migrate(context.Background()))
	return db
}

func TestCreateAndListPlaylists(t *testing.T) {
	s := NewPlaylistStore(newTestDB(t))
	ctx := context.Background()

	rock, err := s.CreatePlaylist(ctx, "Rock", "")
	require.NoError(t, err)
	_, err = s.CreatePlaylist(ctx, "Jazz", "evening")
	require.NoError(t, err)
	_, err = s.AddTrack(ctx, rock.ID, Track{Title: "Song A", Filename: "a.mp3"})
	require.NoError(t, err)

	list, err := s.ListPlaylists(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Jazz", list[0].Title)
	assert.Equal(t, int64(0), list[0].TrackCount)
	assert.Equal(t, "Rock", list[1].Title)
	assert.Equal(t, int64(1), list[1].TrackCount)
}

func TestCreatePlaylistRejectsDuplicatesAndEmptyTitles(t *testing.T) {
	s := NewPlaylistStore(newTestDB(t))
	ctx := context.Background()

	_, err := s.CreatePlaylist(ctx, "Rock", "")
	require.NoError(t, err)
	_, err = s.CreatePlaylist(ctx, "Rock", "")
	assert.ErrorIs(t, err, ErrPlaylistExists)
	_, err = s.CreatePlaylist(ctx, "   ", "")
	assert.ErrorIs(t, err, ErrEmptyTitle)
}

func TestReorderTracks(t *testing.T) {
	s := NewPlaylistStore(newTestDB(t))
	ctx := context.Background()
	p, err := s.CreatePlaylist(ctx, "Kids", "")
	require.NoError(t, err)

	var ids []uint64
	for _, title := range []string{"one", "two", "three"} {
		tr, err := s.AddTrack(ctx, p.ID, Track{Title: title})
		require.NoError(t, err)
		ids = append(ids, tr.ID)
	}

	got, err := s.ReorderTracks(ctx, p.ID, []uint64{ids[2], ids[0], ids[1]})
	require.NoError(t, err)
	require.Len(t, got.Tracks, 3)
	assert.Equal(t, []string{"three", "one", "two"}, []string{got.Tracks[0].Title, got.Tracks[1].Title, got.Tracks[2].Title})
	assert.Equal(t, 1, got.Tracks[0].Number)

	_, err = s.ReorderTracks(ctx, p.ID, []uint64{ids[0], ids[1]})
	assert.ErrorIs(t, err, ErrTrackOrderMismatch)
	_, err = s.ReorderTracks(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrPlaylistNotFound)
}

func TestPlaylistSnapshotNotFound(t *testing.T) {
	s := NewPlaylistStore(newTestDB(t))
	_, err := s.PlaylistSnapshot(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrPlaylistNotFound)

	_, err = s.AddTrack(context.Background(), "nope", Track{Title: "x"})
	assert.ErrorIs(t, err, ErrPlaylistNotFound)
}

func TestNFCSessionUpsertAndSnapshot(t *testing.T) {
	s := NewNFCStore(newTestDB(t))
	ctx := context.Background()

	_, found, err := s.SessionSnapshot(ctx, "assoc-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveSession(ctx, &NFCAssociation{AssocID: "assoc-1", PlaylistID: "p1", State: "waiting"}))
	require.NoError(t, s.SaveSession(ctx, &NFCAssociation{AssocID: "assoc-1", PlaylistID: "p1", TagID: "04:a2", State: "associated"}))

	snap, found, err := s.SessionSnapshot(ctx, "assoc-1")
	require.NoError(t, err)
	require.True(t, found)
	a := snap.(*NFCAssociation)
	assert.Equal(t, "associated", a.State)
	assert.Equal(t, "04:a2", a.TagID)
}
