package store

import (
	"context"
	"errors"
	"strings"

	"musicboxServer/backend/internal/broadcast"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrPlaylistNotFound   = errors.New("PLAYLIST_NOT_FOUND")
	ErrPlaylistExists     = errors.New("PLAYLIST_EXISTS")
	ErrEmptyTitle         = errors.New("EMPTY_TITLE")
	ErrTrackOrderMismatch = errors.New("TRACK_ORDER_MISMATCH")
)

// OpenMySQL TranslateError 打开后唯一键冲突统一成 gorm.ErrDuplicatedKey
func OpenMySQL(dsn string) (*gorm.DB, error) {
	return gorm.Open(gormmysql.Open(dsn), &gorm.Config{TranslateError: true})
}

type PlaylistStore struct {
	db *gorm.DB
}

var (
	_ broadcast.PlaylistsSnapshotProvider = (*PlaylistStore)(nil)
	_ broadcast.PlaylistSnapshotProvider  = (*PlaylistStore)(nil)
)

func NewPlaylistStore(db *gorm.DB) *PlaylistStore {
	return &PlaylistStore{db: db}
}

func (s *PlaylistStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Playlist{}, &Track{}, &NFCAssociation{})
}

// GetPlaylist 含曲目（按曲目序号排序）；没找到返回 nil, nil
func (s *PlaylistStore) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	var p Playlist
	err := s.db.WithContext(ctx).
		Preload("Tracks", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *PlaylistStore) ListPlaylists(ctx context.Context) ([]PlaylistSummary, error) {
	out := make([]PlaylistSummary, 0)
	err := s.db.WithContext(ctx).
		Model(&Playlist{}).
		Select("playlists.id, playlists.title, COUNT(tracks.id) AS track_count").
		Joins("LEFT JOIN tracks ON tracks.playlist_id = playlists.id").
		Group("playlists.id, playlists.title").
		Order("playlists.title ASC").
		Scan(&out).Error
	return out, err
}

func (s *PlaylistStore) PlaylistsSnapshot(ctx context.Context) (any, error) {
	return s.ListPlaylists(ctx)
}

func (s *PlaylistStore) PlaylistSnapshot(ctx context.Context, playlistID string) (any, error) {
	p, err := s.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPlaylistNotFound
	}
	return p, nil
}

func (s *PlaylistStore) CreatePlaylist(ctx context.Context, title, description string) (*Playlist, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	p := &Playlist{ID: uuid.NewString(), Title: title, Description: description, Tracks: []Track{}}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrPlaylistExists
		}
		return nil, err
	}
	return p, nil
}

// AddTrack 追加到歌单末尾
func (s *PlaylistStore) AddTrack(ctx context.Context, playlistID string, t Track) (*Track, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Playlist{}).Where("id = ?", playlistID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrPlaylistNotFound
		}
		var maxNumber int
		if err := tx.Model(&Track{}).Where("playlist_id = ?", playlistID).
			Select("COALESCE(MAX(number), 0)").Scan(&maxNumber).Error; err != nil {
			return err
		}
		t.ID = 0
		t.PlaylistID = playlistID
		t.Number = maxNumber + 1
		return tx.Create(&t).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ReorderTracks trackIDs 必须恰好是该歌单现有曲目的一个排列
func (s *PlaylistStore) ReorderTracks(ctx context.Context, playlistID string, trackIDs []uint64) (*Playlist, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tracks []Track
		if err := tx.Where("playlist_id = ?", playlistID).Find(&tracks).Error; err != nil {
			return err
		}
		if len(tracks) == 0 {
			var n int64
			if err := tx.Model(&Playlist{}).Where("id = ?", playlistID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrPlaylistNotFound
			}
		}
		if !samePermutation(tracks, trackIDs) {
			return ErrTrackOrderMismatch
		}
		for i, id := range trackIDs {
			if err := tx.Model(&Track{}).Where("id = ?", id).Update("number", i+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPlaylist(ctx, playlistID)
}

func samePermutation(tracks []Track, ids []uint64) bool {
	if len(tracks) != len(ids) {
		return false
	}
	want := make(map[uint64]bool, len(tracks))
	for _, t := range tracks {
		want[t.ID] = true
	}
	for _, id := range ids {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
