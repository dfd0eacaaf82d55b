package store

import "time"

type Playlist struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title       string    `gorm:"type:varchar(255);uniqueIndex" json:"title"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Tracks      []Track   `gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE" json:"tracks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Track struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	PlaylistID string    `gorm:"type:varchar(64);index" json:"playlist_id"`
	Number     int       `gorm:"default:0" json:"track_number"`
	Title      string    `gorm:"type:varchar(255)" json:"title"`
	Filename   string    `gorm:"type:varchar(512)" json:"filename"`
	DurationMs int64     `gorm:"default:0" json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PlaylistSummary playlists 房间的快照条目
type PlaylistSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	TrackCount int64  `json:"track_count"`
}

// NFCAssociation 一次“把 NFC 标签绑定到歌单”的会话
type NFCAssociation struct {
	AssocID    string    `gorm:"primaryKey;type:varchar(64)" json:"assoc_id"`
	PlaylistID string    `gorm:"type:varchar(64);index" json:"playlist_id"`
	TagID      string    `gorm:"type:varchar(64)" json:"tag_id,omitempty"`
	State      string    `gorm:"type:varchar(32)" json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
