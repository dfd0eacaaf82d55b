package store

import (
	"context"
	"errors"

	"musicboxServer/backend/internal/broadcast"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NFCStore struct {
	db *gorm.DB
}

var _ broadcast.SessionSnapshotProvider = (*NFCStore)(nil)

func NewNFCStore(db *gorm.DB) *NFCStore {
	return &NFCStore{db: db}
}

func (s *NFCStore) GetSession(ctx context.Context, assocID string) (*NFCAssociation, error) {
	var a NFCAssociation
	err := s.db.WithContext(ctx).Where("assoc_id = ?", assocID).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// SaveSession 按 assoc_id upsert
func (s *NFCStore) SaveSession(ctx context.Context, a *NFCAssociation) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "assoc_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"playlist_id", "tag_id", "state", "updated_at"}),
	}).Create(a).Error
}

func (s *NFCStore) SessionSnapshot(ctx context.Context, assocID string) (any, bool, error) {
	a, err := s.GetSession(ctx, assocID)
	if err != nil || a == nil {
		return nil, false, err
	}
	return a, true, nil
}
