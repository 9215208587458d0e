package kv

import (
	"context"
	"errors"
	"fmt"

	"gametracker/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQL stores keys in the kv_entries table.
type SQL struct {
	db *gorm.DB
}

// NewSQL returns a Store backed by db. The kv_entries table must exist.
func NewSQL(db *gorm.DB) *SQL {
	return &SQL{db: db}
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, error) {
	var entry models.KVEntry
	err := s.db.WithContext(ctx).Where(&models.KVEntry{Key: key}).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return entry.Value, nil
}

func (s *SQL) Set(ctx context.Context, key string, value []byte) error {
	entry := models.KVEntry{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("kv: set %q: %w", key, err)
	}
	return nil
}
