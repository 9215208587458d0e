package models

import "time"

// KVEntry is one key of the local key-value table.
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}
