package models

import (
	"time"

	"gorm.io/datatypes"
)

// CacheBucket is a named, generation-tagged group of cached responses.
type CacheBucket struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:255;uniqueIndex;not null"`
	CreatedAt time.Time

	Entries []CacheEntry `gorm:"foreignKey:BucketID"`
}

// CacheEntry maps a request URL to the response stored for it inside one bucket.
type CacheEntry struct {
	ID         uint           `gorm:"primaryKey"`
	BucketID   uint           `gorm:"not null;uniqueIndex:idx_cache_entries_bucket_url"`
	URL        string         `gorm:"size:2048;not null;uniqueIndex:idx_cache_entries_bucket_url"`
	StatusCode int            `gorm:"not null"`
	Type       string         `gorm:"size:20;not null;default:'basic'"`
	Redirected bool           `gorm:"not null;default:false"`
	Header     datatypes.JSON
	Body       []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
