package assetcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gametracker/backend/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStorage keeps buckets in the cache_buckets and cache_entries tables.
type SQLStorage struct {
	db *gorm.DB
}

// NewSQLStorage returns a Storage backed by db. The tables must exist.
func NewSQLStorage(db *gorm.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

func (s *SQLStorage) Open(ctx context.Context, name string) (Bucket, error) {
	bucket := models.CacheBucket{Name: name}
	err := s.db.WithContext(ctx).Where(models.CacheBucket{Name: name}).FirstOrCreate(&bucket).Error
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &sqlBucket{db: s.db, id: bucket.ID, name: bucket.Name}, nil
}

func (s *SQLStorage) Keys(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&models.CacheBucket{}).Order("id").Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	return names, nil
}

func (s *SQLStorage) Delete(ctx context.Context, name string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bucket models.CacheBucket
		err := tx.Where(models.CacheBucket{Name: name}).First(&bucket).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Where("bucket_id = ?", bucket.ID).Delete(&models.CacheEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&bucket).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete cache %q: %w", name, err)
	}
	return deleted, nil
}

func (s *SQLStorage) Match(ctx context.Context, url string) (*Response, bool, error) {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).
		Joins("JOIN cache_buckets ON cache_buckets.id = cache_entries.bucket_id").
		Where("cache_entries.url = ?", url).
		Order("cache_buckets.id").
		First(&entry).Error
	return entryResponse(entry, err)
}

type sqlBucket struct {
	db   *gorm.DB
	id   uint
	name string
}

func (b *sqlBucket) Name() string { return b.name }

func (b *sqlBucket) Match(ctx context.Context, url string) (*Response, bool, error) {
	var entry models.CacheEntry
	err := b.db.WithContext(ctx).Where("bucket_id = ? AND url = ?", b.id, url).First(&entry).Error
	return entryResponse(entry, err)
}

func (b *sqlBucket) Put(ctx context.Context, url string, resp *Response) error {
	return b.put(b.db.WithContext(ctx), url, resp)
}

func (b *sqlBucket) PutAll(ctx context.Context, entries []Entry) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			if err := b.put(tx, e.URL, e.Response); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *sqlBucket) put(db *gorm.DB, url string, resp *Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode headers for %s: %w", url, err)
	}
	entry := models.CacheEntry{
		BucketID:   b.id,
		URL:        url,
		StatusCode: resp.StatusCode,
		Type:       string(resp.Type),
		Redirected: resp.Redirected,
		Header:     datatypes.JSON(header),
		Body:       resp.Body,
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket_id"}, {Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{"status_code", "type", "redirected", "header", "body", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("cache put %s in %q: %w", url, b.name, err)
	}
	return nil
}

func entryResponse(entry models.CacheEntry, err error) (*Response, bool, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache match: %w", err)
	}
	header := http.Header{}
	if len(entry.Header) > 0 {
		if err := json.Unmarshal(entry.Header, &header); err != nil {
			return nil, false, fmt.Errorf("decode cached headers for %s: %w", entry.URL, err)
		}
	}
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		URL:        entry.URL,
		StatusCode: entry.StatusCode,
		Header:     header,
		Body:       entry.Body,
		Type:       ResponseType(entry.Type),
		Redirected: entry.Redirected,
	}, true, nil
}
