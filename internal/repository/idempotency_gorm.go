package repository

import (
	"context"
	"errors"
	"time"

	"github.com/settlus/settlegate/internal/middleware"
	"github.com/settlus/settlegate/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormIdempotencyStore backs idempotency keys with the idempotency_keys
// table when Redis is not configured.
type GormIdempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewGormIdempotencyStore(db *gorm.DB, ttl time.Duration) *GormIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &GormIdempotencyStore{db: db, ttl: ttl}
}

func (s *GormIdempotencyStore) GetOrLock(key string) (*middleware.IdempotencyRecord, bool) {
	ctx := context.Background()
	now := time.Now().UTC()

	// 过期的 key 视为不存在
	s.db.WithContext(ctx).Where("key = ? AND created_at < ?", key, now.Add(-s.ttl)).Delete(&model.IdempotencyRow{})

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.IdempotencyRow{Key: key, Processing: true, CreatedAt: now})
	if res.Error == nil && res.RowsAffected > 0 {
		return nil, false
	}

	var row model.IdempotencyRow
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || err != nil {
		return nil, false
	}
	return &middleware.IdempotencyRecord{
		Status:     row.Status,
		Body:       row.Body,
		CreatedAt:  row.CreatedAt,
		Processing: row.Processing,
	}, true
}

func (s *GormIdempotencyStore) Save(key string, status int, body []byte) {
	s.db.WithContext(context.Background()).Model(&model.IdempotencyRow{}).
		Where("key = ?", key).
		Updates(map[string]any{"processing": false, "status": status, "body": body})
}

func (s *GormIdempotencyStore) Unlock(key string) {
	s.db.WithContext(context.Background()).Where("key = ?", key).Delete(&model.IdempotencyRow{})
}
