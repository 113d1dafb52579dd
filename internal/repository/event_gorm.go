package repository

import (
	"context"
	"time"

	"github.com/settlus/settlegate/internal/model"
	"gorm.io/gorm"
)

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Insert(ctx context.Context, entry *model.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// List returns events newest first. An empty tenant matches all tenants.
func (r *GormEventRepo) List(ctx context.Context, tenant string, limit int, from, to *time.Time) ([]*model.LedgerEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Model(&model.LedgerEvent{})
	if tenant != "" {
		q = q.Where("tenant = ?", tenant)
	}
	if from != nil {
		q = q.Where("created_at >= ?", *from)
	}
	if to != nil {
		q = q.Where("created_at <= ?", *to)
	}
	var out []*model.LedgerEvent
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GormEventRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.LedgerEvent{})
	return res.RowsAffected, res.Error
}
