package repository

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisScheduleIndex keeps the tenants awaiting settlement in a sorted set
// scored by creation sequence, so several server replicas share one view.
type RedisScheduleIndex struct {
	client redis.Cmdable
	key    string
}

func NewRedisScheduleIndex(client redis.Cmdable, key string) *RedisScheduleIndex {
	if key == "" {
		key = "settlegate:settle_required"
	}
	return &RedisScheduleIndex{client: client, key: key}
}

func (s *RedisScheduleIndex) Add(ctx context.Context, name string, score uint64) error {
	return s.client.ZAdd(ctx, s.key, redis.Z{Score: float64(score), Member: name}).Err()
}

func (s *RedisScheduleIndex) Remove(ctx context.Context, name string) error {
	return s.client.ZRem(ctx, s.key, name).Err()
}

func (s *RedisScheduleIndex) Members(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.key, 0, -1).Result()
}
