package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/settlus/settlegate/internal/middleware"
)

// RedisIdempotencyStore keeps one hash per key so replicas behind a load
// balancer replay the same response. Fields: status, body, created_at
// (unix seconds) and processing ("1" while the first request runs).
type RedisIdempotencyStore struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client redis.Cmdable, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: client,
		ttl:    ttl,
		prefix: "settlegate:idem:",
	}
}

// GetOrLock claims the key with HSETNX on the processing field. Any store
// error is reported as a fresh lock so the request still runs.
func (s *RedisIdempotencyStore) GetOrLock(key string) (*middleware.IdempotencyRecord, bool) {
	ctx := context.Background()
	k := s.prefix + key

	var claim *redis.BoolCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		claim = pipe.HSetNX(ctx, k, "processing", "1")
		pipe.HSetNX(ctx, k, "created_at", strconv.FormatInt(time.Now().Unix(), 10))
		pipe.ExpireNX(ctx, k, s.ttl)
		return nil
	})
	if err != nil || claim.Val() {
		return nil, false
	}

	fields, err := s.client.HGetAll(ctx, k).Result()
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	return idemFromHash(fields), true
}

func (s *RedisIdempotencyStore) Save(key string, status int, body []byte) {
	ctx := context.Background()
	k := s.prefix + key
	_, _ = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, idemHash(middleware.IdempotencyRecord{
			Status:    status,
			Body:      body,
			CreatedAt: time.Now(),
		}))
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
}

func (s *RedisIdempotencyStore) Unlock(key string) {
	_ = s.client.Del(context.Background(), s.prefix+key).Err()
}

func idemHash(rec middleware.IdempotencyRecord) map[string]any {
	processing := "0"
	if rec.Processing {
		processing = "1"
	}
	return map[string]any{
		"status":     rec.Status,
		"body":       rec.Body,
		"created_at": rec.CreatedAt.Unix(),
		"processing": processing,
	}
}

func idemFromHash(fields map[string]string) *middleware.IdempotencyRecord {
	status, _ := strconv.Atoi(fields["status"])
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &middleware.IdempotencyRecord{
		Status:     status,
		Body:       []byte(fields["body"]),
		CreatedAt:  time.Unix(created, 0).UTC(),
		Processing: fields["processing"] == "1",
	}
}
