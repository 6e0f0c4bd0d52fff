package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"microcred/internal/credential/models"
)

const redisKeyPrefix = "microcred:idempotency:"

// RedisStore keeps reservations in Redis so every replica sees the same keys.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*Entry, error) {
	payload, err := json.Marshal(Entry{Fingerprint: fingerprint})
	if err != nil {
		return nil, fmt.Errorf("marshal reservation: %w", err)
	}

	// One retry covers a key expiring between SETNX and GET.
	for range 2 {
		ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, payload, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return nil, nil
		}

		raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read idempotency key: %w", err)
		}
		var existing Entry
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, fmt.Errorf("decode idempotency entry: %w", err)
		}
		return &existing, nil
	}
	return nil, errors.New("reserve idempotency key: key churned during reservation")
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, receipt *models.Receipt, ttl time.Duration) error {
	return s.finish(ctx, key, Entry{Fingerprint: fingerprint, Receipt: receipt}, ttl)
}

func (s *RedisStore) MarkUnrecorded(ctx context.Context, key, fingerprint, mint string, ttl time.Duration) error {
	return s.finish(ctx, key, Entry{Fingerprint: fingerprint, UnrecordedMint: mint}, ttl)
}

func (s *RedisStore) finish(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("finish idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
