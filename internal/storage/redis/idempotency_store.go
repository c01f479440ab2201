package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultTTL = 24 * time.Hour

// IdempotencyStore хранит ключи идемпотентности оформления в Redis.
// TTL ограничивает окно, в котором повтор запроса получает сохранённый ответ.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIdempotencyStore создаёт Redis-реализацию IdempotencyStore.
func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *IdempotencyStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, lockKey(scope, key), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency lock: %w", err)
	}
	return ok, nil
}

func (s *IdempotencyStore) Remember(ctx context.Context, scope, key, value string) error {
	if err := s.rdb.Set(ctx, valueKey(scope, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency remember: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, valueKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency recall: %w", err)
	}
	return val, true, nil
}

// Ping проверяет доступность Redis для health-check.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func lockKey(scope, key string) string {
	return "idemp:" + scope + ":" + key
}

func valueKey(scope, key string) string {
	return "idemp:map:" + scope + ":" + key
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
