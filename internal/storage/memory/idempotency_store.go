package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// idempotencyEntry хранит захваченный ключ и запомненный ответ.
type idempotencyEntry struct {
	value     string
	hasValue  bool
	expiresAt time.Time
}

// idempotencyStoreInMemory — in-memory реализация IdempotencyStore с TTL.
type idempotencyStoreInMemory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*idempotencyEntry
}

// NewIdempotencyStore возвращает in-memory хранилище ключей идемпотентности.
func NewIdempotencyStore(ttl time.Duration) domain.IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &idempotencyStoreInMemory{
		ttl:     ttl,
		entries: make(map[string]*idempotencyEntry),
	}
}

// TryLock захватывает ключ; false означает, что запрос уже обрабатывается
// или уже обработан.
func (s *idempotencyStoreInMemory) TryLock(ctx context.Context, scope, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := scope + ":" + key
	now := time.Now().UTC()
	if entry, ok := s.entries[k]; ok && entry.expiresAt.After(now) {
		return false, nil
	}
	s.entries[k] = &idempotencyEntry{expiresAt: now.Add(s.ttl)}
	return true, nil
}

// Remember сохраняет сериализованный ответ под ключом.
func (s *idempotencyStoreInMemory) Remember(ctx context.Context, scope, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := scope + ":" + key
	entry, ok := s.entries[k]
	if !ok {
		entry = &idempotencyEntry{expiresAt: time.Now().UTC().Add(s.ttl)}
		s.entries[k] = entry
	}
	entry.value = value
	entry.hasValue = true
	return nil
}

// Recall возвращает запомненный ответ, если ключ ещё не истёк.
func (s *idempotencyStoreInMemory) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[scope+":"+key]
	if !ok || !entry.hasValue || !entry.expiresAt.After(time.Now().UTC()) {
		return "", false, nil
	}
	return entry.value, true, nil
}

var _ domain.IdempotencyStore = (*idempotencyStoreInMemory)(nil)
