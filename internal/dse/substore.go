package dse

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// SubscriptionStore persists feed subscription intent so a process
// restart does not silently drop live-data coverage.
type SubscriptionStore interface {
	Add(ctx context.Context, symbol string) error
	Remove(ctx context.Context, symbol string) error
	List(ctx context.Context) ([]string, error)
}

const subscriptionKey = "dse:feed:subscriptions"

// RedisSubscriptionStore keeps the subscription set in a redis set.
type RedisSubscriptionStore struct {
	client *redis.Client
}

func NewRedisSubscriptionStore(client *redis.Client) *RedisSubscriptionStore {
	return &RedisSubscriptionStore{client: client}
}

func (s *RedisSubscriptionStore) Add(ctx context.Context, symbol string) error {
	return s.client.SAdd(ctx, subscriptionKey, symbol).Err()
}

func (s *RedisSubscriptionStore) Remove(ctx context.Context, symbol string) error {
	return s.client.SRem(ctx, subscriptionKey, symbol).Err()
}

func (s *RedisSubscriptionStore) List(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, subscriptionKey).Result()
}

// MemorySubscriptionStore is an in-process store for tests and for
// running without redis.
type MemorySubscriptionStore struct {
	mu      sync.Mutex
	symbols map[string]struct{}
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{symbols: make(map[string]struct{})}
}

func (s *MemorySubscriptionStore) Add(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[symbol] = struct{}{}
	return nil
}

func (s *MemorySubscriptionStore) Remove(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.symbols, symbol)
	return nil
}

func (s *MemorySubscriptionStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out, nil
}
