package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const cooldownKeyPrefix = "livetiming:cooldown:"

// CooldownStore tracks per-identity chat cooldowns.
type CooldownStore interface {
	// Acquire starts a cooldown of d for id unless one is already active.
	// It reports false when id is still cooling down. A non-positive d
	// always succeeds and records nothing.
	Acquire(ctx context.Context, id string, d time.Duration) (bool, error)
}

// RedisCooldownStore keeps cooldowns as expiring keys.
type RedisCooldownStore struct {
	client *redis.Client
}

// NewRedisCooldownStore connects using a redis:// URL.
func NewRedisCooldownStore(redisURL string) (*RedisCooldownStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisCooldownStore{client: redis.NewClient(opts)}, nil
}

// NewRedisCooldownStoreWithClient wraps an existing client.
func NewRedisCooldownStoreWithClient(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

// Acquire uses SET NX so concurrent relays agree on a single winner.
func (s *RedisCooldownStore) Acquire(ctx context.Context, id string, d time.Duration) (bool, error) {
	if d <= 0 {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, cooldownKeyPrefix+id, "1", d).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring cooldown: %w", err)
	}
	return ok, nil
}

// Ping checks connectivity.
func (s *RedisCooldownStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisCooldownStore) Close() error {
	return s.client.Close()
}

const memorySweepInterval = time.Minute

// MemoryCooldownStore is used when no redis URL is configured. Expired
// entries are swept at most once per memorySweepInterval.
type MemoryCooldownStore struct {
	mu        sync.Mutex
	expires   map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryCooldownStore) Acquire(_ context.Context, id string, d time.Duration) (bool, error) {
	if d <= 0 {
		return true, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= memorySweepInterval {
		s.sweepLocked(now)
	}
	if until, ok := s.expires[id]; ok && now.Before(until) {
		return false, nil
	}
	s.expires[id] = now.Add(d)
	return true, nil
}

func (s *MemoryCooldownStore) sweepLocked(now time.Time) {
	for id, until := range s.expires {
		if !now.Before(until) {
			delete(s.expires, id)
		}
	}
	s.lastSweep = now
}
