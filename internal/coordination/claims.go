// Package coordination arbitrates the distributed decisions the dispatch
// core can't make from in-process state alone: which driver wins a
// contested ride offer, which drivers have already turned one down, and
// whether a request has already been handled once.
package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

// RedisClaimStore arbitrates the single-winner claim race with Redis
// SET NX: the first driver to successfully SET the ride's claim key wins,
// every later caller sees the key already held and loses.
type RedisClaimStore struct {
	client *redis.Client
}

// NewRedisClaimStore wraps an existing Redis client.
func NewRedisClaimStore(client *redis.Client) *RedisClaimStore {
	return &RedisClaimStore{client: client}
}

func claimKey(rideID string) string { return "claim:" + rideID }

// Claim attempts to win rideID for driverID. A zero ttl falls back to a
// conservative default so a crashed winner can't wedge the ride forever.
func (s *RedisClaimStore) Claim(ctx context.Context, rideID, driverID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	ok, err := s.client.SetNX(ctx, claimKey(rideID), driverID, ttl).Result()
	if err != nil {
		return false, dispatch.NewError(dispatch.KindTransientStore, "claim store unavailable", err)
	}
	return ok, nil
}

// Winner reports who currently holds rideID's claim, if anyone.
func (s *RedisClaimStore) Winner(ctx context.Context, rideID string) (string, bool, error) {
	driverID, err := s.client.Get(ctx, claimKey(rideID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, dispatch.NewError(dispatch.KindTransientStore, "claim store unavailable", err)
	}
	return driverID, true, nil
}

// Release frees rideID's claim slot, used when the winning claim cannot be
// turned into a MATCHED ride because the ride already left REQUESTED.
func (s *RedisClaimStore) Release(ctx context.Context, rideID string) error {
	return s.client.Del(ctx, claimKey(rideID)).Err()
}

// InMemoryClaimStore is the Redis-free fallback, used for local development
// and the CLI smoke/simulate tools.
type InMemoryClaimStore struct {
	mu      sync.Mutex
	holders map[string]claimEntry
}

type claimEntry struct {
	driverID string
	expiry   time.Time
}

// NewInMemoryClaimStore returns an empty store.
func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{holders: make(map[string]claimEntry)}
}

// Claim is the in-memory equivalent of Redis SET NX with expiry.
func (s *InMemoryClaimStore) Claim(_ context.Context, rideID, driverID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.holders[rideID]; ok && time.Now().Before(entry.expiry) {
		return false, nil
	}
	s.holders[rideID] = claimEntry{driverID: driverID, expiry: time.Now().Add(ttl)}
	return true, nil
}

// Winner reports the current non-expired claim holder, if any.
func (s *InMemoryClaimStore) Winner(_ context.Context, rideID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.holders[rideID]
	if !ok || time.Now().After(entry.expiry) {
		return "", false, nil
	}
	return entry.driverID, true, nil
}

// Release frees rideID's claim.
func (s *InMemoryClaimStore) Release(_ context.Context, rideID string) error {
	s.mu.Lock()
	delete(s.holders, rideID)
	s.mu.Unlock()
	return nil
}
