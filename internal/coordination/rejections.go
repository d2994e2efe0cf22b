package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

// RedisRejectionMemory tracks, per ride, which drivers have already been
// offered and passed on it (explicit decline or round timeout), backed by
// a Redis set with a TTL matching the overall match timeout.
type RedisRejectionMemory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRejectionMemory wraps an existing Redis client.
func NewRedisRejectionMemory(client *redis.Client, ttl time.Duration) *RedisRejectionMemory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisRejectionMemory{client: client, ttl: ttl}
}

func rejectionKey(rideID string) string { return "rejected:" + rideID }

// Reject records that driverID has passed on rideID.
func (m *RedisRejectionMemory) Reject(ctx context.Context, rideID, driverID string) error {
	key := rejectionKey(rideID)
	if err := m.client.SAdd(ctx, key, driverID).Err(); err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "rejection memory unavailable", err)
	}
	return m.client.Expire(ctx, key, m.ttl).Err()
}

// Rejected returns the set of drivers who have already passed on rideID.
func (m *RedisRejectionMemory) Rejected(ctx context.Context, rideID string) (map[string]struct{}, error) {
	members, err := m.client.SMembers(ctx, rejectionKey(rideID)).Result()
	if err != nil {
		return nil, dispatch.NewError(dispatch.KindTransientStore, "rejection memory unavailable", err)
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set, nil
}

// InMemoryRejectionMemory is the Redis-free fallback.
type InMemoryRejectionMemory struct {
	mu   sync.Mutex
	byRide map[string]map[string]struct{}
}

// NewInMemoryRejectionMemory returns an empty store.
func NewInMemoryRejectionMemory() *InMemoryRejectionMemory {
	return &InMemoryRejectionMemory{byRide: make(map[string]map[string]struct{})}
}

// Reject records a decline in memory.
func (m *InMemoryRejectionMemory) Reject(_ context.Context, rideID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byRide[rideID] == nil {
		m.byRide[rideID] = make(map[string]struct{})
	}
	m.byRide[rideID][driverID] = struct{}{}
	return nil
}

// Rejected returns a copy of the rejection set for rideID.
func (m *InMemoryRejectionMemory) Rejected(_ context.Context, rideID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(m.byRide[rideID]))
	for id := range m.byRide[rideID] {
		set[id] = struct{}{}
	}
	return set, nil
}
