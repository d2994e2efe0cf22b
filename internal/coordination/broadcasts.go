package coordination

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

// RedisBroadcastStore persists the RideMatchBroadcast record for each
// in-flight offer round under ride:{id}:broadcast, so a crashed or
// restarted matcher process has a record of which rides had an offer out
// and to whom, instead of the round living only in goroutine memory.
type RedisBroadcastStore struct {
	client *redis.Client
}

// NewRedisBroadcastStore wraps an existing Redis client.
func NewRedisBroadcastStore(client *redis.Client) *RedisBroadcastStore {
	return &RedisBroadcastStore{client: client}
}

func broadcastKey(rideID string) string { return "ride:" + rideID + ":broadcast" }

type broadcastRecord struct {
	Notified  []string  `json:"notified"`
	RadiusKM  float64   `json:"radiusKm"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PutBroadcast writes or replaces the broadcast record for b.RideID, with
// a TTL matching its expiry so a stale round cleans itself up even if
// DeleteBroadcast is never called.
func (s *RedisBroadcastStore) PutBroadcast(ctx context.Context, b dispatch.RideMatchBroadcast) error {
	ttl := time.Until(b.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	raw, err := json.Marshal(broadcastRecord{Notified: b.Notified, RadiusKM: b.RadiusKM, ExpiresAt: b.ExpiresAt})
	if err != nil {
		return dispatch.NewError(dispatch.KindValidation, "encoding broadcast record", err)
	}
	if err := s.client.Set(ctx, broadcastKey(b.RideID), raw, ttl).Err(); err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "broadcast store unavailable", err)
	}
	return nil
}

// DeleteBroadcast removes the broadcast record once a round resolves,
// either by a claim winning or by the round expiring unclaimed.
func (s *RedisBroadcastStore) DeleteBroadcast(ctx context.Context, rideID string) error {
	if err := s.client.Del(ctx, broadcastKey(rideID)).Err(); err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "broadcast store unavailable", err)
	}
	return nil
}

// InMemoryBroadcastStore is the Redis-free fallback, used for local
// development and the CLI smoke/simulate tools.
type InMemoryBroadcastStore struct {
	mu      sync.Mutex
	records map[string]dispatch.RideMatchBroadcast
}

// NewInMemoryBroadcastStore returns an empty store.
func NewInMemoryBroadcastStore() *InMemoryBroadcastStore {
	return &InMemoryBroadcastStore{records: make(map[string]dispatch.RideMatchBroadcast)}
}

// PutBroadcast records b, overwriting any existing record for its ride.
func (s *InMemoryBroadcastStore) PutBroadcast(_ context.Context, b dispatch.RideMatchBroadcast) error {
	s.mu.Lock()
	s.records[b.RideID] = b
	s.mu.Unlock()
	return nil
}

// DeleteBroadcast removes the record for rideID, if any.
func (s *InMemoryBroadcastStore) DeleteBroadcast(_ context.Context, rideID string) error {
	s.mu.Lock()
	delete(s.records, rideID)
	s.mu.Unlock()
	return nil
}
