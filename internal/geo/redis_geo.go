package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

// Index wraps a Redis GEO index plus a per-driver metadata hash, giving the
// Location Index both positional search and the driver's last-seen sample
// (needed for the monotonic-timestamp guard and for serving Get).
type Index struct {
	client  *redis.Client
	geoKey  string
	metaKey string

	mu       sync.Mutex
	sequence map[string]int64

	// StaleTTL excludes samples older than this from QueryNearby. Zero
	// disables the check.
	StaleTTL time.Duration
}

// NewIndex wraps an existing Redis client.
func NewIndex(client *redis.Client, staleTTL time.Duration) *Index {
	return &Index{
		client:   client,
		geoKey:   "drivers:geo",
		metaKey:  "drivers:meta",
		sequence: make(map[string]int64),
		StaleTTL: staleTTL,
	}
}

type driverMeta struct {
	Accuracy float64   `json:"accuracy"`
	At       time.Time `json:"at"`
	Sequence int64     `json:"sequence"`
}

// Upsert records a driver's position. Samples older than the one already on
// file are dropped rather than applied, guarding against out-of-order
// delivery over an unreliable transport.
func (i *Index) Upsert(ctx context.Context, sample dispatch.LocationSample) error {
	i.mu.Lock()
	last := i.sequence[sample.DriverID]
	if sample.Sequence != 0 && sample.Sequence <= last {
		i.mu.Unlock()
		return nil
	}
	i.sequence[sample.DriverID] = sample.Sequence
	i.mu.Unlock()

	if err := i.client.GeoAdd(ctx, i.geoKey, &redis.GeoLocation{
		Name:      sample.DriverID,
		Longitude: sample.Point.Longitude,
		Latitude:  sample.Point.Latitude,
	}).Err(); err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "geo index unavailable", err)
	}

	meta := driverMeta{Accuracy: sample.Accuracy, At: sample.At, Sequence: sample.Sequence}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := i.client.HSet(ctx, i.metaKey, sample.DriverID, raw).Err(); err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "geo index unavailable", err)
	}
	return nil
}

// Remove drops a driver from the index, used when a driver goes offline or
// its heartbeat TTL expires.
func (i *Index) Remove(ctx context.Context, driverID string) error {
	i.client.HDel(ctx, i.metaKey, driverID)
	return i.client.ZRem(ctx, i.geoKey, driverID).Err()
}

// Get returns a driver's last known sample.
func (i *Index) Get(ctx context.Context, driverID string) (dispatch.LocationSample, bool, error) {
	pos, err := i.client.GeoPos(ctx, i.geoKey, driverID).Result()
	if err != nil || len(pos) == 0 || pos[0] == nil {
		return dispatch.LocationSample{}, false, nil
	}
	var meta driverMeta
	raw, err := i.client.HGet(ctx, i.metaKey, driverID).Result()
	if err == nil {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	return dispatch.LocationSample{
		DriverID: driverID,
		Point:    dispatch.Coordinate{Latitude: pos[0].Lat, Longitude: pos[0].Longitude},
		Accuracy: meta.Accuracy,
		At:       meta.At,
		Sequence: meta.Sequence,
	}, true, nil
}

// QueryNearby returns up to limit drivers within radiusKM of point, nearest
// first, excluding anything Filters rules out.
func (i *Index) QueryNearby(ctx context.Context, point dispatch.Coordinate, radiusKM float64, limit int, filters dispatch.LocationFilters) ([]dispatch.LocationCandidate, error) {
	results, err := i.client.GeoSearchLocation(ctx, i.geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  point.Longitude,
			Latitude:   point.Latitude,
			Radius:     radiusKM,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit + len(filters.Exclude),
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, dispatch.NewError(dispatch.KindTransientStore, "geo index unavailable", err)
	}

	now := time.Now()
	candidates := make([]dispatch.LocationCandidate, 0, len(results))
	for _, r := range results {
		if filters.Excludes(r.Name) {
			continue
		}
		if i.StaleTTL > 0 {
			raw, err := i.client.HGet(ctx, i.metaKey, r.Name).Result()
			if err != nil {
				continue
			}
			var meta driverMeta
			if err := json.Unmarshal([]byte(raw), &meta); err != nil || now.Sub(meta.At) > i.StaleTTL {
				continue
			}
		}
		candidates = append(candidates, dispatch.LocationCandidate{DriverID: r.Name, DistanceKM: r.Dist})
		if len(candidates) >= limit {
			break
		}
	}
	return candidates, nil
}

// HealthCheck confirms the Redis connection is alive.
func (i *Index) HealthCheck(ctx context.Context) error {
	if err := i.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis geo index: %w", err)
	}
	return nil
}
