package geo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

// InMemoryIndex is the fallback Location Index used when Redis is
// unavailable (local development, the smoke/simulate CLIs). It implements
// the same query surface as Index, trading O(n) scans for no external
// dependency.
type InMemoryIndex struct {
	mu       sync.RWMutex
	samples  map[string]dispatch.LocationSample
	StaleTTL time.Duration
}

// NewInMemoryIndex returns an empty in-memory index. Samples older than
// staleTTL are excluded from QueryNearby results; zero disables the check.
func NewInMemoryIndex(staleTTL time.Duration) *InMemoryIndex {
	return &InMemoryIndex{samples: make(map[string]dispatch.LocationSample), StaleTTL: staleTTL}
}

// Upsert records a driver's position, dropping out-of-order samples.
func (g *InMemoryIndex) Upsert(_ context.Context, sample dispatch.LocationSample) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.samples[sample.DriverID]; ok && sample.Sequence != 0 && sample.Sequence <= existing.Sequence {
		return nil
	}
	g.samples[sample.DriverID] = sample
	return nil
}

// Remove drops a driver from the index.
func (g *InMemoryIndex) Remove(_ context.Context, driverID string) error {
	g.mu.Lock()
	delete(g.samples, driverID)
	g.mu.Unlock()
	return nil
}

// Get returns a driver's last known sample.
func (g *InMemoryIndex) Get(_ context.Context, driverID string) (dispatch.LocationSample, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.samples[driverID]
	return s, ok, nil
}

// QueryNearby scans every tracked driver and returns up to limit within
// radiusKM, nearest first, ties broken by most-recently-updated.
func (g *InMemoryIndex) QueryNearby(_ context.Context, point dispatch.Coordinate, radiusKM float64, limit int, filters dispatch.LocationFilters) ([]dispatch.LocationCandidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	now := time.Now()
	candidates := make([]dispatch.LocationCandidate, 0, len(g.samples))
	for id, sample := range g.samples {
		if filters.Excludes(id) {
			continue
		}
		if g.StaleTTL > 0 && now.Sub(sample.At) > g.StaleTTL {
			continue
		}
		dist := Haversine(point, sample.Point)
		if dist > radiusKM {
			continue
		}
		candidates = append(candidates, dispatch.LocationCandidate{DriverID: id, DistanceKM: dist, LastUpdated: sample.At.UnixNano()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKM != candidates[j].DistanceKM {
			return candidates[i].DistanceKM < candidates[j].DistanceKM
		}
		return candidates[i].LastUpdated > candidates[j].LastUpdated
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// HealthCheck is always nil; there is nothing external to ping.
func (g *InMemoryIndex) HealthCheck(context.Context) error { return nil }
