package geo

import (
	"context"
	"testing"
	"time"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

func sample(driverID string, lat, lon float64, seq int64, at time.Time) dispatch.LocationSample {
	return dispatch.LocationSample{
		DriverID: driverID,
		Point:    dispatch.Coordinate{Latitude: lat, Longitude: lon},
		Sequence: seq,
		At:       at,
	}
}

func TestInMemoryIndex_UpsertAndGet(t *testing.T) {
	idx := NewInMemoryIndex(0)
	ctx := context.Background()
	now := time.Now()

	if err := idx.Upsert(ctx, sample("d1", 40.758, -73.9855, 1, now)); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	got, ok, err := idx.Get(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got.Point.Latitude != 40.758 {
		t.Errorf("Latitude = %v, want 40.758", got.Point.Latitude)
	}
}

func TestInMemoryIndex_DropsOutOfOrderSamples(t *testing.T) {
	idx := NewInMemoryIndex(0)
	ctx := context.Background()
	now := time.Now()

	_ = idx.Upsert(ctx, sample("d1", 40.0, -73.0, 5, now))
	_ = idx.Upsert(ctx, sample("d1", 41.0, -74.0, 3, now))

	got, _, _ := idx.Get(ctx, "d1")
	if got.Point.Latitude != 40.0 {
		t.Errorf("expected stale sample to be dropped, got latitude %v", got.Point.Latitude)
	}
}

func TestInMemoryIndex_QueryNearby_SortsByDistanceAndLimits(t *testing.T) {
	idx := NewInMemoryIndex(0)
	ctx := context.Background()
	now := time.Now()
	origin := dispatch.Coordinate{Latitude: 40.758, Longitude: -73.9855}

	_ = idx.Upsert(ctx, sample("near", 40.759, -73.9855, 1, now))
	_ = idx.Upsert(ctx, sample("mid", 40.77, -73.9855, 1, now))
	_ = idx.Upsert(ctx, sample("far", 41.5, -73.9855, 1, now))

	candidates, err := idx.QueryNearby(ctx, origin, 10, 2, dispatch.LocationFilters{})
	if err != nil {
		t.Fatalf("QueryNearby error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].DriverID != "near" {
		t.Errorf("expected nearest driver first, got %s", candidates[0].DriverID)
	}
}

func TestInMemoryIndex_QueryNearby_ExcludesFiltered(t *testing.T) {
	idx := NewInMemoryIndex(0)
	ctx := context.Background()
	now := time.Now()
	origin := dispatch.Coordinate{Latitude: 40.758, Longitude: -73.9855}

	_ = idx.Upsert(ctx, sample("d1", 40.759, -73.9855, 1, now))
	_ = idx.Upsert(ctx, sample("d2", 40.760, -73.9855, 1, now))

	candidates, err := idx.QueryNearby(ctx, origin, 10, 5, dispatch.LocationFilters{Exclude: map[string]struct{}{"d1": {}}})
	if err != nil {
		t.Fatalf("QueryNearby error: %v", err)
	}
	for _, c := range candidates {
		if c.DriverID == "d1" {
			t.Error("expected d1 to be excluded")
		}
	}
}

func TestInMemoryIndex_QueryNearby_ExcludesStale(t *testing.T) {
	idx := NewInMemoryIndex(time.Minute)
	ctx := context.Background()
	origin := dispatch.Coordinate{Latitude: 40.758, Longitude: -73.9855}

	_ = idx.Upsert(ctx, sample("fresh", 40.759, -73.9855, 1, time.Now()))
	_ = idx.Upsert(ctx, sample("stale", 40.760, -73.9855, 1, time.Now().Add(-time.Hour)))

	candidates, err := idx.QueryNearby(ctx, origin, 10, 5, dispatch.LocationFilters{})
	if err != nil {
		t.Fatalf("QueryNearby error: %v", err)
	}
	for _, c := range candidates {
		if c.DriverID == "stale" {
			t.Error("expected stale sample to be excluded")
		}
	}
}

func TestInMemoryIndex_Remove(t *testing.T) {
	idx := NewInMemoryIndex(0)
	ctx := context.Background()
	_ = idx.Upsert(ctx, sample("d1", 40.0, -73.0, 1, time.Now()))
	if err := idx.Remove(ctx, "d1"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	_, ok, _ := idx.Get(ctx, "d1")
	if ok {
		t.Error("expected driver to be removed")
	}
}
