package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process RideStore behind one sync.RWMutex: a map of
// rides, a map of drivers, and a slice of events per ride. It backs the
// smoke/simulate CLIs and local development; production wires
// storage.Postgres instead.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]Ride
	drivers map[string]DriverState
	events  map[string][]RideEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]Ride),
		drivers: make(map[string]DriverState),
		events:  make(map[string][]RideEvent),
	}
}

// CreateRide inserts a new ride. A ride with the same ID is rejected as a
// conflict rather than silently overwritten.
func (s *MemoryStore) CreateRide(_ context.Context, ride Ride) (Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rides[ride.ID]; exists {
		return Ride{}, NewError(KindConflict, "ride already exists", nil)
	}
	s.rides[ride.ID] = ride
	return ride, nil
}

// GetRide returns a ride by ID.
func (s *MemoryStore) GetRide(_ context.Context, rideID string) (Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ride, ok := s.rides[rideID]
	if !ok {
		return Ride{}, ErrRideNotFound
	}
	return ride, nil
}

// UpdateRide replaces the stored ride wholesale. Callers are expected to
// have gone through the state machine's Advance before calling this; the
// store itself does not re-validate the transition.
func (s *MemoryStore) UpdateRide(_ context.Context, ride Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[ride.ID]; !ok {
		return ErrRideNotFound
	}
	s.rides[ride.ID] = ride
	return nil
}

// ListRidesByRider returns a rider's rides, most recent first.
func (s *MemoryStore) ListRidesByRider(_ context.Context, riderID string, limit, offset int) ([]Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Ride, 0)
	for _, ride := range s.rides {
		if ride.RiderID == riderID {
			matches = append(matches, ride)
		}
	}
	return paginate(matches, limit, offset), nil
}

// ListRidesByDriver returns a driver's rides, most recent first.
func (s *MemoryStore) ListRidesByDriver(_ context.Context, driverID string, limit, offset int) ([]Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Ride, 0)
	for _, ride := range s.rides {
		if ride.DriverID == driverID {
			matches = append(matches, ride)
		}
	}
	return paginate(matches, limit, offset), nil
}

func paginate(rides []Ride, limit, offset int) []Ride {
	sort.Slice(rides, func(i, j int) bool { return rides[i].RequestedAt.After(rides[j].RequestedAt) })
	if offset >= len(rides) {
		return []Ride{}
	}
	rides = rides[offset:]
	if limit > 0 && limit < len(rides) {
		rides = rides[:limit]
	}
	return rides
}

// UpsertDriver inserts or replaces a driver's availability record.
func (s *MemoryStore) UpsertDriver(_ context.Context, driver DriverState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[driver.ID] = driver
	return nil
}

// GetDriver returns a driver's availability record.
func (s *MemoryStore) GetDriver(_ context.Context, driverID string) (DriverState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	driver, ok := s.drivers[driverID]
	if !ok {
		return DriverState{}, ErrDriverNotFound
	}
	return driver, nil
}

// SetDriverRide assigns or clears the ride a driver is currently on, and
// flips availability to match: an empty rideID frees the driver, a
// non-empty one marks it busy.
func (s *MemoryStore) SetDriverRide(_ context.Context, driverID, rideID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	driver, ok := s.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}
	driver.RideID = rideID
	if rideID == "" {
		driver.Status = DriverAvailable
	} else {
		driver.Status = DriverBusy
	}
	driver.UpdatedAt = time.Now()
	s.drivers[driverID] = driver
	return nil
}

// AppendEvent records an audit-log entry for a ride.
func (s *MemoryStore) AppendEvent(_ context.Context, event RideEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.RideID] = append(s.events[event.RideID], event)
	return nil
}

// ListEvents returns a ride's audit log in the order it was recorded.
func (s *MemoryStore) ListEvents(_ context.Context, rideID string) ([]RideEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RideEvent, len(s.events[rideID]))
	copy(out, s.events[rideID])
	return out, nil
}
