package dispatch

import (
	"context"
	"time"
)

// LocationIndex is the contract the matching engine and the location-report
// handler use to place and find drivers. Concrete implementations live in
// package geo; this interface is declared here, against this package's own
// types, so geo can depend on dispatch without dispatch depending back on
// geo.
type LocationIndex interface {
	Upsert(ctx context.Context, sample LocationSample) error
	Remove(ctx context.Context, driverID string) error
	Get(ctx context.Context, driverID string) (LocationSample, bool, error)
	QueryNearby(ctx context.Context, point Coordinate, radiusKM float64, limit int, filters LocationFilters) ([]LocationCandidate, error)
	HealthCheck(ctx context.Context) error
}

// LocationCandidate is a driver returned from a nearby query.
type LocationCandidate struct {
	DriverID    string
	DistanceKM  float64
	LastUpdated int64
}

// LocationFilters narrows a QueryNearby call.
type LocationFilters struct {
	Exclude map[string]struct{}
}

// Excludes reports whether driverID has been ruled out.
func (f LocationFilters) Excludes(driverID string) bool {
	if f.Exclude == nil {
		return false
	}
	_, ok := f.Exclude[driverID]
	return ok
}

// RideStore is the persistence contract for rides and drivers: everything
// the matcher, the lifecycle driver and the HTTP layer need without
// depending on a concrete database.
type RideStore interface {
	CreateRide(ctx context.Context, ride Ride) (Ride, error)
	GetRide(ctx context.Context, rideID string) (Ride, error)
	UpdateRide(ctx context.Context, ride Ride) error
	ListRidesByRider(ctx context.Context, riderID string, limit, offset int) ([]Ride, error)
	ListRidesByDriver(ctx context.Context, driverID string, limit, offset int) ([]Ride, error)

	UpsertDriver(ctx context.Context, driver DriverState) error
	GetDriver(ctx context.Context, driverID string) (DriverState, error)
	SetDriverRide(ctx context.Context, driverID, rideID string) error

	AppendEvent(ctx context.Context, event RideEvent) error
	ListEvents(ctx context.Context, rideID string) ([]RideEvent, error)
}

// Notifier delivers realtime messages to connected riders/drivers. The
// concrete Session Registry lives in package realtime.
type Notifier interface {
	SendTo(userID string, event string, payload any) error
	IsConnected(userID string) bool
}

// ClaimStore arbitrates the single-winner race when a ride offer is
// broadcast to several drivers at once: the first Claim to succeed wins,
// everyone else gets false. Concrete implementation lives in package
// coordination (Redis SET NX, with an in-memory fallback).
type ClaimStore interface {
	Claim(ctx context.Context, rideID, driverID string, ttl time.Duration) (bool, error)
	Winner(ctx context.Context, rideID string) (driverID string, ok bool, err error)
	Release(ctx context.Context, rideID string) error
}

// RejectionMemory remembers which drivers have already turned down or
// timed out on a ride, so the next radius-expansion round does not
// re-offer it to them.
type RejectionMemory interface {
	Reject(ctx context.Context, rideID, driverID string) error
	Rejected(ctx context.Context, rideID string) (map[string]struct{}, error)
}

// RideMatchBroadcast records one offer round: who it went out to, how wide
// the search radius was, and when the round expires. Persisting it lets a
// restarted matcher process see which rides had an offer in flight instead
// of silently dropping them.
type RideMatchBroadcast struct {
	RideID    string
	Notified  []string
	RadiusKM  float64
	ExpiresAt time.Time
}

// BroadcastStore persists RideMatchBroadcast records for in-flight offer
// rounds. Concrete implementation lives in package coordination.
type BroadcastStore interface {
	PutBroadcast(ctx context.Context, b RideMatchBroadcast) error
	DeleteBroadcast(ctx context.Context, rideID string) error
}

// ServiceAreaChecker validates a point against the deployment's primary and
// extended service boundaries. Implemented by geo.ServiceArea.
type ServiceAreaChecker interface {
	Validate(lat, lon float64) (inArea, extended bool)
}

// FareCalculator turns a trip into a priced breakdown. Implemented by
// package fare.
type FareCalculator interface {
	Estimate(pickup, destination Coordinate, distanceKM float64) FareBreakdown
	Protect(estimated, final float64) float64
}

// PaymentOrchestrator charges a completed ride and reports the transaction
// it created. Implemented by package payment.
type PaymentOrchestrator interface {
	Charge(ctx context.Context, rideID, riderID, driverID string, amount float64) (transactionID string, err error)
}

// Clock abstracts time.Now so tests can control elapsed time. Production
// code uses RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }
