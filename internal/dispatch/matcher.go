package dispatch

import (
	"context"
	"time"
)

// MatcherConfig carries the tunables the matching loop needs, mirroring the
// radius/timeout knobs in package config without importing it directly
// (config imports nothing from dispatch, but keeping this package
// dependency-free of config keeps the matcher testable with literals).
type MatcherConfig struct {
	InitialRadiusKM float64
	RadiusStepKM    float64
	MaxRadiusKM     float64
	RoundTimeout    time.Duration
	MatchTimeout    time.Duration
	ClaimTTL        time.Duration
	CandidatesPerRound int
}

// Matcher runs the radius-expanding nearest-driver search and the
// single-winner claim race. It owns no state of its own; every dependency
// is injected so it can be exercised against in-memory fakes.
type Matcher struct {
	Locations  LocationIndex
	Rides      RideStore
	Claims     ClaimStore
	Rejected   RejectionMemory
	Broadcasts BroadcastStore
	Notify     Notifier
	Clock      Clock
	Config     MatcherConfig
}

// NewMatcher wires a Matcher from its dependencies. broadcasts may be nil,
// in which case offer rounds run without a persisted broadcast record.
func NewMatcher(locations LocationIndex, rides RideStore, claims ClaimStore, rejected RejectionMemory, broadcasts BroadcastStore, notify Notifier, cfg MatcherConfig) *Matcher {
	return &Matcher{
		Locations:  locations,
		Rides:      rides,
		Claims:     claims,
		Rejected:   rejected,
		Broadcasts: broadcasts,
		Notify:     notify,
		Clock:      RealClock{},
		Config:     cfg,
	}
}

// rideOfferedPayload is what drivers receive when offered a ride.
type rideOfferedPayload struct {
	RideID        string     `json:"rideId"`
	Pickup        Coordinate `json:"pickup"`
	Destination   Coordinate `json:"destination"`
	EstimatedFare float64    `json:"estimatedFare"`
	DistanceKM    float64    `json:"distanceKm"`
	ExpiresAt     time.Time  `json:"expiresAt"`
}

// Match runs the full matching attempt for a REQUESTED ride: it expands the
// search radius round by round, broadcasts the offer to every eligible
// driver in range, and awaits the first claim. It returns ErrNoDriverFound
// if MatchTimeout elapses, or the overall radius ceiling is reached, with
// nobody claiming.
//
// The caller (the lifecycle driver) is responsible for persisting the
// MATCHED transition once Match returns a winning driver ID.
func (m *Matcher) Match(ctx context.Context, ride Ride) (driverID string, err error) {
	deadline := m.Clock.Now().Add(m.Config.MatchTimeout)
	radius := m.Config.InitialRadiusKM

	for radius <= m.Config.MaxRadiusKM {
		if m.Clock.Now().After(deadline) {
			return "", ErrNoDriverFound
		}

		if cancelled, cerr := m.rideCancelled(ctx, ride.ID); cerr == nil && cancelled {
			return "", ErrRideCancelled
		}

		rejected, rerr := m.Rejected.Rejected(ctx, ride.ID)
		if rerr != nil {
			return "", NewError(KindTransientStore, "reading rejection memory", rerr)
		}

		candidates, qerr := m.Locations.QueryNearby(ctx, ride.Pickup, radius, m.Config.CandidatesPerRound, LocationFilters{Exclude: rejected})
		if qerr != nil {
			return "", qerr
		}

		winner, werr := m.offerRound(ctx, ride, candidates, radius)
		if werr != nil {
			return "", werr
		}
		if winner != "" {
			return winner, nil
		}

		radius += m.Config.RadiusStepKM
	}

	return "", ErrNoDriverFound
}

// offerRound broadcasts ride to every candidate and waits up to
// RoundTimeout for the first successful claim. Candidates that do not
// respond or explicitly decline are added to the rejection set so the next
// round does not re-offer to them.
func (m *Matcher) offerRound(ctx context.Context, ride Ride, candidates []LocationCandidate, radiusKM float64) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}

	roundDeadline := m.Clock.Now().Add(m.Config.RoundTimeout)
	payload := rideOfferedPayload{
		RideID:        ride.ID,
		Pickup:        ride.Pickup,
		Destination:   ride.Destination,
		EstimatedFare: ride.EstimatedFare,
		DistanceKM:    ride.DistanceKM,
		ExpiresAt:     roundDeadline,
	}

	offered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		driver, err := m.Rides.GetDriver(ctx, c.DriverID)
		if err != nil || !driver.Available() {
			continue
		}
		if ride.ExtendedArea && !driver.AcceptExtendedArea {
			continue
		}
		if err := m.Notify.SendTo(c.DriverID, "ride_offer", payload); err != nil {
			continue
		}
		offered = append(offered, c.DriverID)
	}
	if len(offered) == 0 {
		return "", nil
	}

	if m.Broadcasts != nil {
		_ = m.Broadcasts.PutBroadcast(ctx, RideMatchBroadcast{
			RideID:    ride.ID,
			Notified:  offered,
			RadiusKM:  radiusKM,
			ExpiresAt: roundDeadline,
		})
		defer func() { _ = m.Broadcasts.DeleteBroadcast(ctx, ride.ID) }()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if cancelled, cerr := m.rideCancelled(ctx, ride.ID); cerr == nil && cancelled {
				for _, driverID := range offered {
					_ = m.Notify.SendTo(driverID, "ride_no_longer_available", map[string]string{"rideId": ride.ID, "reason": "cancelled"})
				}
				return "", ErrRideCancelled
			}
			winner, ok, err := m.Claims.Winner(ctx, ride.ID)
			if err == nil && ok {
				for _, other := range offered {
					if other == winner {
						continue
					}
					_ = m.Notify.SendTo(other, "ride_no_longer_available", map[string]string{"rideId": ride.ID, "reason": "already_matched"})
				}
				return winner, nil
			}
			if m.Clock.Now().After(roundDeadline) {
				for _, driverID := range offered {
					_ = m.Rejected.Reject(ctx, ride.ID, driverID)
				}
				return "", nil
			}
		}
	}
}

// rideCancelled reports whether ride has been cancelled by its rider (or
// otherwise) since the match attempt began, so an in-flight round can stop
// broadcasting to drivers for a ride nobody can accept anymore.
func (m *Matcher) rideCancelled(ctx context.Context, rideID string) (bool, error) {
	current, err := m.Rides.GetRide(ctx, rideID)
	if err != nil {
		return false, err
	}
	return current.Status == StatusCancelled, nil
}

// Reject records a driver's explicit decline so subsequent rounds skip
// them. It does not touch the ride's claim slot.
func (m *Matcher) Reject(ctx context.Context, rideID, driverID string) error {
	return m.Rejected.Reject(ctx, rideID, driverID)
}
