package dispatch

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
)

// Lifecycle is the driver for every ride-affecting operation: it is the one
// place that combines the state machine, the matching engine, fare
// calculation, payment orchestration and the cancellation policy into the
// operations the HTTP and realtime layers call. Handlers stay thin; all of
// the domain logic lives here.
type Lifecycle struct {
	Rides       RideStore
	Locations   LocationIndex
	Matcher     *Matcher
	Notify      Notifier
	Fare        FareCalculator
	Payments    PaymentOrchestrator
	Cancellation CancellationPolicy
	ServiceArea ServiceAreaChecker
	Clock       Clock

	rideLocks sync.Map // ride id -> *sync.Mutex
}

// lockRide serializes the read-modify-write sequence (GetRide, Advance,
// UpdateRide) for a single ride id: without it a cancel racing runMatch's
// MATCHED transition can silently lose an update. Callers defer the
// returned func to release the lock.
func (l *Lifecycle) lockRide(rideID string) func() {
	v, _ := l.rideLocks.LoadOrStore(rideID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// RequestRide validates a new ride request, prices it, persists it in
// StatusRequested, and kicks off an asynchronous matching attempt. The
// caller receives the ride immediately; matched/failed-to-match outcomes
// arrive over the realtime channel.
func (l *Lifecycle) RequestRide(ctx context.Context, riderID string, pickup, destination Coordinate) (Ride, error) {
	pickupOK, pickupExtended := l.ServiceArea.Validate(pickup.Latitude, pickup.Longitude)
	destOK, destExtended := l.ServiceArea.Validate(destination.Latitude, destination.Longitude)
	if !pickupOK || !destOK {
		return Ride{}, ErrOutOfServiceArea
	}

	distanceKM := haversineKM(pickup, destination)
	breakdown := l.Fare.Estimate(pickup, destination, distanceKM)

	now := l.Clock.Now()
	ride := Ride{
		ID:            "ride_" + uuid.NewString(),
		RiderID:       riderID,
		Status:        StatusRequested,
		Pickup:        pickup,
		Destination:   destination,
		EstimatedFare: breakdown.Total(),
		Breakdown:     breakdown,
		DistanceKM:    distanceKM,
		RequestedAt:   now,
		UpdatedAt:     now,
		PaymentStatus: PaymentPending,
		ExtendedArea:  pickupExtended || destExtended,
	}

	created, err := l.Rides.CreateRide(ctx, ride)
	if err != nil {
		return Ride{}, err
	}

	l.appendEvent(ctx, created.ID, "ride_requested", riderID, RoleRider, map[string]any{
		"pickup":        pickup,
		"destination":   destination,
		"estimatedFare": created.EstimatedFare,
	})

	go l.runMatch(created)

	return created, nil
}

// runMatch executes the matching engine for a just-created ride and applies
// the outcome. It runs detached from the originating HTTP request.
func (l *Lifecycle) runMatch(ride Ride) {
	ctx := context.Background()

	driverID, err := l.Matcher.Match(ctx, ride)
	if err != nil {
		if err == ErrRideCancelled {
			// The rider cancelled mid-match; Cancel already advanced the
			// ride and notified its counterparty, and the matcher already
			// told every offered driver ride_no_longer_available.
			return
		}
		l.appendEvent(ctx, ride.ID, "match_failed", "", "", map[string]any{"reason": "no_driver_found"})
		func() {
			defer l.lockRide(ride.ID)()
			current, gerr := l.Rides.GetRide(ctx, ride.ID)
			if gerr != nil {
				return
			}
			if aerr := Advance(&current, StatusCancelled, l.Clock.Now()); aerr == nil {
				current.CancelReason = "no_driver_found"
				_ = l.Rides.UpdateRide(ctx, current)
			}
		}()
		_ = l.Notify.SendTo(ride.RiderID, "ride_match_failed", map[string]string{"rideId": ride.ID, "reason": "no_driver_found"})
		return
	}

	unlock := l.lockRide(ride.ID)
	current, err := l.Rides.GetRide(ctx, ride.ID)
	if err != nil {
		unlock()
		return
	}
	if err := Advance(&current, StatusMatched, l.Clock.Now()); err != nil {
		unlock()
		_ = l.Matcher.Claims.Release(ctx, ride.ID)
		_ = l.Notify.SendTo(driverID, "ride_match_failed", map[string]string{"rideId": ride.ID, "reason": "already_terminal"})
		return
	}
	current.DriverID = driverID

	updateErr := l.Rides.UpdateRide(ctx, current)
	unlock()
	if updateErr != nil {
		return
	}
	_ = l.Rides.SetDriverRide(ctx, driverID, current.ID)

	l.appendEvent(ctx, current.ID, "ride_matched", driverID, RoleDriver, map[string]any{"driverId": driverID})

	_ = l.Notify.SendTo(current.RiderID, "ride_matched", current)
	_ = l.Notify.SendTo(driverID, "ride_match_confirmed", current)
}

// DriverArriving moves a matched ride into DRIVER_ARRIVING, called once the
// driver's location report puts them within pickup proximity.
func (l *Lifecycle) DriverArriving(ctx context.Context, rideID string) (Ride, error) {
	return l.transition(ctx, rideID, StatusDriverArriving, "driver_arriving", "", "", nil)
}

// StartTrip moves a ride into IN_PROGRESS once the driver has picked up the
// rider.
func (l *Lifecycle) StartTrip(ctx context.Context, rideID, driverID string) (Ride, error) {
	return l.transition(ctx, rideID, StatusInProgress, "trip_started", driverID, RoleDriver, nil)
}

// CompleteTrip moves a ride into COMPLETED, finalizes the fare and starts
// payment processing.
func (l *Lifecycle) CompleteTrip(ctx context.Context, rideID, driverID string, finalDistanceKM float64) (Ride, error) {
	unlock := l.lockRide(rideID)
	ride, err := l.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlock()
		return Ride{}, err
	}
	if ride.DriverID != driverID {
		unlock()
		return Ride{}, NewError(KindValidation, "driver does not own this ride", nil)
	}

	now := l.Clock.Now()
	if err := Advance(&ride, StatusCompleted, now); err != nil {
		unlock()
		return Ride{}, err
	}

	finalBreakdown := l.Fare.Estimate(ride.Pickup, ride.Destination, finalDistanceKM)
	final := l.Fare.Protect(ride.EstimatedFare, finalBreakdown.Total())
	ride.FinalFare = &final
	ride.DistanceKM = finalDistanceKM

	err = l.Rides.UpdateRide(ctx, ride)
	unlock()
	if err != nil {
		return Ride{}, err
	}
	_ = l.Rides.SetDriverRide(ctx, driverID, "")

	l.appendEvent(ctx, ride.ID, "ride_completed", driverID, RoleDriver, map[string]any{"finalFare": final})

	if l.Payments != nil {
		go l.processPayment(ride)
	}

	_ = l.Notify.SendTo(ride.RiderID, "ride_completed", ride)
	return ride, nil
}

func (l *Lifecycle) processPayment(ride Ride) {
	ctx := context.Background()
	txID, err := l.Payments.Charge(ctx, ride.ID, ride.RiderID, ride.DriverID, *ride.FinalFare)

	unlock := l.lockRide(ride.ID)
	current, gerr := l.Rides.GetRide(ctx, ride.ID)
	if gerr != nil {
		unlock()
		return
	}
	if err != nil {
		current.PaymentStatus = PaymentFailed
		l.appendEvent(ctx, ride.ID, "payment_failed", "", "", map[string]any{"reason": err.Error()})
	} else {
		current.PaymentStatus = PaymentCompleted
		current.TransactionID = txID
		l.appendEvent(ctx, ride.ID, "payment_completed", "", "", map[string]any{"transactionId": txID})
	}
	_ = l.Rides.UpdateRide(ctx, current)
	unlock()
	_ = l.Notify.SendTo(current.RiderID, "payment_result", current)
}

// Cancel cancels a ride on behalf of by, applying the cancellation fee
// policy and freeing the assigned driver if there was one.
func (l *Lifecycle) Cancel(ctx context.Context, rideID, actorID string, by IdentityRole, reason string) (Ride, error) {
	unlock := l.lockRide(rideID)
	ride, err := l.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlock()
		return Ride{}, err
	}

	now := l.Clock.Now()
	if err := Advance(&ride, StatusCancelled, now); err != nil {
		unlock()
		return Ride{}, err
	}

	fee := l.Cancellation.Evaluate(ride, by, now)
	ride.CancelledBy = actorID
	ride.CancelReason = reason
	ride.CancelFee = fee

	if ride.DriverID != "" {
		if driver, derr := l.Rides.GetDriver(ctx, ride.DriverID); derr == nil {
			driver.RideID = ""
			driver.Status = DriverAvailable
			if by == RoleDriver {
				driver.CancelCount++
			}
			_ = l.Rides.UpsertDriver(ctx, driver)
		}
	}

	err = l.Rides.UpdateRide(ctx, ride)
	unlock()
	if err != nil {
		return Ride{}, err
	}

	l.appendEvent(ctx, ride.ID, "ride_cancelled", actorID, by, map[string]any{
		"reason": reason,
		"fee":    fee,
		"by":     by,
	})

	other := ride.RiderID
	if by == RoleRider && ride.DriverID != "" {
		other = ride.DriverID
	}
	_ = l.Notify.SendTo(other, "ride_cancelled", ride)

	return ride, nil
}

// transition is a small helper for the single-timestamp lifecycle steps
// that don't carry extra side effects beyond persistence, an event record
// and a notification to the rider.
func (l *Lifecycle) transition(ctx context.Context, rideID string, to RideStatus, eventType, actorID string, actorRole IdentityRole, extra map[string]any) (Ride, error) {
	unlock := l.lockRide(rideID)
	ride, err := l.Rides.GetRide(ctx, rideID)
	if err != nil {
		unlock()
		return Ride{}, err
	}
	if err := Advance(&ride, to, l.Clock.Now()); err != nil {
		unlock()
		return Ride{}, err
	}
	err = l.Rides.UpdateRide(ctx, ride)
	unlock()
	if err != nil {
		return Ride{}, err
	}
	l.appendEvent(ctx, ride.ID, eventType, actorID, actorRole, extra)
	_ = l.Notify.SendTo(ride.RiderID, "ride_status_changed", ride)
	return ride, nil
}

func (l *Lifecycle) appendEvent(ctx context.Context, rideID, eventType, actorID string, actorRole IdentityRole, payload map[string]any) {
	_ = l.Rides.AppendEvent(ctx, RideEvent{
		RideID:    rideID,
		Type:      eventType,
		Payload:   payload,
		ActorID:   actorID,
		ActorRole: string(actorRole),
		CreatedAt: l.Clock.Now(),
	})
}

func haversineKM(a, b Coordinate) float64 {
	const earthRadiusKM = 6371
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
