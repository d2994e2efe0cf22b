package realtime

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
	"github.com/turbodriver/dispatch-core/internal/geo"
)

// Dispatcher turns inbound WebSocket messages into calls against the
// dispatch core, the same role the original service's websocket router
// played against MatchingService/LocationService.
type Dispatcher struct {
	Rides     dispatch.RideStore
	Locations dispatch.LocationIndex
	Lifecycle *dispatch.Lifecycle
	Claims    dispatch.ClaimStore
	Notify    *Registry

	PickupProximityM float64
	ProximityNotifyM float64
	ClaimTTL         time.Duration
}

// Handle is passed to Registry.Connect as the per-message callback.
func (d *Dispatcher) Handle(userID string, msg InboundMessage) {
	ctx := context.Background()
	switch msg.Type {
	case TypeDriverLocation:
		d.handleLocation(ctx, userID, msg.Payload)
	case TypeRideAccept:
		d.handleAccept(ctx, userID, msg.Payload)
	case TypeRideReject:
		d.handleReject(ctx, userID, msg.Payload)
	default:
		_ = d.Notify.SendTo(userID, "error", map[string]string{"message": "unknown message type"})
	}
}

func (d *Dispatcher) handleLocation(ctx context.Context, driverID string, raw json.RawMessage) {
	var payload DriverLocationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		_ = d.Notify.SendTo(driverID, "error", map[string]string{"message": "invalid location payload"})
		return
	}

	sample := dispatch.LocationSample{
		DriverID: driverID,
		Point:    dispatch.Coordinate{Latitude: payload.Latitude, Longitude: payload.Longitude},
		Accuracy: payload.Accuracy,
		Sequence: payload.Sequence,
	}
	if err := d.Locations.Upsert(ctx, sample); err != nil {
		log.Printf("realtime: location upsert failed for %s: %v", driverID, err)
		return
	}
	_ = d.Notify.SendTo(driverID, "location_update_ack", nil)

	if payload.RideID == "" {
		return
	}
	ride, err := d.Rides.GetRide(ctx, payload.RideID)
	if err != nil || ride.DriverID != driverID {
		return
	}

	_ = d.Notify.SendTo(ride.RiderID, "driver_location_update", payload)

	switch ride.Status {
	case dispatch.StatusMatched:
		distM := haversineMeters(ride.Pickup, sample.Point)
		if distM <= d.PickupProximityM {
			if _, err := d.Lifecycle.DriverArriving(ctx, ride.ID); err == nil {
				_ = d.Notify.SendTo(ride.RiderID, "driver_arriving", ride)
			}
		}
	case dispatch.StatusDriverArriving:
		distM := haversineMeters(ride.Pickup, sample.Point)
		if distM <= d.ProximityNotifyM {
			_ = d.Notify.SendTo(ride.RiderID, "driver_nearby", map[string]any{
				"rideId": ride.ID, "driverId": driverID, "distanceMeters": distM,
			})
		}
		if distM <= d.PickupProximityM {
			if _, err := d.Lifecycle.StartTrip(ctx, ride.ID, driverID); err == nil {
				_ = d.Notify.SendTo(ride.RiderID, "trip_started", ride)
			}
		}
	}
}

func (d *Dispatcher) handleAccept(ctx context.Context, driverID string, raw json.RawMessage) {
	var payload RideResponsePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		_ = d.Notify.SendTo(driverID, "ride_match_failed", map[string]string{"message": "invalid payload"})
		return
	}

	won, err := d.Claims.Claim(ctx, payload.RideID, driverID, d.ClaimTTL)
	if err != nil {
		_ = d.Notify.SendTo(driverID, "ride_match_processing", map[string]string{"rideId": payload.RideID})
		return
	}
	if !won {
		_ = d.Notify.SendTo(driverID, "ride_match_failed", map[string]string{"rideId": payload.RideID, "reason": "already_matched"})
		return
	}
	_ = d.Notify.SendTo(driverID, "ride_accept_confirmed", map[string]string{"rideId": payload.RideID})
}

func (d *Dispatcher) handleReject(ctx context.Context, driverID string, raw json.RawMessage) {
	var payload RideResponsePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		_ = d.Notify.SendTo(driverID, "ride_reject_failed", map[string]string{"message": "invalid payload"})
		return
	}
	if err := d.Lifecycle.Matcher.Reject(ctx, payload.RideID, driverID); err != nil {
		_ = d.Notify.SendTo(driverID, "ride_reject_failed", map[string]string{"rideId": payload.RideID})
		return
	}
	_ = d.Notify.SendTo(driverID, "ride_reject_confirmed", map[string]string{"rideId": payload.RideID})
}

func haversineMeters(a, b dispatch.Coordinate) float64 {
	return geo.Haversine(a, b) * 1000
}
