package realtime

import (
	"encoding/json"
	"time"
)

// Inbound message types a connected client may send. These mirror the
// message catalogue of the original service's WebSocket router one for
// one: location updates, and a driver's accept/reject response to an
// offered ride.
const (
	TypePing                = "ping"
	TypePong                = "pong"
	TypeDriverLocation      = "driver_location_update"
	TypeRideAccept          = "ride_accept"
	TypeRideReject          = "ride_reject"
)

// InboundMessage is the envelope every client message arrives in: a type
// tag plus a raw payload decoded according to that tag.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"data"`
}

// OutboundMessage is the envelope every server push uses: {type, data,
// timestamp?} per the session registry's wire contract.
type OutboundMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverLocationPayload is the body of a driver_location_update message.
type DriverLocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	RideID    string  `json:"rideId,omitempty"`
	Sequence  int64   `json:"sequence,omitempty"`
}

// RideResponsePayload is the body of ride_accept / ride_reject messages.
type RideResponsePayload struct {
	RideID string `json:"rideId"`
}

// newOutbound stamps an OutboundMessage with the current time, as every
// server push does per the session registry's wire contract.
func newOutbound(event string, payload any) OutboundMessage {
	return OutboundMessage{Type: event, Data: payload, Timestamp: time.Now()}
}
