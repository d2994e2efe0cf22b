// Package dispatch holds the central ride aggregate, the lifecycle state
// machine, the matching engine and the cancellation policy: the authoritative
// model of what a ride is and how it may change.
package dispatch

import "time"

// RideStatus is the wire form of a ride's position in the lifecycle graph.
// Values are lowercase snake_case, the canonical wire form chosen for this
// module (see DESIGN.md).
type RideStatus string

const (
	StatusRequested      RideStatus = "requested"
	StatusMatched        RideStatus = "matched"
	StatusDriverArriving RideStatus = "driver_arriving"
	StatusInProgress     RideStatus = "in_progress"
	StatusCompleted      RideStatus = "completed"
	StatusCancelled      RideStatus = "cancelled"
)

// DriverAvailability mirrors the Driver Availability Record's status enum.
type DriverAvailability string

const (
	DriverAvailable   DriverAvailability = "available"
	DriverUnavailable DriverAvailability = "unavailable"
	DriverBusy        DriverAvailability = "busy"
)

// PaymentStatus is the ride-level payment outcome.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Coordinate is a WGS84 geopoint with an optional free-text address.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// FareBreakdown itemizes an estimated or final fare.
type FareBreakdown struct {
	Base       float64 `json:"base"`
	Distance   float64 `json:"distance"`
	Time       float64 `json:"time,omitempty"`
	Surcharges float64 `json:"surcharges,omitempty"`
	Estimated  bool    `json:"estimated"`
	// FellBackToHaversine is set when the route distance could not be
	// obtained from the external map provider and 1.3*haversine was used.
	FellBackToHaversine bool `json:"fellBackToHaversine,omitempty"`
}

// Total sums the breakdown's components.
func (b FareBreakdown) Total() float64 {
	return b.Base + b.Distance + b.Time + b.Surcharges
}

// Ride is the central aggregate: identity, references, state, timestamps,
// fare and payment/cancellation details. Ownership is the Ride Store; every
// mutation flows through the state machine in statemachine.go.
type Ride struct {
	ID       string `json:"id"`
	RiderID  string `json:"riderId"`
	DriverID string `json:"driverId,omitempty"`

	Status RideStatus `json:"status"`

	Pickup      Coordinate `json:"pickup"`
	Destination Coordinate `json:"destination"`

	EstimatedFare float64       `json:"estimatedFare"`
	Breakdown     FareBreakdown `json:"breakdown"`
	FinalFare     *float64      `json:"finalFare,omitempty"`
	DistanceKM    float64       `json:"distanceKm"`

	RequestedAt      time.Time  `json:"requestedAt"`
	MatchedAt        *time.Time `json:"matchedAt,omitempty"`
	DriverArrivingAt *time.Time `json:"driverArrivingAt,omitempty"`
	StartAt          *time.Time `json:"startAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`

	PaymentStatus PaymentStatus `json:"paymentStatus"`
	TransactionID string        `json:"transactionId,omitempty"`

	CancelledBy  string  `json:"cancelledBy,omitempty"`
	CancelReason string  `json:"cancelReason,omitempty"`
	CancelFee    float64 `json:"cancelFee,omitempty"`

	ExtendedArea bool `json:"extendedArea,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DriverState is the Driver Availability Record.
type DriverState struct {
	ID                 string             `json:"id"`
	Status             DriverAvailability `json:"status"`
	Location           LocationSample     `json:"location"`
	RideID             string             `json:"rideId,omitempty"`
	Suspended          bool               `json:"suspended,omitempty"`
	AcceptExtendedArea bool               `json:"acceptExtendedArea,omitempty"`
	AcceptsParcel      bool               `json:"acceptsParcel,omitempty"`
	CancelCount        int                `json:"cancelCount,omitempty"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Available reports whether this driver may be offered new rides.
func (d DriverState) Available() bool {
	return d.Status == DriverAvailable && !d.Suspended && d.RideID == ""
}

// LocationSample is a single driver position reading.
type LocationSample struct {
	DriverID string     `json:"driverId"`
	Point    Coordinate `json:"point"`
	Accuracy float64    `json:"accuracy,omitempty"`
	At       time.Time  `json:"timestamp"`
	Sequence int64      `json:"-"`
}

// RideEvent is an append-only audit record of a ride transition or
// side-effect, used both for the admin event feed and for debugging the
// matching protocol.
type RideEvent struct {
	RideID    string         `json:"rideId"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	ActorID   string         `json:"actorId,omitempty"`
	ActorRole string         `json:"actorRole,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// IdentityRole enumerates the three identity kinds the core recognises.
type IdentityRole string

const (
	RoleRider  IdentityRole = "rider"
	RoleDriver IdentityRole = "driver"
	RoleAdmin  IdentityRole = "admin"
)

// Identity is an authenticated principal as resolved by the injected
// token verifier. Token issuance itself lives outside the core.
type Identity struct {
	ID        string       `json:"id"`
	Role      IdentityRole `json:"role"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}
