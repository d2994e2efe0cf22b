package dispatch

import "time"

// CancellationPolicy decides the fee owed when a rider or driver cancels a
// matched ride. Cancelling a still-REQUESTED ride is always free; past that
// point a grace window applies, measured from the moment a driver was
// matched.
type CancellationPolicy struct {
	GraceWindow time.Duration
	Fee         float64
}

// NewCancellationPolicy builds a policy from configuration.
func NewCancellationPolicy(graceWindow time.Duration, fee float64) CancellationPolicy {
	return CancellationPolicy{GraceWindow: graceWindow, Fee: fee}
}

// Evaluate computes the fee for cancelling ride at now, given who initiated
// it. A rider who cancels within the grace window after match, or before a
// driver was ever assigned, pays nothing. A driver who cancels never pays a
// rider-facing fee, but the cancellation still counts against the driver's
// record (see DriverState.CancelCount); that bookkeeping happens in
// Lifecycle.Cancel, not here.
func (p CancellationPolicy) Evaluate(ride Ride, by IdentityRole, now time.Time) float64 {
	if by == RoleDriver {
		return 0
	}
	if ride.MatchedAt == nil {
		return 0
	}
	if now.Sub(*ride.MatchedAt) <= p.GraceWindow {
		return 0
	}
	return p.Fee
}
