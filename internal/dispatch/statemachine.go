package dispatch

import "time"

// transition describes one legal edge in the ride lifecycle graph: the
// status it leaves from, the status it arrives at, and the mutation to
// apply to the ride's timestamps when it fires.
type transition struct {
	from  RideStatus
	to    RideStatus
	apply func(*Ride, time.Time)
}

// legalTransitions is the full lifecycle graph. Anything not listed here is
// rejected by Advance with KindInvalidTransition, including re-entering a
// terminal state.
var legalTransitions = []transition{
	{StatusRequested, StatusMatched, func(r *Ride, now time.Time) { r.MatchedAt = &now }},
	{StatusRequested, StatusCancelled, func(r *Ride, now time.Time) { r.CancelledAt = &now }},
	{StatusMatched, StatusDriverArriving, func(r *Ride, now time.Time) { r.DriverArrivingAt = &now }},
	{StatusMatched, StatusCancelled, func(r *Ride, now time.Time) { r.CancelledAt = &now }},
	{StatusDriverArriving, StatusInProgress, func(r *Ride, now time.Time) { r.StartAt = &now }},
	{StatusDriverArriving, StatusCancelled, func(r *Ride, now time.Time) { r.CancelledAt = &now }},
	{StatusInProgress, StatusCompleted, func(r *Ride, now time.Time) { r.CompletedAt = &now }},
}

// IsTerminal reports whether a ride in this status can never transition
// again.
func (s RideStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the lifecycle graph allows from -> to.
func CanTransition(from, to RideStatus) bool {
	for _, t := range legalTransitions {
		if t.from == from && t.to == to {
			return true
		}
	}
	return false
}

// Advance applies a lifecycle transition to ride in place, stamping the
// corresponding timestamp field and UpdatedAt. It is the single place that
// decides whether a status change is legal; the lifecycle driver routes
// every status change through it instead of setting Status directly. The
// Ride Store does not re-check transitions on write.
func Advance(ride *Ride, to RideStatus, now time.Time) error {
	if ride.Status == to {
		return NewError(KindInvalidTransition, "ride already in status "+string(to), nil)
	}
	for _, t := range legalTransitions {
		if t.from == ride.Status && t.to == to {
			ride.Status = to
			t.apply(ride, now)
			ride.UpdatedAt = now
			return nil
		}
	}
	if ride.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	return NewError(KindInvalidTransition, string(ride.Status)+" cannot advance to "+string(to), nil)
}
