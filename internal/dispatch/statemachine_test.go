package dispatch

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from RideStatus
		to   RideStatus
		want bool
	}{
		{"requested to matched", StatusRequested, StatusMatched, true},
		{"requested to cancelled", StatusRequested, StatusCancelled, true},
		{"matched to driver_arriving", StatusMatched, StatusDriverArriving, true},
		{"matched to cancelled", StatusMatched, StatusCancelled, true},
		{"driver_arriving to in_progress", StatusDriverArriving, StatusInProgress, true},
		{"driver_arriving to cancelled", StatusDriverArriving, StatusCancelled, true},
		{"in_progress to completed", StatusInProgress, StatusCompleted, true},
		{"requested to in_progress is illegal", StatusRequested, StatusInProgress, false},
		{"completed to cancelled is illegal", StatusCompleted, StatusCancelled, false},
		{"cancelled to requested is illegal", StatusCancelled, StatusRequested, false},
		{"in_progress to matched is illegal", StatusInProgress, StatusMatched, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status RideStatus
		want   bool
	}{
		{StatusRequested, false},
		{StatusMatched, false},
		{StatusDriverArriving, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAdvance_StampsTimestamps(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		ride  Ride
		to    RideStatus
		check func(*testing.T, Ride)
	}{
		{
			name: "requested to matched stamps MatchedAt",
			ride: Ride{Status: StatusRequested},
			to:   StatusMatched,
			check: func(t *testing.T, r Ride) {
				if r.MatchedAt == nil || !r.MatchedAt.Equal(now) {
					t.Error("expected MatchedAt to be stamped")
				}
			},
		},
		{
			name: "matched to driver_arriving stamps DriverArrivingAt",
			ride: Ride{Status: StatusMatched},
			to:   StatusDriverArriving,
			check: func(t *testing.T, r Ride) {
				if r.DriverArrivingAt == nil || !r.DriverArrivingAt.Equal(now) {
					t.Error("expected DriverArrivingAt to be stamped")
				}
			},
		},
		{
			name: "driver_arriving to in_progress stamps StartAt",
			ride: Ride{Status: StatusDriverArriving},
			to:   StatusInProgress,
			check: func(t *testing.T, r Ride) {
				if r.StartAt == nil || !r.StartAt.Equal(now) {
					t.Error("expected StartAt to be stamped")
				}
			},
		},
		{
			name: "in_progress to completed stamps CompletedAt",
			ride: Ride{Status: StatusInProgress},
			to:   StatusCompleted,
			check: func(t *testing.T, r Ride) {
				if r.CompletedAt == nil || !r.CompletedAt.Equal(now) {
					t.Error("expected CompletedAt to be stamped")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ride := tt.ride
			if err := Advance(&ride, tt.to, now); err != nil {
				t.Fatalf("Advance returned error: %v", err)
			}
			if ride.Status != tt.to {
				t.Errorf("Status = %s, want %s", ride.Status, tt.to)
			}
			if !ride.UpdatedAt.Equal(now) {
				t.Error("expected UpdatedAt to be stamped")
			}
			tt.check(t, ride)
		})
	}
}

func TestAdvance_RejectsIllegalTransition(t *testing.T) {
	ride := Ride{Status: StatusRequested}
	err := Advance(&ride, StatusInProgress, time.Now())
	if err == nil {
		t.Fatal("expected error for illegal transition")
	}
	if KindOf(err) != KindInvalidTransition {
		t.Errorf("KindOf(err) = %s, want %s", KindOf(err), KindInvalidTransition)
	}
}

func TestAdvance_RejectsReenteringTerminal(t *testing.T) {
	ride := Ride{Status: StatusCompleted}
	err := Advance(&ride, StatusCompleted, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindInvalidTransition {
		t.Errorf("KindOf(err) = %s, want %s", KindOf(err), KindInvalidTransition)
	}
}

func TestAdvance_AlreadyTerminal(t *testing.T) {
	ride := Ride{Status: StatusCancelled}
	err := Advance(&ride, StatusMatched, time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if err != ErrAlreadyTerminal {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}
