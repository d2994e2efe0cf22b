package dispatch

import (
	"testing"
	"time"
)

func TestCancellationPolicy_Evaluate(t *testing.T) {
	policy := NewCancellationPolicy(2*time.Minute, 5.0)
	matchedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ride Ride
		by   IdentityRole
		now  time.Time
		want float64
	}{
		{
			name: "driver never pays",
			ride: Ride{MatchedAt: &matchedAt},
			by:   RoleDriver,
			now:  matchedAt.Add(10 * time.Minute),
			want: 0,
		},
		{
			name: "rider cancels before any match",
			ride: Ride{},
			by:   RoleRider,
			now:  matchedAt,
			want: 0,
		},
		{
			name: "rider cancels within grace window",
			ride: Ride{MatchedAt: &matchedAt},
			by:   RoleRider,
			now:  matchedAt.Add(1 * time.Minute),
			want: 0,
		},
		{
			name: "rider cancels exactly at grace window boundary",
			ride: Ride{MatchedAt: &matchedAt},
			by:   RoleRider,
			now:  matchedAt.Add(2 * time.Minute),
			want: 0,
		},
		{
			name: "rider cancels after grace window",
			ride: Ride{MatchedAt: &matchedAt},
			by:   RoleRider,
			now:  matchedAt.Add(3 * time.Minute),
			want: 5.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Evaluate(tt.ride, tt.by, tt.now); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}
