// Package fare prices rides: a base-plus-distance breakdown and the fare
// protection cap applied when the trip's final distance diverges from the
// estimate.
package fare

import (
	"math"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

// Calculator computes a FareBreakdown from trip distance and enforces the
// fare-protection threshold at settlement time.
type Calculator struct {
	BaseFare                float64
	PerKMRate               float64
	FareProtectionThreshold float64
}

// NewCalculator builds a Calculator from configuration.
func NewCalculator(baseFare, perKMRate, protectionThreshold float64) *Calculator {
	return &Calculator{
		BaseFare:                baseFare,
		PerKMRate:               perKMRate,
		FareProtectionThreshold: protectionThreshold,
	}
}

// Estimate prices a trip by distance. Time-based and surcharge components
// are left at zero for now; the breakdown leaves room for either without a
// shape change.
func (c *Calculator) Estimate(pickup, destination dispatch.Coordinate, distanceKM float64) dispatch.FareBreakdown {
	return dispatch.FareBreakdown{
		Base:      round2(c.BaseFare),
		Distance:  round2(distanceKM * c.PerKMRate),
		Estimated: true,
	}
}

// Protect caps the final fare at estimated*(1+threshold): if the metered
// trip comes in materially higher than what the rider was quoted, the rider
// pays the capped amount and the platform absorbs the difference.
func (c *Calculator) Protect(estimated, final float64) float64 {
	if estimated <= 0 {
		return round2(final)
	}
	cap := estimated * (1 + c.FareProtectionThreshold)
	if final > cap {
		return round2(cap)
	}
	return round2(final)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
