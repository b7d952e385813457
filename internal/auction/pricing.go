package auction

import (
	fpmath "CDPLedger/internal/math"
)

// Offering-ratio curve anchors, elapsed seconds since auction start.
// The ratio holds at the floor through a short grace window, climbs
// steeply over the first hour, then ramps to the full balance at the
// five-day horizon. All ratios are at fpmath.Scale.
const (
	FloorRatio = 300_000 // 30% of the remaining balance

	graceEndSeconds = 60
	rampOneSeconds  = 120
	rampOneRatio    = 340_000
	rampTwoSeconds  = 3_600
	rampTwoRatio    = 600_000

	// HorizonSeconds is when the full remaining balance becomes available.
	HorizonSeconds = 432_000 // 5 days
)

// OfferingRatio returns the fraction of the remaining collateral currently
// offered, given seconds elapsed since the auction started. Piecewise
// linear, monotone non-decreasing, clamped to [FloorRatio, RatioOne].
func OfferingRatio(elapsed int64) int64 {
	switch {
	case elapsed <= graceEndSeconds:
		return FloorRatio
	case elapsed <= rampOneSeconds:
		return fpmath.Lerp(elapsed, graceEndSeconds, rampOneSeconds, FloorRatio, rampOneRatio)
	case elapsed <= rampTwoSeconds:
		return fpmath.Lerp(elapsed, rampOneSeconds, rampTwoSeconds, rampOneRatio, rampTwoRatio)
	case elapsed <= HorizonSeconds:
		return fpmath.Lerp(elapsed, rampTwoSeconds, HorizonSeconds, rampTwoRatio, fpmath.RatioOne)
	default:
		return fpmath.RatioOne
	}
}
