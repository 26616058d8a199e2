// Package pricing estimates moving price ranges from volume, distance and
// service tier.
package pricing

import (
	"math"

	"github.com/movario/moving-ai-platform/internal/business"
)

// Estimate is a price bracket in whole euros.
type Estimate struct {
	LowEuros  int
	HighEuros int
}

// EstimateRange computes the price bracket for a move. Returns ok=false when
// volume or distance is missing, in which case no estimate should be shown.
func EstimateRange(cfg *business.Config, volumeM3, distanceKm float64, tier string) (Estimate, bool) {
	if cfg == nil || volumeM3 <= 0 || distanceKm <= 0 {
		return Estimate{}, false
	}

	base := volumeM3*cfg.Pricing.BasePerM3 + distanceKm*cfg.Pricing.PerKm
	total := base * cfg.TierMultiplier(tier)

	spread := cfg.Pricing.RangeSpread
	if spread <= 0 {
		spread = 0.15
	}

	low := roundToTen(total * (1 - spread))
	high := roundToTen(total * (1 + spread))
	if low < 0 {
		low = 0
	}
	return Estimate{LowEuros: low, HighEuros: high}, true
}

func roundToTen(v float64) int {
	return int(math.Round(v/10) * 10)
}
