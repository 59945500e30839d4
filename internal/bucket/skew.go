package bucket

import (
	"math"

	"github.com/dgnsrekt/volsurface/internal/stats"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

const minSkewPoints = 3

// skewSlope regresses (IV - ATM IV) on log-moneyness and returns the slope.
// Puts use ln(K_atm/K) and calls ln(K/K_atm) so both wings move away from
// the money with positive moneyness. Points within eps of the money are dropped.
func skewSlope(cands []candidate, wing surface.Wing, atmIV, atmStrike, eps float64) float64 {
	if !(atmStrike > 0) || math.IsNaN(atmIV) {
		return math.NaN()
	}
	var x, y []float64
	for _, c := range cands {
		if !(c.Strike > 0) || math.IsNaN(c.IV) {
			continue
		}
		lm := math.Log(c.Strike / atmStrike)
		if wing == surface.Put {
			lm = -lm
		}
		if math.Abs(lm) <= eps {
			continue
		}
		x = append(x, lm)
		y = append(y, c.IV-atmIV)
	}
	if len(x) < minSkewPoints {
		return math.NaN()
	}
	return stats.Slope(x, y)
}
