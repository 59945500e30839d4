package percentile

import (
	"time"

	"github.com/dgnsrekt/volsurface/internal/stats"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// SkewZ computes the rolling z-score of skew over the bucket's real
// observations and assigns it to real rows dated on or after from.
// Forward-filled rows get a null z-score.
func SkewZ(rows []surface.Row, window, minPeriods int, from time.Time) {
	var idx []int
	var series []float64
	for i := range rows {
		if rows[i].IsRealData && rows[i].Skew.Valid() {
			idx = append(idx, i)
			series = append(series, float64(rows[i].Skew))
		}
	}
	sma := stats.Rolling(series, window, minPeriods, stats.Mean)
	sd := stats.Rolling(series, window, minPeriods, stats.StdDev)

	n := surface.Null()
	for i := range rows {
		if !rows[i].Date.Before(from) {
			rows[i].SkewZ = surface.ZScore{SMA: n, SD: n, Z: n}
		}
	}
	for k, i := range idx {
		if rows[i].Date.Before(from) {
			continue
		}
		z := surface.ZScore{SMA: surface.Float(sma[k]), SD: surface.Float(sd[k]), Z: n}
		if z.SD.Valid() && z.SD > 0 {
			z.Z = surface.Float((series[k] - sma[k]) / sd[k])
		}
		rows[i].SkewZ = z
	}
}
