// Package percentile ranks each real bucket value against the bucket's own
// real history over calendar-aligned lookback windows.
package percentile

import (
	"math"
	"time"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/stats"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Labels name the ten composite-score tiers, cheapest first.
var Labels = [10]string{
	"ULTRA_CHEAP",
	"VERY_CHEAP",
	"CHEAP",
	"SOMEWHAT_CHEAP",
	"SLIGHTLY_CHEAP",
	"SLIGHTLY_EXPENSIVE",
	"SOMEWHAT_EXPENSIVE",
	"EXPENSIVE",
	"VERY_EXPENSIVE",
	"ULTRA_EXPENSIVE",
}

// NoData labels a row whose composite score is undefined.
const NoData = "NO_DATA"

const neutralSkew = 0.5

// Engine computes per-window percentile ranks, coverage and composite scores.
type Engine struct {
	cal *calendar.Calendar
	cfg config.PercentileConfig
}

// New creates an Engine over cal.
func New(cal *calendar.Calendar, cfg config.PercentileConfig) *Engine {
	return &Engine{cal: cal, cfg: cfg}
}

type metric func(*surface.Row) surface.Float

var (
	ivMetric   metric = func(r *surface.Row) surface.Float { return r.IV }
	skewMetric metric = func(r *surface.Row) surface.Float { return r.Skew }
	vrpMetric  metric = func(r *surface.Row) surface.Float { return r.VRPVol }
)

// Bucket fills the window stats of one bucket's date-ordered rows dated on or
// after from. Earlier rows are left untouched; they still serve as history.
func (e *Engine) Bucket(rows []surface.Row, from time.Time) {
	history := make(map[time.Time]*surface.Row, len(rows))
	for i := range rows {
		if rows[i].IsRealData {
			history[rows[i].Date] = &rows[i]
		}
	}

	for i := range rows {
		r := &rows[i]
		if r.Date.Before(from) {
			continue
		}
		r.Windows = nil
		for _, w := range e.cfg.Windows {
			window, ok := e.cal.Before(r.Date, w)
			ws := surface.WindowStats{
				Window:   w,
				IVPct:    surface.Null(),
				SkewPct:  surface.Null(),
				VRPPct:   surface.Null(),
				Coverage: surface.Null(),
			}
			if ok {
				ws.Coverage = surface.Float(Coverage(window, history, w))
				ws.IVPct = e.rank(r, window, history, w, ivMetric)
				ws.SkewPct = e.rank(r, window, history, w, skewMetric)
				ws.VRPPct = e.rank(r, window, history, w, vrpMetric)
			}
			ws.Score = e.Score(ws.IVPct, ws.SkewPct, ws.VRPPct)
			ws.Level, ws.Label = Level(ws.Score)
			r.SetWindow(ws)
		}
	}
}

// rank returns the percentile of the row's own value against the real,
// non-null values on the window's calendar days, or null when the row is not
// real or the sample is below max(w*min_coverage_ratio, min_samples).
func (e *Engine) rank(r *surface.Row, window []time.Time, history map[time.Time]*surface.Row, w int, m metric) surface.Float {
	v := m(r)
	if !r.IsRealData || !v.Valid() {
		return surface.Null()
	}
	sample := make([]float64, 0, len(window))
	for _, d := range window {
		if h, ok := history[d]; ok {
			if hv := m(h); hv.Valid() {
				sample = append(sample, float64(hv))
			}
		}
	}
	need := math.Max(float64(w)*e.cfg.MinCoverageRatio, float64(e.cfg.MinSamples))
	if float64(len(sample)) < need {
		return surface.Null()
	}
	return surface.Float(stats.PercentileOfScore(sample, float64(v)))
}

// Coverage is the share of the window's calendar days holding a real row.
func Coverage(window []time.Time, history map[time.Time]*surface.Row, w int) float64 {
	n := 0
	for _, d := range window {
		if _, ok := history[d]; ok {
			n++
		}
	}
	return float64(n) / float64(w)
}

// Score blends the three percentiles with one fixed weighting for every
// bucket. A null skew percentile counts as neutral; a null IV or VRP
// percentile makes the score null.
func (e *Engine) Score(iv, skew, vrp surface.Float) surface.Float {
	if !iv.Valid() || !vrp.Valid() {
		return surface.Null()
	}
	return surface.Float(e.cfg.WeightIV*float64(iv) + e.cfg.WeightSkew*skew.Or(neutralSkew) + e.cfg.WeightVRP*float64(vrp))
}

// Level maps a score in [0, 1] to a tier from 1 to 10 and its label.
func Level(score surface.Float) (int, string) {
	if !score.Valid() {
		return 0, NoData
	}
	bin := int(math.Floor(10 * stats.Clamp01(float64(score))))
	if bin > 9 {
		bin = 9
	}
	return bin + 1, Labels[bin]
}
