package bucket

import (
	"math"
	"sort"

	"github.com/dgnsrekt/volsurface/internal/stats"
)

// Quality tags how a representative IV was obtained.
type Quality string

const (
	QualityExcellent   Quality = "EXCELLENT"
	QualityGood        Quality = "GOOD"
	QualityFair        Quality = "FAIR"
	QualityPoor        Quality = "POOR"
	QualitySinglePoint Quality = "SINGLE_POINT"
	QualityMedian      Quality = "MEDIAN"
)

// QualityPriority is the canonical order used to break ties between tags.
var QualityPriority = []Quality{
	QualityExcellent, QualityGood, QualityFair, QualityPoor, QualitySinglePoint, QualityMedian,
}

const (
	maxInterpPoints = 3
	distanceScale   = 10.0
	weightOffset    = 0.01
)

// Interpolated is the representative point of a candidate set.
type Interpolated struct {
	IV      float64
	Delta   float64 // delta points
	DTE     float64
	Quality Quality
	Used    int
}

// interpolate blends the candidates nearest to the bucket's canonical
// (delta, DTE) point with inverse-distance weights.
func interpolate(cands []candidate, deltaRep, dteRep float64) Interpolated {
	type point struct {
		dist      float64
		iv, d, dt float64
	}
	pts := make([]point, len(cands))
	for i, c := range cands {
		dd := math.Abs(c.DeltaAbs*100 - deltaRep)
		td := math.Abs(c.DTE - dteRep)
		pts[i] = point{
			dist: math.Hypot(dd/distanceScale, td/distanceScale),
			iv:   c.IV,
			d:    c.DeltaAbs * 100,
			dt:   c.DTE,
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].dist < pts[j].dist })

	if len(pts) == 1 {
		p := pts[0]
		return Interpolated{IV: p.iv, Delta: p.d, DTE: p.dt, Quality: QualitySinglePoint, Used: 1}
	}

	n := len(pts)
	if n > maxInterpPoints {
		n = maxInterpPoints
	}
	var wsum float64
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		weights[i] = 1 / (pts[i].dist + weightOffset)
		wsum += weights[i]
	}
	var out Interpolated
	for i := 0; i < n; i++ {
		w := weights[i] / wsum
		out.IV += w * pts[i].iv
		out.Delta += w * pts[i].d
		out.DTE += w * pts[i].dt
	}
	out.Used = n
	out.Quality = qualityFor(pts[0].dist)
	return out
}

func qualityFor(nearest float64) Quality {
	switch {
	case nearest < 1:
		return QualityExcellent
	case nearest < 3:
		return QualityGood
	case nearest < 5:
		return QualityFair
	default:
		return QualityPoor
	}
}

// medianIV is the fallback when interpolation is disabled.
func medianIV(cands []candidate) Interpolated {
	ivs := make([]float64, len(cands))
	ds := make([]float64, len(cands))
	ts := make([]float64, len(cands))
	for i, c := range cands {
		ivs[i], ds[i], ts[i] = c.IV, c.DeltaAbs*100, c.DTE
	}
	return Interpolated{
		IV:      stats.Median(ivs),
		Delta:   stats.Median(ds),
		DTE:     stats.Median(ts),
		Quality: QualityMedian,
		Used:    len(cands),
	}
}
