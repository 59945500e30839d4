// Package realized computes realized volatility of the underlying from real
// rows only, the volatility risk premium against bucket ATM IV, and the
// date-level IV z-score series.
package realized

import (
	"math"
	"sort"
	"time"

	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/stats"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

const (
	minHVPeriods = 3
	minZPeriods  = 15
)

// Point is the date-level output joined onto every row of that date.
type Point struct {
	Spot     float64
	HV       map[int]float64
	HVLag    float64
	IVATM30D float64
	IVZ      map[int]surface.ZScore
}

// Calculator holds the realized-vol settings.
type Calculator struct {
	cfg config.RealizedConfig
}

// New creates a Calculator.
func New(cfg config.RealizedConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// Series builds the date-level points from real rows dated on or after
// seriesStart: one spot and one median ATM IV per date.
func (c *Calculator) Series(s *surface.Surface, seriesStart time.Time) ([]time.Time, map[time.Time]*Point) {
	spots := make(map[time.Time][]float64)
	atm := make(map[time.Time][]float64)
	for _, rows := range s.Buckets {
		for i := range rows {
			r := &rows[i]
			if !r.IsRealData || r.Date.Before(seriesStart) {
				continue
			}
			spots[r.Date] = append(spots[r.Date], float64(r.Spot))
			atm[r.Date] = append(atm[r.Date], float64(r.IVATM))
		}
	}

	dates := make([]time.Time, 0, len(spots))
	for d := range spots {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	points := make(map[time.Time]*Point, len(dates))
	spotSeries := make([]float64, len(dates))
	atmSeries := make([]float64, len(dates))
	for i, d := range dates {
		p := &Point{
			Spot:     stats.Median(spots[d]),
			IVATM30D: stats.Median(atm[d]),
			HV:       make(map[int]float64, len(c.cfg.Windows)),
			IVZ:      make(map[int]surface.ZScore, len(c.cfg.ZScoreWindows)),
			HVLag:    math.NaN(),
		}
		points[d] = p
		spotSeries[i] = p.Spot
		atmSeries[i] = p.IVATM30D
	}

	c.fillHV(dates, points, spotSeries)
	c.fillZ(dates, points, atmSeries)
	return dates, points
}

// fillHV computes annualized rolling standard deviation of log returns and
// the one-observation lag of the VRP window.
func (c *Calculator) fillHV(dates []time.Time, points map[time.Time]*Point, spot []float64) {
	returns := LogReturns(spot)
	annual := math.Sqrt(float64(c.cfg.Annualization))
	for _, w := range c.cfg.Windows {
		minP := w / 2
		if minP < minHVPeriods {
			minP = minHVPeriods
		}
		hv := stats.Rolling(returns, w, minP, stats.StdDev)
		for i, d := range dates {
			points[d].HV[w] = hv[i] * annual
		}
	}
	for i := 1; i < len(dates); i++ {
		if v, ok := points[dates[i-1]].HV[c.cfg.VRPWindow]; ok {
			points[dates[i]].HVLag = v
		}
	}
}

// fillZ computes rolling z-scores of the daily median ATM IV.
func (c *Calculator) fillZ(dates []time.Time, points map[time.Time]*Point, atm []float64) {
	for _, w := range c.cfg.ZScoreWindows {
		minP := w / 3
		if minP < minZPeriods {
			minP = minZPeriods
		}
		sma := stats.Rolling(atm, w, minP, stats.Mean)
		sd := stats.Rolling(atm, w, minP, stats.StdDev)
		for i, d := range dates {
			z := math.NaN()
			if sd[i] > 0 && !math.IsNaN(atm[i]) {
				z = (atm[i] - sma[i]) / sd[i]
			}
			points[d].IVZ[w] = surface.ZScore{SMA: surface.Float(sma[i]), SD: surface.Float(sd[i]), Z: surface.Float(z)}
		}
	}
}

// Apply joins the date-level series onto every row dated on or after from and
// computes the risk premium from the row's bounded-filled ATM IV.
func (c *Calculator) Apply(s *surface.Surface, from, seriesStart time.Time) {
	_, points := c.Series(s, seriesStart)
	bandWindow := 0
	if len(c.cfg.ZScoreWindows) > 0 {
		bandWindow = c.cfg.ZScoreWindows[0]
	}

	for bk := range s.Buckets {
		rows := s.Buckets[bk]
		for i := range rows {
			r := &rows[i]
			if r.Date.Before(from) {
				continue
			}
			c.applyRow(r, points[r.Date], bandWindow)
		}
	}
}

func (c *Calculator) applyRow(r *surface.Row, p *Point, bandWindow int) {
	n := surface.Null()
	r.HV = make(map[int]surface.Float, len(c.cfg.Windows))
	r.IVZ = make(map[int]surface.ZScore, len(c.cfg.ZScoreWindows))
	r.HVLag, r.VRPVol, r.VRPVar, r.IVATM30D = n, n, n, n
	r.IVStd1Up, r.IVStd1Low, r.IVStd2Up, r.IVStd2Low = n, n, n, n
	r.IVATMFilled = r.IVATM

	if p == nil {
		for _, w := range c.cfg.Windows {
			r.HV[w] = n
		}
		for _, w := range c.cfg.ZScoreWindows {
			r.IVZ[w] = surface.ZScore{SMA: n, SD: n, Z: n}
		}
		return
	}

	for _, w := range c.cfg.Windows {
		r.HV[w] = surface.Float(p.HV[w])
	}
	r.HVLag = surface.Float(p.HVLag)
	if r.IVATMFilled.Valid() && r.HVLag.Valid() {
		iv, hv := float64(r.IVATMFilled), float64(r.HVLag)
		r.VRPVol = surface.Float(iv - hv)
		r.VRPVar = surface.Float(iv*iv - hv*hv)
	}

	r.IVATM30D = surface.Float(p.IVATM30D)
	for _, w := range c.cfg.ZScoreWindows {
		r.IVZ[w] = p.IVZ[w]
	}
	if band, ok := p.IVZ[bandWindow]; ok && band.SMA.Valid() && band.SD.Valid() {
		r.IVStd1Up = band.SMA + band.SD
		r.IVStd1Low = band.SMA - band.SD
		r.IVStd2Up = band.SMA + 2*band.SD
		r.IVStd2Low = band.SMA - 2*band.SD
	}
}

// LogReturns returns ln(x[i]/x[i-1]); the first element is NaN.
func LogReturns(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(x); i++ {
		if x[i] > 0 && x[i-1] > 0 {
			out[i] = math.Log(x[i] / x[i-1])
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}
