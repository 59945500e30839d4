// Package fill densifies each bucket's history onto the trading calendar and
// maintains the provenance flags and staleness tiers of every row.
package fill

import (
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Controller applies the reindex, flag and bounded-fill rules per bucket.
type Controller struct {
	cal    *calendar.Calendar
	cfg    config.FillConfig
	logger *zap.Logger
}

// New creates a Controller over cal.
func New(cal *calendar.Calendar, cfg config.FillConfig, logger *zap.Logger) *Controller {
	return &Controller{cal: cal, cfg: cfg, logger: logger}
}

// Tier classifies a row by consecutive days since the last real observation.
func (c *Controller) Tier(daysSinceReal int) surface.Tier {
	return TierFor(daysSinceReal, c.cfg)
}

// TierFor is the staleness classification used by the fold.
func TierFor(daysSinceReal int, cfg config.FillConfig) surface.Tier {
	switch {
	case daysSinceReal <= 0:
		return surface.TierReal
	case daysSinceReal <= cfg.HighMaxDays:
		return surface.TierHigh
	case daysSinceReal <= cfg.MediumMaxDays:
		return surface.TierMedium
	case daysSinceReal <= cfg.MaxDays:
		return surface.TierLow
	default:
		return surface.TierStale
	}
}

// Densify rebuilds one bucket's rows over the trading days from its first real
// observation to the later of end and its own last row. Existing rows keep
// their is_real_data flag verbatim; rows created here start as not real.
// Rows dated off the calendar are dropped. A bucket with no real row at all
// yields nil.
func (c *Controller) Densify(bk surface.BucketKey, rows []surface.Row, end time.Time) []surface.Row {
	if len(rows) == 0 {
		return nil
	}
	sorted := make([]surface.Row, len(rows))
	copy(sorted, rows)
	surface.SortByDate(sorted)

	kept := sorted[:0]
	for _, r := range sorted {
		if c.cal.Contains(r.Date) {
			kept = append(kept, r)
		}
	}
	if off := len(sorted) - len(kept); off > 0 {
		c.logger.Warn("dropping rows dated off the trading calendar",
			zap.String("bucket", bk.String()),
			zap.Int("rows", off),
		)
	}
	sorted = kept

	firstReal := -1
	for i, r := range sorted {
		if r.IsRealData {
			firstReal = i
			break
		}
	}
	if firstReal < 0 {
		c.logger.Warn("dropping bucket without real observations",
			zap.String("bucket", bk.String()),
			zap.Int("rows", len(sorted)),
		)
		return nil
	}
	if firstReal > 0 {
		c.logger.Warn("dropping rows before first real observation",
			zap.String("bucket", bk.String()),
			zap.Int("rows", firstReal),
		)
		sorted = sorted[firstReal:]
	}

	last := sorted[len(sorted)-1].Date
	if end.After(last) {
		last = end
	}
	days := c.cal.Between(sorted[0].Date, last)

	// every kept row falls on one of days
	out := make([]surface.Row, 0, len(days))
	template := sorted[0]
	i := 0
	for _, d := range days {
		if i < len(sorted) && sorted[i].Date.Equal(d) {
			template = sorted[i]
			out = append(out, sorted[i])
			i++
			continue
		}
		out = append(out, reindexed(template, d))
	}

	c.fold(out)
	return out
}

// fold walks rows in date order carrying the days-since-real counter, sets
// the derived flags and applies the bounded forward-fill.
func (c *Controller) fold(rows []surface.Row) {
	counter := 0
	var lastReal *surface.Row
	for i := range rows {
		r := &rows[i]
		if r.IsRealData {
			counter = 0
			lastReal = r
		} else {
			counter++
		}
		r.DaysSinceRealData = counter
		r.IsForwardFilled = !r.IsRealData
		r.DataQuality = c.Tier(counter)

		if r.IsRealData {
			continue
		}
		if lastReal != nil && counter <= c.cfg.MaxDays {
			copyMetrics(r, lastReal)
		} else {
			clearMetrics(r)
		}
	}
}

// reindexed creates the row for a calendar day the bucket has no row for.
func reindexed(template surface.Row, d time.Time) surface.Row {
	r := surface.NewRow(surface.Key{Date: d, BucketKey: template.BucketKey})
	r.DeltaRep, r.DeltaLow, r.DeltaHigh = template.DeltaRep, template.DeltaLow, template.DeltaHigh
	r.DTERep, r.DTELow, r.DTEHigh = template.DTERep, template.DTELow, template.DTEHigh
	r.IsRealData = false
	r.Origin = surface.Fresh
	return r
}

// copyMetrics carries the fillable metric columns from src.
func copyMetrics(dst, src *surface.Row) {
	dst.IV = src.IV
	dst.IVATM = src.IVATM
	dst.Skew = src.Skew
	dst.Term = src.Term
	dst.SpreadPct = src.SpreadPct
	dst.Spot = src.Spot
	dst.DeltaMed = src.DeltaMed
	dst.DTEMed = src.DTEMed
	dst.N = src.N
	dst.NExps = src.NExps
	dst.PnLShort = src.PnLShort
	dst.InterpQuality = src.InterpQuality
	dst.NContractsUsed = src.NContractsUsed
}

func clearMetrics(dst *surface.Row) {
	n := surface.Null()
	dst.IV, dst.IVATM, dst.Skew, dst.Term = n, n, n, n
	dst.SpreadPct, dst.Spot, dst.DeltaMed, dst.DTEMed = n, n, n, n
	dst.N, dst.NExps, dst.PnLShort = n, n, n
	dst.InterpQuality = ""
	dst.NContractsUsed = n
}

// RemovePhantoms drops rows that carry neither a bucket identity nor a value.
func RemovePhantoms(rows []surface.Row) ([]surface.Row, int) {
	out := rows[:0]
	dropped := 0
	for _, r := range rows {
		if r.IsPhantom() {
			dropped++
			continue
		}
		out = append(out, r)
	}
	return out, dropped
}
