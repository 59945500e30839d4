// Package report summarizes the quality of a built surface and catalogs its
// buckets for downstream partitioning.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Thresholds for quality warnings and errors.
const (
	MinValidPercentilePct = 70.0
	MaxStalePct           = 20.0
	MinRealPct            = 30.0
	MaxGapDays            = 90
)

// WindowCoverage is the share of a bucket's rows with a valid IV percentile
// and the mean coverage ratio, both in percent.
type WindowCoverage struct {
	Window      int     `json:"window"`
	ValidPct    float64 `json:"valid_pct"`
	AvgCoverage float64 `json:"avg_coverage_pct"`
}

// BucketQuality summarizes one bucket.
type BucketQuality struct {
	Bucket          string               `json:"bucket"`
	Wing            surface.Wing         `json:"wing"`
	DeltaCode       string               `json:"delta_code"`
	DTECode         string               `json:"dte_code"`
	TotalRows       int                  `json:"total_rows"`
	RealRows        int                  `json:"real_rows"`
	RealPct         float64              `json:"real_pct"`
	FilledRows      int                  `json:"forward_filled_rows"`
	FilledPct       float64              `json:"forward_filled_pct"`
	Distribution    map[surface.Tier]int `json:"quality_distribution"`
	StalePct        float64              `json:"stale_pct"`
	MaxGapDays      int                  `json:"max_gap_days"`
	AvgGapDays      float64              `json:"avg_gap_days"`
	PercentileUsage []WindowCoverage     `json:"percentile_coverage"`
}

// Summary holds the global totals.
type Summary struct {
	TotalRows   int     `json:"total_rows"`
	RealRows    int     `json:"real_rows"`
	RealPct     float64 `json:"real_pct"`
	FilledRows  int     `json:"forward_filled_rows"`
	FilledPct   float64 `json:"forward_filled_pct"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	TradingDays int     `json:"trading_days"`
	Buckets     int     `json:"buckets"`
}

// Report grades.
const (
	StatusGood       = "GOOD"
	StatusAcceptable = "ACCEPTABLE"
	StatusCritical   = "CRITICAL"
)

// Quality is the full quality report.
type Quality struct {
	Summary  Summary         `json:"summary"`
	Buckets  []BucketQuality `json:"buckets"`
	Warnings []string        `json:"warnings"`
	Errors   []string        `json:"errors"`
}

// Status grades the report: CRITICAL with any error, ACCEPTABLE with more than
// five warnings, otherwise GOOD.
func (q *Quality) Status() string {
	switch {
	case len(q.Errors) > 0:
		return StatusCritical
	case len(q.Warnings) > 5:
		return StatusAcceptable
	default:
		return StatusGood
	}
}

// Worst returns up to n buckets with the lowest real share.
func (q *Quality) Worst(n int) []BucketQuality {
	out := make([]BucketQuality, len(q.Buckets))
	copy(out, q.Buckets)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RealPct < out[j].RealPct })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Assess builds the quality report for s over the given percentile windows.
func Assess(s *surface.Surface, windows []int) *Quality {
	q := &Quality{Warnings: []string{}, Errors: []string{}}
	dates := make(map[time.Time]bool)

	for _, bk := range s.Keys() {
		rows := s.Buckets[bk]
		if len(rows) == 0 {
			continue
		}
		b := assessBucket(bk, rows, windows)
		q.Buckets = append(q.Buckets, b)

		q.Summary.TotalRows += b.TotalRows
		q.Summary.RealRows += b.RealRows
		q.Summary.FilledRows += b.FilledRows
		for _, r := range rows {
			dates[r.Date] = true
		}

		for _, wc := range b.PercentileUsage {
			if wc.ValidPct < MinValidPercentilePct {
				q.Warnings = append(q.Warnings, fmt.Sprintf("%s: percentile %dd only %.1f%% valid", b.Bucket, wc.Window, wc.ValidPct))
			}
		}
		if b.StalePct > MaxStalePct {
			q.Warnings = append(q.Warnings, fmt.Sprintf("%s: %.1f%% stale rows", b.Bucket, b.StalePct))
		}
		if b.RealPct < MinRealPct {
			q.Warnings = append(q.Warnings, fmt.Sprintf("%s: only %.1f%% real rows", b.Bucket, b.RealPct))
		}
		if b.MaxGapDays > MaxGapDays {
			q.Errors = append(q.Errors, fmt.Sprintf("%s: max gap %d days", b.Bucket, b.MaxGapDays))
		}
	}

	q.Summary.Buckets = len(q.Buckets)
	q.Summary.TradingDays = len(dates)
	q.Summary.RealPct = pct(q.Summary.RealRows, q.Summary.TotalRows)
	q.Summary.FilledPct = pct(q.Summary.FilledRows, q.Summary.TotalRows)
	if first, last, ok := s.DateRange(); ok {
		q.Summary.Start = calendar.Format(first)
		q.Summary.End = calendar.Format(last)
	}
	return q
}

func assessBucket(bk surface.BucketKey, rows []surface.Row, windows []int) BucketQuality {
	b := BucketQuality{
		Bucket:       bk.String(),
		Wing:         bk.Wing,
		DeltaCode:    bk.DeltaCode,
		DTECode:      bk.DTECode,
		TotalRows:    len(rows),
		Distribution: make(map[surface.Tier]int),
	}
	gapSum := 0
	for _, r := range rows {
		b.Distribution[r.DataQuality]++
		if r.IsRealData {
			b.RealRows++
		} else {
			b.FilledRows++
			gapSum += r.DaysSinceRealData
		}
		if r.DaysSinceRealData > b.MaxGapDays {
			b.MaxGapDays = r.DaysSinceRealData
		}
	}
	b.RealPct = pct(b.RealRows, b.TotalRows)
	b.FilledPct = pct(b.FilledRows, b.TotalRows)
	b.StalePct = pct(b.Distribution[surface.TierStale], b.TotalRows)
	if b.FilledRows > 0 {
		b.AvgGapDays = float64(gapSum) / float64(b.FilledRows)
	}

	for _, w := range windows {
		valid, covSum, covN := 0, 0.0, 0
		for i := range rows {
			ws := rows[i].Window(w)
			if ws == nil {
				continue
			}
			if ws.IVPct.Valid() {
				valid++
			}
			if ws.Coverage.Valid() {
				covSum += float64(ws.Coverage)
				covN++
			}
		}
		wc := WindowCoverage{Window: w, ValidPct: pct(valid, len(rows))}
		if covN > 0 {
			wc.AvgCoverage = covSum / float64(covN) * 100
		}
		b.PercentileUsage = append(b.PercentileUsage, wc)
	}
	return b
}

// CatalogEntry maps one bucket to its partition and span.
type CatalogEntry struct {
	Wing        surface.Wing       `json:"wing"`
	DeltaCode   string             `json:"delta_code"`
	DTECode     string             `json:"dte_code"`
	DeltaRep    int                `json:"delta_rep"`
	DTERep      int                `json:"dte_rep"`
	File        string             `json:"file"`
	Rows        int                `json:"rows"`
	Start       string             `json:"start"`
	End         string             `json:"end"`
	RealPct     float64            `json:"real_pct"`
	MaxGapDays  int                `json:"max_gap_days"`
	AvgCoverage map[string]float64 `json:"avg_coverage_pct"`
}

// Catalog lists every non-empty bucket in key order.
func Catalog(s *surface.Surface, windows []int) []CatalogEntry {
	var out []CatalogEntry
	for _, bk := range s.Keys() {
		rows := s.Buckets[bk]
		if len(rows) == 0 {
			continue
		}
		q := assessBucket(bk, rows, windows)
		e := CatalogEntry{
			Wing:        bk.Wing,
			DeltaCode:   bk.DeltaCode,
			DTECode:     bk.DTECode,
			DeltaRep:    int(rows[0].DeltaRep),
			DTERep:      int(rows[0].DTERep),
			Rows:        len(rows),
			Start:       calendar.Format(rows[0].Date),
			End:         calendar.Format(rows[len(rows)-1].Date),
			RealPct:     q.RealPct,
			MaxGapDays:  q.MaxGapDays,
			AvgCoverage: make(map[string]float64, len(windows)),
		}
		e.File = PartitionName(bk.Wing, e.DeltaRep, e.DTERep)
		for _, wc := range q.PercentileUsage {
			e.AvgCoverage[fmt.Sprintf("%dd", wc.Window)] = wc.AvgCoverage
		}
		out = append(out, e)
	}
	return out
}

// PartitionName is the per-bucket file name used by downstream writers.
func PartitionName(w surface.Wing, deltaRep, dteRep int) string {
	return fmt.Sprintf("%s_delta%d_DTE%d_metrics.csv", strings.ToUpper(string(w)), deltaRep, dteRep)
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
