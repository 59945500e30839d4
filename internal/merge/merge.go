// Package merge combines newly aggregated rows with a previously persisted
// surface and decides which trailing window of derived metrics a run
// recomputes.
package merge

import (
	"sort"
	"time"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Stats counts what Combine did.
type Stats struct {
	Carried  int
	Fresh    int
	Replaced int
	// Kept counts fresh rows rejected because they would have downgraded a
	// carried real row.
	Kept int
}

// Combine concatenates existing and fresh rows and deduplicates them by key,
// keeping the newest contribution. A carried real row is never replaced by a
// fresh row that is not real. existing is not modified.
func Combine(existing *surface.Surface, fresh []surface.Row) (*surface.Surface, Stats) {
	var st Stats
	out := surface.New()
	index := make(map[surface.Key]int)

	if existing != nil {
		for bk, rows := range existing.Buckets {
			cp := make([]surface.Row, len(rows))
			for i, r := range rows {
				cp[i] = r.Clone()
				cp[i].Origin = surface.Carried
				index[cp[i].Key()] = i
			}
			out.Buckets[bk] = cp
			st.Carried += len(cp)
		}
	}

	for _, r := range fresh {
		r = r.Clone()
		r.Origin = surface.Fresh
		st.Fresh++
		k := r.Key()
		if i, ok := index[k]; ok {
			prev := &out.Buckets[k.BucketKey][i]
			if prev.IsRealData && !r.IsRealData {
				st.Kept++
				continue
			}
			*prev = r
			st.Replaced++
			continue
		}
		index[k] = len(out.Buckets[k.BucketKey])
		out.Buckets[k.BucketKey] = append(out.Buckets[k.BucketKey], r)
	}

	for bk := range out.Buckets {
		surface.SortByDate(out.Buckets[bk])
	}
	return out, st
}

// Window bounds the recompute of a run. Rows dated on or after Cutoff get
// their derived metrics recomputed; real observations on or after
// SeriesStart seed the rolling series that feed them.
type Window struct {
	Cutoff      time.Time
	SeriesStart time.Time
}

// Full is the window that recomputes everything.
func Full() Window {
	return Window{}
}

// IsFull reports whether w recomputes the whole surface.
func (w Window) IsFull() bool {
	return w.Cutoff.IsZero()
}

// Plan computes the recompute window for an incremental run. The cutoff is
// tail_days trading days before the newest date, moved earlier when a fresh
// row predates it. The series start lies maxWindow plus the safety margin
// real observation dates before the cutoff, so every rolling window at the
// splice boundary sees the same history a full run would.
func Plan(cal *calendar.Calendar, s *surface.Surface, freshDates []time.Time, cfg config.IncrementalConfig, maxWindow int) Window {
	first, last, ok := s.DateRange()
	if !ok {
		return Full()
	}

	cutoff := cal.ShiftBack(last, cfg.TailDays)
	for _, d := range freshDates {
		if d.Before(cutoff) {
			cutoff = d
		}
	}
	if !cutoff.After(first) {
		return Full()
	}

	realDates := sortedDates(s.RealDates())
	before := sort.Search(len(realDates), func(i int) bool { return !realDates[i].Before(cutoff) })
	need := maxWindow + cfg.SafetyMarginDays
	if before <= need {
		return Window{Cutoff: cutoff}
	}
	return Window{Cutoff: cutoff, SeriesStart: realDates[before-need]}
}

// Splice returns base rows dated before cutoff followed by tail rows dated on
// or after it, per bucket. Buckets present only in tail are kept.
func Splice(base, tail *surface.Surface, cutoff time.Time) *surface.Surface {
	out := surface.New()
	for bk, rows := range base.Buckets {
		for _, r := range rows {
			if r.Date.Before(cutoff) {
				out.Buckets[bk] = append(out.Buckets[bk], r)
			}
		}
	}
	for bk, rows := range tail.Buckets {
		for _, r := range rows {
			if !r.Date.Before(cutoff) {
				out.Buckets[bk] = append(out.Buckets[bk], r)
			}
		}
	}
	for bk := range out.Buckets {
		surface.SortByDate(out.Buckets[bk])
	}
	return out
}

// Changed counts rows of after that are new or differ in provenance or
// representative IV from before.
func Changed(before, after *surface.Surface) int {
	n := 0
	for bk, rows := range after.Buckets {
		prev := make(map[time.Time]surface.Row, len(before.Buckets[bk]))
		for _, r := range before.Buckets[bk] {
			prev[r.Date] = r
		}
		for _, r := range rows {
			p, ok := prev[r.Date]
			if !ok || p.IsRealData != r.IsRealData || p.DaysSinceRealData != r.DaysSinceRealData || !sameFloat(p.IV, r.IV) {
				n++
			}
		}
	}
	return n
}

func sameFloat(a, b surface.Float) bool {
	if !a.Valid() || !b.Valid() {
		return a.Valid() == b.Valid()
	}
	return a == b
}

func sortedDates(set map[time.Time]bool) []time.Time {
	out := make([]time.Time, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
