// Package aggregate collapses per-expiration observations into one surface
// row per (date, wing, delta bucket, DTE bucket).
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/dgnsrekt/volsurface/internal/bucket"
	"github.com/dgnsrekt/volsurface/internal/stats"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Rows reduces observations sharing a key and joins each key's leader.
// Output is ordered by date then bucket. Every row is real and Fresh.
func Rows(obs []bucket.Observation, leaders map[surface.Key]surface.Leader) []surface.Row {
	groups := make(map[surface.Key][]bucket.Observation)
	var keys []surface.Key
	for _, o := range obs {
		if _, ok := groups[o.Key]; !ok {
			keys = append(keys, o.Key)
		}
		groups[o.Key] = append(groups[o.Key], o)
	}
	sortKeys(keys, groups)

	out := make([]surface.Row, 0, len(keys))
	for _, k := range keys {
		r := reduce(k, groups[k])
		if l, ok := leaders[k]; ok {
			r.Leader = l
		}
		out = append(out, r)
	}
	return out
}

func reduce(k surface.Key, group []bucket.Observation) surface.Row {
	r := surface.NewRow(k)
	first := group[0]
	r.DeltaRep, r.DeltaLow, r.DeltaHigh = first.DeltaBucket.Rep, first.DeltaBucket.Low, first.DeltaBucket.High
	r.DTERep, r.DTELow, r.DTEHigh = first.DTEBucket.Rep, first.DTEBucket.Low, first.DTEBucket.High

	col := func(f func(bucket.Observation) float64) []float64 {
		out := make([]float64, len(group))
		for i, o := range group {
			out[i] = f(o)
		}
		return out
	}
	med := func(f func(bucket.Observation) float64) surface.Float { return surface.Float(stats.Median(col(f))) }
	q := func(f func(bucket.Observation) float64, p float64) surface.Float {
		return surface.Float(stats.Quantile(col(f), p))
	}

	iv := func(o bucket.Observation) float64 { return o.IV }
	skew := func(o bucket.Observation) float64 { return o.Skew }
	deltaMed := func(o bucket.Observation) float64 { return o.DeltaMed }
	dteMed := func(o bucket.Observation) float64 { return o.DTEMed }

	r.IV = med(iv)
	r.IVATM = med(func(o bucket.Observation) float64 { return o.IVATM })
	r.Skew = med(skew)
	r.Term = med(func(o bucket.Observation) float64 { return o.Term })
	r.SpreadPct = med(func(o bucket.Observation) float64 { return o.SpreadPct })
	r.Spot = med(func(o bucket.Observation) float64 { return o.Spot })
	r.DeltaMed = med(deltaMed)
	r.DTEMed = med(dteMed)
	r.PnLShort = med(func(o bucket.Observation) float64 { return o.PnLShort })

	r.DeltaP25, r.DeltaP75 = q(deltaMed, 0.25), q(deltaMed, 0.75)
	r.DTEP25, r.DTEP75 = q(dteMed, 0.25), q(dteMed, 0.75)
	r.IVP25, r.IVP75 = q(iv, 0.25), q(iv, 0.75)
	r.SkewP25, r.SkewP75 = q(skew, 0.25), q(skew, 0.75)

	n := 0
	exps := make(map[time.Time]bool)
	used := make([]float64, len(group))
	levels := make([]float64, len(group))
	tags := make([]bucket.Quality, len(group))
	for i, o := range group {
		n += o.N
		exps[o.Expiration] = true
		used[i] = float64(o.NContractsUsed)
		levels[i] = float64(o.ExpansionLevel)
		tags[i] = o.Quality
	}
	r.N = surface.Float(n)
	r.NExps = surface.Float(len(exps))
	r.NContractsUsed = surface.Float(stats.Mean(used))
	r.ExpansionLevel = int(math.Round(stats.Mean(levels)))
	r.InterpQuality = string(ModalQuality(tags))

	r.IsRealData = true
	r.IsForwardFilled = false
	r.DaysSinceRealData = 0
	r.DataQuality = surface.TierReal
	r.Origin = surface.Fresh
	return r
}

// ModalQuality returns the most frequent tag. Ties go to the tag that comes
// first in bucket.QualityPriority.
func ModalQuality(tags []bucket.Quality) bucket.Quality {
	counts := make(map[bucket.Quality]int, len(bucket.QualityPriority))
	for _, t := range tags {
		counts[t]++
	}
	var best bucket.Quality
	bestN := 0
	for _, t := range bucket.QualityPriority {
		if counts[t] > bestN {
			best, bestN = t, counts[t]
		}
	}
	return best
}

func sortKeys(keys []surface.Key, groups map[surface.Key][]bucket.Observation) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Wing != b.Wing {
			return a.Wing > b.Wing
		}
		ga, gb := groups[a][0], groups[b][0]
		if ga.DeltaBucket.Rep != gb.DeltaBucket.Rep {
			return ga.DeltaBucket.Rep < gb.DeltaBucket.Rep
		}
		return ga.DTEBucket.Rep < gb.DTEBucket.Rep
	})
}
