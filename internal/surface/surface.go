// Package surface defines the persisted volatility surface: one row per
// (date, wing, delta bucket, DTE bucket), grouped by bucket and ordered by date.
package surface

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrInvariant is returned when a surface breaks a provenance invariant.
	ErrInvariant = errors.New("surface invariant violated")
	// ErrDuplicateKey is returned when two rows share a key where they must not.
	ErrDuplicateKey = errors.New("duplicate surface key")
)

// Surface maps each bucket to its date-ordered rows.
type Surface struct {
	Buckets map[BucketKey][]Row
}

// New returns an empty surface.
func New() *Surface {
	return &Surface{Buckets: make(map[BucketKey][]Row)}
}

// FromRows groups rows by bucket and sorts each bucket by date.
// Later rows replace earlier ones with the same key.
func FromRows(rows []Row) *Surface {
	s := New()
	idx := make(map[Key]int, len(rows))
	for _, r := range rows {
		k := r.Key()
		if i, ok := idx[k]; ok {
			s.Buckets[r.BucketKey][i] = r
			continue
		}
		idx[k] = len(s.Buckets[r.BucketKey])
		s.Buckets[r.BucketKey] = append(s.Buckets[r.BucketKey], r)
	}
	for bk := range s.Buckets {
		SortByDate(s.Buckets[bk])
	}
	return s
}

// SortByDate orders rows by ascending date.
func SortByDate(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
}

// Keys returns bucket keys in a stable order: wing, delta rep, DTE rep, codes.
func (s *Surface) Keys() []BucketKey {
	keys := make([]BucketKey, 0, len(s.Buckets))
	for k := range s.Buckets {
		keys = append(keys, k)
	}
	rep := func(k BucketKey) (float64, float64) {
		rows := s.Buckets[k]
		if len(rows) == 0 {
			return 0, 0
		}
		return rows[0].DeltaRep, rows[0].DTERep
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Wing != b.Wing {
			return a.Wing > b.Wing // PUT before CALL
		}
		ad, at := rep(a)
		bd, bt := rep(b)
		if ad != bd {
			return ad < bd
		}
		if at != bt {
			return at < bt
		}
		if a.DeltaCode != b.DeltaCode {
			return a.DeltaCode < b.DeltaCode
		}
		return a.DTECode < b.DTECode
	})
	return keys
}

// Rows flattens the surface ordered by bucket then date.
func (s *Surface) Rows() []Row {
	out := make([]Row, 0, s.Len())
	for _, k := range s.Keys() {
		out = append(out, s.Buckets[k]...)
	}
	return out
}

// Len returns the total number of rows.
func (s *Surface) Len() int {
	n := 0
	for _, rows := range s.Buckets {
		n += len(rows)
	}
	return n
}

// Lookup returns the row for k.
func (s *Surface) Lookup(k Key) (Row, bool) {
	rows := s.Buckets[k.BucketKey]
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].Date.Before(k.Date) })
	if i < len(rows) && rows[i].Date.Equal(k.Date) {
		return rows[i], true
	}
	return Row{}, false
}

// OnDate returns every row dated d, in bucket order.
func (s *Surface) OnDate(d time.Time) []Row {
	var out []Row
	for _, k := range s.Keys() {
		if r, ok := s.Lookup(Key{Date: d, BucketKey: k}); ok {
			out = append(out, r)
		}
	}
	return out
}

// DateRange returns the earliest and latest row dates.
func (s *Surface) DateRange() (first, last time.Time, ok bool) {
	for _, rows := range s.Buckets {
		if len(rows) == 0 {
			continue
		}
		if !ok || rows[0].Date.Before(first) {
			first = rows[0].Date
		}
		if !ok || rows[len(rows)-1].Date.After(last) {
			last = rows[len(rows)-1].Date
		}
		ok = true
	}
	return first, last, ok
}

// RealDates returns the set of dates holding at least one real row.
func (s *Surface) RealDates() map[time.Time]bool {
	out := make(map[time.Time]bool)
	for _, rows := range s.Buckets {
		for _, r := range rows {
			if r.IsRealData {
				out[r.Date] = true
			}
		}
	}
	return out
}

// Clone returns a deep copy of the surface.
func (s *Surface) Clone() *Surface {
	out := New()
	for k, rows := range s.Buckets {
		cp := make([]Row, len(rows))
		for i, r := range rows {
			cp[i] = r.Clone()
		}
		out.Buckets[k] = cp
	}
	return out
}

// MarkCarried tags every row as coming from a prior run.
func (s *Surface) MarkCarried() {
	for k := range s.Buckets {
		for i := range s.Buckets[k] {
			s.Buckets[k][i].Origin = Carried
		}
	}
}

// CheckInvariants verifies the provenance invariants on every row and the
// absence of rows before a bucket's first real date.
func (s *Surface) CheckInvariants() error {
	for _, k := range s.Keys() {
		rows := s.Buckets[k]
		var firstReal time.Time
		for _, r := range rows {
			if r.IsRealData {
				firstReal = r.Date
				break
			}
		}
		for i, r := range rows {
			if i > 0 && !rows[i-1].Date.Before(r.Date) {
				return fmt.Errorf("%w: %s out of order or duplicated", ErrInvariant, r.Key())
			}
			if r.IsForwardFilled == r.IsRealData {
				return fmt.Errorf("%w: %s is_forward_filled must equal !is_real_data", ErrInvariant, r.Key())
			}
			if (r.DaysSinceRealData == 0) != r.IsRealData {
				return fmt.Errorf("%w: %s days_since_real_data=%d with is_real_data=%t", ErrInvariant, r.Key(), r.DaysSinceRealData, r.IsRealData)
			}
			if firstReal.IsZero() || r.Date.Before(firstReal) {
				return fmt.Errorf("%w: %s precedes first real observation", ErrInvariant, r.Key())
			}
		}
	}
	return nil
}

// TradingDays lists the trading days in [from, to].
type TradingDays interface {
	Between(from, to time.Time) []time.Time
}

// CheckContiguous verifies that every bucket holds exactly one row per
// trading day between its first and last row.
func (s *Surface) CheckContiguous(cal TradingDays) error {
	for _, k := range s.Keys() {
		rows := s.Buckets[k]
		if len(rows) == 0 {
			continue
		}
		days := cal.Between(rows[0].Date, rows[len(rows)-1].Date)
		if len(days) != len(rows) {
			return fmt.Errorf("%w: %s holds %d rows over %d trading days", ErrInvariant, k, len(rows), len(days))
		}
		for i, d := range days {
			if !rows[i].Date.Equal(d) {
				return fmt.Errorf("%w: %s is not trading day %s", ErrInvariant, rows[i].Key(), d.Format("2006-01-02"))
			}
		}
	}
	return nil
}
