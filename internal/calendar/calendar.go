// Package calendar provides the universal trading calendar used to align
// windows and densify bucket histories.
package calendar

import (
	"fmt"
	"sort"
	"time"

	exchcal "github.com/scmhub/calendar"
)

const dateLayout = "2006-01-02"

var newYork = mustLoad("America/New_York")

// BusinessDayFunc reports whether a day is a trading day.
type BusinessDayFunc func(time.Time) bool

// ExchangeDays returns the business-day predicate for a supported exchange.
func ExchangeDays(exchange string) (BusinessDayFunc, error) {
	switch exchange {
	case "XNYS", "":
		nyse := exchcal.XNYS()
		return func(d time.Time) bool {
			// Evaluate at noon New York time so the civil date is unambiguous
			return nyse.IsBusinessDay(time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, newYork))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exchange calendar: %s", exchange)
	}
}

// Weekdays is a predicate that accepts Monday through Friday.
func Weekdays(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsTradingDay reports whether d is a business day and not one of the extra
// holidays.
func IsTradingDay(d time.Time, isBusiness BusinessDayFunc, extraHolidays []time.Time) bool {
	d = Day(d)
	for _, h := range extraHolidays {
		if Day(h).Equal(d) {
			return false
		}
	}
	return isBusiness(d)
}

// Calendar is an immutable, ordered, de-duplicated set of trading dates.
// Dates are civil dates stored as midnight UTC.
type Calendar struct {
	days  []time.Time
	index map[time.Time]int
}

// New builds the calendar covering [start, end] inclusive.
// Extra holidays are removed on top of what isBusiness rejects.
func New(start, end time.Time, isBusiness BusinessDayFunc, extraHolidays []time.Time) *Calendar {
	start, end = Day(start), Day(end)
	skip := make(map[time.Time]bool, len(extraHolidays))
	for _, h := range extraHolidays {
		skip[Day(h)] = true
	}

	c := &Calendar{index: make(map[time.Time]int)}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if skip[d] || !isBusiness(d) {
			continue
		}
		c.index[d] = len(c.days)
		c.days = append(c.days, d)
	}
	return c
}

// Covering builds a calendar over [start, end] extended backward until it
// holds at least lookback trading days strictly before start.
func Covering(start, end time.Time, lookback int, isBusiness BusinessDayFunc, extraHolidays []time.Time) *Calendar {
	skip := make(map[time.Time]bool, len(extraHolidays))
	for _, h := range extraHolidays {
		skip[Day(h)] = true
	}
	first := Day(start)
	for n := 0; n < lookback; {
		first = first.AddDate(0, 0, -1)
		if !skip[first] && isBusiness(first) {
			n++
		}
	}
	return New(first, end, isBusiness, extraHolidays)
}

// Days returns the trading days in ascending order.
func (c *Calendar) Days() []time.Time {
	out := make([]time.Time, len(c.days))
	copy(out, c.days)
	return out
}

// Len returns the number of trading days.
func (c *Calendar) Len() int { return len(c.days) }

// Contains reports whether d is a trading day inside the calendar's range.
func (c *Calendar) Contains(d time.Time) bool {
	_, ok := c.index[Day(d)]
	return ok
}

// Between returns trading days in [from, to] inclusive.
func (c *Calendar) Between(from, to time.Time) []time.Time {
	from, to = Day(from), Day(to)
	lo := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(from) })
	hi := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(to) })
	if lo >= hi {
		return nil
	}
	out := make([]time.Time, hi-lo)
	copy(out, c.days[lo:hi])
	return out
}

// Before returns the n trading days strictly before d, oldest first.
// ok is false when the calendar holds fewer than n such days.
func (c *Calendar) Before(d time.Time, n int) (days []time.Time, ok bool) {
	d = Day(d)
	i := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(d) })
	if i < n {
		return c.days[:i], false
	}
	return c.days[i-n : i], true
}

// Ordinal returns the position of d among trading days, or -1 when d is not one.
func (c *Calendar) Ordinal(d time.Time) int {
	if i, ok := c.index[Day(d)]; ok {
		return i
	}
	return -1
}

// ShiftBack returns the trading day n positions before d, clamped to the first day.
func (c *Calendar) ShiftBack(d time.Time, n int) time.Time {
	if len(c.days) == 0 {
		return Day(d)
	}
	d = Day(d)
	i := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(d) })
	j := i - n
	if j < 0 {
		j = 0
	}
	if j >= len(c.days) {
		j = len(c.days) - 1
	}
	return c.days[j]
}

// Day truncates t to its civil date at midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// ParseDates parses a list of YYYY-MM-DD strings.
func ParseDates(values []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(values))
	for _, v := range values {
		d, err := ParseDate(v)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Format renders a civil date as YYYY-MM-DD.
func Format(d time.Time) string {
	return d.Format(dateLayout)
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
