package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

var bk = surface.BucketKey{Wing: surface.Put, DeltaCode: "d10", DTECode: "t7"}

func testCalendar() *calendar.Calendar {
	return calendar.New(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		calendar.Weekdays, nil,
	)
}

func row(d time.Time, isReal bool, iv float64) surface.Row {
	r := surface.NewRow(surface.Key{Date: d, BucketKey: bk})
	r.IsRealData = isReal
	r.IsForwardFilled = !isReal
	if !isReal {
		r.DaysSinceRealData = 1
	}
	r.IV = surface.Float(iv)
	return r
}

func TestCombineReplacesWithNewest(t *testing.T) {
	days := testCalendar().Days()
	existing := surface.FromRows([]surface.Row{row(days[0], true, 0.20), row(days[1], false, 0.20)})

	out, st := Combine(existing, []surface.Row{row(days[1], true, 0.25), row(days[2], true, 0.30)})

	rows := out.Buckets[bk]
	require.Len(t, rows, 3)
	assert.True(t, rows[1].IsRealData)
	assert.Equal(t, surface.Float(0.25), rows[1].IV)
	assert.Equal(t, surface.Fresh, rows[1].Origin)
	assert.Equal(t, surface.Carried, rows[0].Origin)
	assert.Equal(t, Stats{Carried: 2, Fresh: 2, Replaced: 1}, st)

	// existing must be untouched
	assert.False(t, existing.Buckets[bk][1].IsRealData)
}

func TestCombineNeverDowngradesRealRow(t *testing.T) {
	days := testCalendar().Days()
	existing := surface.FromRows([]surface.Row{row(days[0], true, 0.20)})

	out, st := Combine(existing, []surface.Row{row(days[0], false, 0.99)})

	r := out.Buckets[bk][0]
	assert.True(t, r.IsRealData)
	assert.Equal(t, surface.Float(0.20), r.IV)
	assert.Equal(t, 1, st.Kept)
}

func TestCombineWithoutExisting(t *testing.T) {
	days := testCalendar().Days()
	out, st := Combine(nil, []surface.Row{row(days[3], true, 0.2), row(days[1], true, 0.1)})
	require.Equal(t, 2, out.Len())
	assert.Equal(t, days[1], out.Buckets[bk][0].Date)
	assert.Zero(t, st.Carried)
}

func TestPlan(t *testing.T) {
	cal := testCalendar()
	days := cal.Days()
	var rows []surface.Row
	for i := 0; i < 100; i++ {
		rows = append(rows, row(days[i], i%2 == 0, 0.2))
	}
	s := surface.FromRows(rows)
	cfg := config.IncrementalConfig{Enabled: true, TailDays: 10, SafetyMarginDays: 5}

	w := Plan(cal, s, []time.Time{days[99]}, cfg, 20)
	assert.Equal(t, days[89], w.Cutoff)
	// 45 real dates (even days) precede the cutoff; the series keeps the last 25
	assert.Equal(t, days[40], w.SeriesStart)
	assert.False(t, w.IsFull())

	w = Plan(cal, s, []time.Time{days[50]}, cfg, 20)
	assert.Equal(t, days[50], w.Cutoff, "fresh rows older than the tail pull the cutoff back")

	w = Plan(cal, s, []time.Time{days[99]}, cfg, 200)
	assert.Equal(t, days[89], w.Cutoff)
	assert.True(t, w.SeriesStart.IsZero(), "not enough history: series from the start")

	cfg.TailDays = 9999
	assert.True(t, Plan(cal, s, []time.Time{days[99]}, cfg, 20).IsFull())
	assert.True(t, Plan(cal, surface.New(), nil, cfg, 20).IsFull())
}

func TestSplice(t *testing.T) {
	days := testCalendar().Days()
	base := surface.FromRows([]surface.Row{row(days[0], true, 0.1), row(days[1], true, 0.1), row(days[2], true, 0.1)})
	tail := surface.FromRows([]surface.Row{row(days[0], true, 0.9), row(days[2], true, 0.9), row(days[3], true, 0.9)})

	out := Splice(base, tail, days[2])
	rows := out.Buckets[bk]
	require.Len(t, rows, 4)
	assert.Equal(t, surface.Float(0.1), rows[0].IV)
	assert.Equal(t, surface.Float(0.1), rows[1].IV)
	assert.Equal(t, surface.Float(0.9), rows[2].IV)
	assert.Equal(t, surface.Float(0.9), rows[3].IV)
}

func TestChanged(t *testing.T) {
	days := testCalendar().Days()
	a := surface.FromRows([]surface.Row{row(days[0], true, 0.1)})
	b := surface.FromRows([]surface.Row{row(days[0], true, 0.1)})
	assert.Zero(t, Changed(a, b))

	b = surface.FromRows([]surface.Row{row(days[0], true, 0.1), row(days[1], false, 0.1)})
	assert.Equal(t, 1, Changed(a, b))

	nan := row(days[0], true, 0)
	nan.IV = surface.Null()
	assert.Equal(t, 1, Changed(a, surface.FromRows([]surface.Row{nan})))
}
