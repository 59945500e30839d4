package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/metrics"
	"github.com/dgnsrekt/volsurface/internal/store"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// tradingDays returns n weekdays starting 2024-01-02.
func tradingDays(n int) []time.Time {
	var out []time.Time
	for d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); len(out) < n; d = d.AddDate(0, 0, 1) {
		if calendar.Weekdays(d) {
			out = append(out, d)
		}
	}
	return out
}

// writeQuotes writes one put chain with a single 30-day expiration, quoted at
// mid-session and at the close.
func writeQuotes(t *testing.T, dir string, day time.Time, idx int) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("date,ms_of_day,right,expiration,strike,bid,ask,mid,implied_vol,delta,underlying_price\n")

	exp := day.AddDate(0, 0, 30)
	spot := 500 * math.Exp(0.01*math.Sin(float64(idx)))
	shift := 0.02 * math.Sin(float64(idx)/3)
	for _, snap := range []struct {
		clock string
		mid   float64
	}{{"12:00:00", 2.0}, {"15:30:00", 1.8}} {
		for i := 0; i < 40; i++ {
			delta := 0.03 + float64(i)*0.0125
			strike := 400 + float64(i)*2.5
			iv := 0.30 - float64(i)*0.002 + shift
			fmt.Fprintf(&buf, "%s,%s,P,%s,%.2f,%.4f,%.4f,%.4f,%.6f,%.6f,%.4f\n",
				calendar.Format(day), snap.clock, calendar.Format(exp), strike,
				snap.mid-0.05, snap.mid+0.05, snap.mid, iv, -delta, spot)
		}
	}

	name := filepath.Join(dir, "30MINDATA_"+calendar.Format(day)+".csv")
	require.NoError(t, os.WriteFile(name, buf.Bytes(), 0600))
}

// writeRange writes files for days[from:to], skipping the listed indexes.
func writeRange(t *testing.T, dir string, days []time.Time, from, to int, skip ...int) {
	t.Helper()
	skipped := make(map[int]bool)
	for _, s := range skip {
		skipped[s] = true
	}
	for i := from; i < to; i++ {
		if !skipped[i] {
			writeQuotes(t, dir, days[i], i)
		}
	}
}

func testConfig(t *testing.T, input string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Input.Directory = input
	cfg.Output.Directory = t.TempDir()
	cfg.Workers.Count = 4
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config) *Runner {
	t.Helper()
	st := store.NewManager(cfg.Output.Directory, cfg.Output.SurfaceFile)
	r, err := New(cfg, st, zap.NewNop(), metrics.New())
	require.NoError(t, err)
	r.SetBusinessDays(calendar.Weekdays)
	return r
}

func encodeRows(t *testing.T, s *surface.Surface) []string {
	t.Helper()
	var out []string
	for _, bk := range s.Keys() {
		for i := range s.Buckets[bk] {
			b, err := json.Marshal(&s.Buckets[bk][i])
			require.NoError(t, err)
			out = append(out, string(b))
		}
	}
	return out
}

func TestRunFull(t *testing.T) {
	days := tradingDays(30)
	input := t.TempDir()
	writeRange(t, input, days, 0, 30, 10, 11)

	cfg := testConfig(t, input)
	res, err := newRunner(t, cfg).Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	assert.True(t, res.Written)
	assert.Equal(t, 28, res.Batch.Success)
	require.NoError(t, res.Surface.CheckInvariants())
	assert.FileExists(t, filepath.Join(cfg.Output.Directory, cfg.Output.SurfaceFile))
	assert.FileExists(t, filepath.Join(cfg.Output.Directory, store.LineageFile))
	assert.FileExists(t, filepath.Join(cfg.Output.Directory, store.CatalogFile))

	bk := surface.BucketKey{Wing: surface.Put, DeltaCode: "d25", DTECode: "t30"}
	rows := res.Surface.Buckets[bk]
	require.Len(t, rows, 30, "dense over every trading day")
	assert.Equal(t, days[0], rows[0].Date)
	for i, want := range map[int]int{9: 0, 10: 1, 11: 2, 12: 0} {
		assert.Equal(t, want, rows[i].DaysSinceRealData, "day %d", i)
		assert.Equal(t, want > 0, rows[i].IsForwardFilled, "day %d", i)
	}
	assert.Equal(t, rows[9].IV, rows[11].IV, "filled from the last real day")
	assert.Equal(t, surface.TierHigh, rows[11].DataQuality)
	assert.False(t, rows[11].Window(7).IVPct.Valid(), "no percentile for filled rows")
	assert.True(t, rows[29].Window(7).IVPct.Valid())
	assert.True(t, rows[29].HV[7].Valid())

	assert.Equal(t, "full", res.Lineage.Mode)
	assert.Equal(t, calendar.Format(days[29]), res.Lineage.End)
}

func TestRunIncrementalMatchesFull(t *testing.T) {
	days := tradingDays(40)

	fullInput := t.TempDir()
	writeRange(t, fullInput, days, 0, 40, 10, 11, 33)
	full, err := newRunner(t, testConfig(t, fullInput)).Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	incInput := t.TempDir()
	writeRange(t, incInput, days, 0, 30, 10, 11)
	cfg := testConfig(t, incInput)
	cfg.Incremental.TailDays = 5
	cfg.Incremental.SafetyMarginDays = 0
	runner := newRunner(t, cfg)

	first, err := runner.Run(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, first.Mode, "no existing surface yet")

	writeRange(t, incInput, days, 30, 40, 33)
	second, err := runner.Run(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, second.Mode)
	assert.Equal(t, 9, second.Batch.Success)
	assert.Equal(t, days[30], second.Window.Cutoff)
	require.NoError(t, second.Surface.CheckInvariants())

	assert.Equal(t, encodeRows(t, full.Surface), encodeRows(t, second.Surface))

	reloaded, err := store.NewManager(cfg.Output.Directory, cfg.Output.SurfaceFile).Load()
	require.NoError(t, err)
	assert.Equal(t, encodeRows(t, full.Surface), encodeRows(t, reloaded))
}

func TestRunIncrementalNeverDowngradesRealRows(t *testing.T) {
	days := tradingDays(12)
	input := t.TempDir()
	writeRange(t, input, days, 0, 12)

	cfg := testConfig(t, input)
	runner := newRunner(t, cfg)
	first, err := runner.Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	// a later run that sees only part of the inputs keeps every real flag
	require.NoError(t, os.Remove(filepath.Join(input, "30MINDATA_"+calendar.Format(days[5])+".csv")))
	writeQuotes(t, input, tradingDays(13)[12], 12)
	second, err := runner.Run(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)

	for bk, rows := range first.Surface.Buckets {
		after := second.Surface.Buckets[bk]
		for i, r := range rows {
			if r.IsRealData {
				assert.True(t, after[i].IsRealData, "%v", r.Key())
			}
		}
	}
}

func TestRunRoundTripWithoutNewFiles(t *testing.T) {
	days := tradingDays(15)
	input := t.TempDir()
	writeRange(t, input, days, 0, 15)

	cfg := testConfig(t, input)
	runner := newRunner(t, cfg)
	_, err := runner.Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	path := filepath.Join(cfg.Output.Directory, cfg.Output.SurfaceFile)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	res, err := runner.Run(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.False(t, res.Written)
	assert.Zero(t, res.Changed)
	assert.Nil(t, res.Batch, "nothing extracted")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunCorruptSurfaceIsFatal(t *testing.T) {
	input := t.TempDir()
	writeRange(t, input, tradingDays(3), 0, 3)
	cfg := testConfig(t, input)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Output.Directory, cfg.Output.SurfaceFile), []byte("garbage"), 0600))

	_, err := newRunner(t, cfg).Run(context.Background(), Options{Mode: ModeIncremental})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrSurfaceCorrupt))
}

func TestRunWithoutInputIsFatal(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	_, err := newRunner(t, cfg).Run(context.Background(), Options{Mode: ModeFull})
	assert.ErrorIs(t, err, ErrNoRows)
	assert.NoFileExists(t, filepath.Join(cfg.Output.Directory, cfg.Output.SurfaceFile))
}

func TestRunSkipsBadFiles(t *testing.T) {
	days := tradingDays(5)
	input := t.TempDir()
	writeRange(t, input, days, 0, 5)
	bad := filepath.Join(input, "30MINDATA_"+calendar.Format(days[4].AddDate(0, 0, 3))+".csv")
	require.NoError(t, os.WriteFile(bad, []byte("date,strike\n2024-01-01,1\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(input, "30MINDATA_nodate.csv"), []byte("x\n"), 0600))

	res, err := newRunner(t, testConfig(t, input)).Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Batch.Total)
	assert.Equal(t, 5, res.Batch.Success)
	assert.Equal(t, 1, res.Batch.Failed)
	assert.Len(t, res.Batch.Errors, 1)
}

func TestRunSkipsNonTradingDayFiles(t *testing.T) {
	days := tradingDays(10)
	input := t.TempDir()
	writeRange(t, input, days, 0, 10)
	saturday := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	writeQuotes(t, input, saturday, 99)

	cfg := testConfig(t, input)
	cfg.Calendar.ExtraHolidays = []string{calendar.Format(days[3])}
	res, err := newRunner(t, cfg).Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Batch.Total, "weekend and holiday files never reach extraction")

	rows := res.Surface.Buckets[surface.BucketKey{Wing: surface.Put, DeltaCode: "d25", DTECode: "t30"}]
	require.Len(t, rows, 9)
	for _, r := range rows {
		assert.NotEqual(t, saturday, r.Date)
		assert.NotEqual(t, days[3], r.Date)
	}
	for bk, rows := range res.Surface.Buckets {
		for _, r := range rows {
			assert.True(t, calendar.Weekdays(r.Date), "%v", r.Key())
			assert.NotEqual(t, days[3], r.Date, "%v", bk)
		}
	}
}

func TestRunNewHolidayForcesFullRecompute(t *testing.T) {
	days := tradingDays(16)
	input := t.TempDir()
	writeRange(t, input, days, 0, 12)

	cfg := testConfig(t, input)
	cfg.Incremental.TailDays = 2
	cfg.Incremental.SafetyMarginDays = 0
	_, err := newRunner(t, cfg).Run(context.Background(), Options{Mode: ModeFull})
	require.NoError(t, err)

	writeRange(t, input, days, 12, 16)
	cfg.Calendar.ExtraHolidays = []string{calendar.Format(days[3])}
	res, err := newRunner(t, cfg).Run(context.Background(), Options{Mode: ModeIncremental})
	require.NoError(t, err)

	assert.Equal(t, ModeIncremental, res.Mode)
	assert.True(t, res.Window.IsFull(), "the stored surface predates the holiday")
	rows := res.Surface.Buckets[surface.BucketKey{Wing: surface.Put, DeltaCode: "d25", DTECode: "t30"}]
	require.Len(t, rows, 15)
	for _, r := range rows {
		assert.NotEqual(t, days[3], r.Date)
	}
}

func TestRunEmptyWindowFileIsSoft(t *testing.T) {
	days := tradingDays(4)
	input := t.TempDir()
	writeRange(t, input, days, 0, 3)
	csv := "date,ms_of_day,right,expiration,strike,bid,ask,mid,implied_vol,delta\n" +
		calendar.Format(days[3]) + ",09:30:00,P,2024-03-01,400,1,1.1,1.05,0.2,-0.1\n"
	require.NoError(t, os.WriteFile(filepath.Join(input, "30MINDATA_"+calendar.Format(days[3])+".csv"), []byte(csv), 0600))

	res, err := newRunner(t, testConfig(t, input)).Run(context.Background(), Options{Mode: ModeFull, End: days[3]})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batch.Empty)
	assert.Zero(t, res.Batch.Failed)

	rows := res.Surface.Buckets[surface.BucketKey{Wing: surface.Put, DeltaCode: "d25", DTECode: "t30"}]
	require.Len(t, rows, 4)
	assert.True(t, rows[3].IsForwardFilled)
}
