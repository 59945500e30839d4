// Package quotes reads per-contract option quote files.
package quotes

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingColumns = errors.New("missing required columns")
	ErrBadTimestamp   = errors.New("unparsable time of day")
	ErrNoDate         = errors.New("file name carries no date")
)

// RequiredColumns must be present in every quote file.
var RequiredColumns = []string{"date", "ms_of_day", "right", "expiration", "strike", "bid", "ask", "mid"}

const msPerDay = 86_400_000

var fileDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// File is one dated input file.
type File struct {
	Path string
	Date time.Time
}

// Name returns the file's base name.
func (f File) Name() string { return filepath.Base(f.Path) }

// Quote is one row of a quote file. Missing numeric fields are NaN.
type Quote struct {
	Date       time.Time
	MsOfDay    int64 // MissingTime when the cell does not parse
	Right      string
	Expiration time.Time
	Strike     float64
	Bid        float64
	Ask        float64
	Mid        float64
	IV         float64
	Delta      float64
	Underlying float64
	Volume     float64
}

// Table is the parsed content of one file.
type Table struct {
	Quotes        []Quote
	HasIV         bool
	HasDelta      bool
	HasUnderlying bool
	HasVolume     bool
}

// Discover lists files in dir matching pattern, dated by the YYYY-MM-DD
// substring of their name, sorted by date then name. Undated files are
// returned separately so the caller can log them.
func Discover(dir, pattern string) (files []File, undated []string, err error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, nil, fmt.Errorf("globbing %s: %w", pattern, err)
	}
	for _, m := range matches {
		d, err := FileDate(m)
		if err != nil {
			undated = append(undated, m)
			continue
		}
		files = append(files, File{Path: m, Date: d})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].Date.Equal(files[j].Date) {
			return files[i].Date.Before(files[j].Date)
		}
		return files[i].Path < files[j].Path
	})
	return files, undated, nil
}

// FileDate extracts the date embedded in a file name.
func FileDate(path string) (time.Time, error) {
	m := fileDatePattern.FindString(filepath.Base(path))
	if m == "" {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoDate, filepath.Base(path))
	}
	d, err := time.Parse("2006-01-02", m)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoDate, filepath.Base(path))
	}
	return d, nil
}

// ReadFile opens and parses a quote file.
func ReadFile(path string, preferIVBS bool) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, preferIVBS)
}

// Read parses CSV quote data. The implied vol column is IV_BS (when preferred),
// then implied_vol, then IV; delta comes from delta, then delta_BS.
func Read(r io.Reader, preferIVBS bool) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	ivCandidates := []string{"implied_vol", "IV"}
	if preferIVBS {
		ivCandidates = append([]string{"IV_BS"}, ivCandidates...)
	}
	ivCol := firstColumn(cols, ivCandidates...)
	deltaCol := firstColumn(cols, "delta", "delta_BS")
	spotCol := firstColumn(cols, "underlying_price")
	volCol := firstColumn(cols, "volume")

	t := &Table{HasIV: ivCol >= 0, HasDelta: deltaCol >= 0, HasUnderlying: spotCol >= 0, HasVolume: volCol >= 0}

	var rawTimes []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(t.Quotes)+2, err)
		}

		q := Quote{
			Right:      strings.TrimSpace(field(rec, cols["right"])),
			Strike:     number(field(rec, cols["strike"])),
			Bid:        number(field(rec, cols["bid"])),
			Ask:        number(field(rec, cols["ask"])),
			Mid:        number(field(rec, cols["mid"])),
			IV:         number(field(rec, ivCol)),
			Delta:      number(field(rec, deltaCol)),
			Underlying: number(field(rec, spotCol)),
			Volume:     number(field(rec, volCol)),
		}
		q.Date, _ = parseDate(field(rec, cols["date"]))
		q.Expiration, _ = parseDate(field(rec, cols["expiration"]))
		rawTimes = append(rawTimes, strings.TrimSpace(field(rec, cols["ms_of_day"])))
		t.Quotes = append(t.Quotes, q)
	}

	ms, err := NormalizeTimeOfDay(rawTimes)
	if err != nil {
		return nil, err
	}
	for i := range t.Quotes {
		t.Quotes[i].MsOfDay = ms[i]
	}
	return t, nil
}

// MissingTime marks a time-of-day cell that could not be parsed. It matches
// no snapshot window.
const MissingTime int64 = -1

// NormalizeTimeOfDay converts a time-of-day column to milliseconds since midnight.
// The column holds HH:MM:SS(.ffffff) strings when at least half of its cells
// parse as such; otherwise it holds numbers whose unit is inferred from the
// finite maximum: minutes up to 1445, seconds up to 86410, otherwise
// milliseconds (scaled down by 1000 while above 2e8). Results are clipped to
// one day. Cells that do not parse become MissingTime; a column where no cell
// parses is an error.
func NormalizeTimeOfDay(raw []string) ([]int64, error) {
	out := make([]int64, len(raw))
	if len(raw) == 0 {
		return out, nil
	}
	for i := range out {
		out[i] = MissingTime
	}

	clocks := make([]int64, len(raw))
	nClock := 0
	for i, s := range raw {
		ms, err := parseClock(s)
		if err != nil {
			clocks[i] = MissingTime
			continue
		}
		clocks[i] = ms
		nClock++
	}
	if 2*nClock >= len(raw) {
		for i, ms := range clocks {
			if ms != MissingTime {
				out[i] = clip(ms)
			}
		}
		return out, nil
	}

	nums := make([]float64, len(raw))
	maxV := math.Inf(-1)
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			nums[i] = math.NaN()
			continue
		}
		nums[i] = v
		maxV = math.Max(maxV, v)
	}
	if math.IsInf(maxV, -1) {
		return nil, fmt.Errorf("%w: no parsable cell among %d", ErrBadTimestamp, len(raw))
	}

	scale := 1.0
	switch {
	case maxV <= 1445:
		scale = 60_000
	case maxV <= 86_410:
		scale = 1_000
	default:
		for m := maxV; m > 2e8; m /= 1000 {
			scale /= 1000
		}
	}
	for i, v := range nums {
		if !math.IsNaN(v) {
			out[i] = clip(int64(math.Round(v * scale)))
		}
	}
	return out, nil
}

func parseClock(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, ErrBadTimestamp
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0, ErrBadTimestamp
	}
	return int64(h)*3_600_000 + int64(m)*60_000 + int64(math.Round(sec*1000)), nil
}

func clip(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > msPerDay {
		return msPerDay
	}
	return ms
}

var dateLayouts = []string{"2006-01-02", "20060102", "01/02/2006", "2006/01/02"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

func firstColumn(cols map[string]int, names ...string) int {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func number(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
