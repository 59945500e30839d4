package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/metrics"
	"github.com/dgnsrekt/volsurface/internal/report"
	"github.com/dgnsrekt/volsurface/internal/store"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

var (
	day1 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)
	day3 = time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)
)

func testSurface(iv surface.Float) *surface.Surface {
	var rows []surface.Row
	for _, bk := range []surface.BucketKey{
		{Wing: surface.Put, DeltaCode: "d25", DTECode: "t30"},
		{Wing: surface.Call, DeltaCode: "d10", DTECode: "t7"},
	} {
		for i, d := range []time.Time{day1, day2, day3} {
			r := surface.NewRow(surface.Key{Date: d, BucketKey: bk})
			r.IV = iv
			r.DeltaRep, r.DTERep = 25, 30
			if i == 1 {
				r.IsForwardFilled = true
				r.DaysSinceRealData = 1
				r.DataQuality = surface.TierHigh
			} else {
				r.IsRealData = true
				r.DataQuality = surface.TierReal
			}
			rows = append(rows, r)
		}
	}
	return surface.FromRows(rows)
}

func save(t *testing.T, st *store.Manager, s *surface.Surface, id uuid.UUID) {
	t.Helper()
	windows := []int{7}
	_, err := st.Save(id.String(), s, store.Run{
		Lineage: &store.Lineage{RunID: id, Mode: "full", Rows: s.Len()},
		Quality: report.Assess(s, windows),
		Catalog: report.Catalog(s, windows),
	})
	require.NoError(t, err)
}

type fixture struct {
	st      *store.Manager
	rm      *ReloadManager
	handler http.Handler
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, load bool) *fixture {
	t.Helper()
	st := store.NewManager(t.TempDir(), "surface.jsonl.zst")
	rm := NewReloadManager(st, []int{7}, zap.NewNop())
	m := metrics.New()
	f := &fixture{st: st, rm: rm, metrics: m, handler: NewRouter(NewServer(rm, m, zap.NewNop()), m, zap.NewNop())}
	if load {
		save(t, st, testSurface(0.2), uuid.New())
		_, err := rm.Reload(t.Context())
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	rec, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["loaded"])

	f = newFixture(t, true)
	_, body = f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, true, body["loaded"])
	assert.EqualValues(t, 6, body["rows"])
	assert.Equal(t, "2024-07-01", body["start"])
	assert.Equal(t, "2024-07-03", body["end"])
}

func TestNotLoaded(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/surface/2024-07-01", "/buckets", "/buckets/put/d25/t30", "/quality"} {
		rec, _ := f.do(t, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestSurfaceOnDate(t *testing.T) {
	f := newFixture(t, true)

	rec, body := f.do(t, http.MethodGet, "/surface/2024-07-02")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
	rows := body["rows"].([]any)
	first := rows[0].(map[string]any)
	assert.Equal(t, true, first["is_forward_filled"])

	rec, _ = f.do(t, http.MethodGet, "/surface/2024-08-01")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/surface/yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuckets(t *testing.T) {
	f := newFixture(t, true)
	rec, body := f.do(t, http.MethodGet, "/buckets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestBucketRows(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name   string
		target string
		status int
		count  int
	}{
		{"all rows", "/buckets/put/d25/t30", http.StatusOK, 3},
		{"bare codes", "/buckets/PUT/25/30", http.StatusOK, 3},
		{"from", "/buckets/call/d10/t7?from=2024-07-02", http.StatusOK, 2},
		{"from and to", "/buckets/call/d10/t7?from=2024-07-02&to=2024-07-02", http.StatusOK, 1},
		{"bad wing", "/buckets/straddle/d25/t30", http.StatusBadRequest, 0},
		{"bad range", "/buckets/put/d25/t30?from=2024-07-03&to=2024-07-01", http.StatusBadRequest, 0},
		{"unknown bucket", "/buckets/put/d60/t30", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodGet, tt.target)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				assert.EqualValues(t, tt.count, body["count"])
			}
		})
	}
}

func TestQuality(t *testing.T) {
	f := newFixture(t, true)
	rec, body := f.do(t, http.MethodGet, "/quality")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, []any{"GOOD", "ACCEPTABLE", "CRITICAL"}, body["status"])
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 6, summary["total_rows"])
}

func TestReload(t *testing.T) {
	f := newFixture(t, true)
	before := f.rm.Current()

	next := uuid.New()
	save(t, f.st, testSurface(0.3), next)

	rec, body := f.do(t, http.MethodPost, "/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, next.String(), body["run_id"])

	after := f.rm.Current()
	assert.NotSame(t, before, after)
	assert.Equal(t, surface.Float(0.2), before.Surface.Rows()[0].IV, "old snapshot untouched")
	assert.Equal(t, surface.Float(0.3), after.Surface.Rows()[0].IV)
}

func TestReloadFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t, false)
	rec, _ := f.do(t, http.MethodPost, "/reload")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, f.rm.Current())
}

func TestReloadRebuildsMissingArtifacts(t *testing.T) {
	st := store.NewManager(t.TempDir(), "surface.jsonl.zst")
	_, err := st.Save("run", testSurface(0.2), store.Run{})
	require.NoError(t, err)

	rm := NewReloadManager(st, []int{7}, zap.NewNop())
	res, err := rm.Reload(t.Context())
	require.NoError(t, err)
	assert.Empty(t, res.RunID)

	snap := rm.Current()
	require.NotNil(t, snap.Quality)
	assert.Len(t, snap.Catalog, 2)
	assert.Nil(t, snap.Lineage)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, true)
	f.do(t, http.MethodGet, "/buckets")
	f.do(t, http.MethodPost, "/reload")

	rec, _ := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/buckets"`)
	assert.Contains(t, rec.Body.String(), "volsurface_reloads_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, false)
	rec, _ := f.do(t, http.MethodOptions, "/buckets")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
