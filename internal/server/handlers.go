package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/metrics"
	"github.com/dgnsrekt/volsurface/internal/report"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Server serves the loaded surface read-only.
type Server struct {
	reload  *ReloadManager
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewServer creates a Server. m may be nil.
func NewServer(rm *ReloadManager, m *metrics.Metrics, logger *zap.Logger) *Server {
	return &Server{reload: rm, metrics: m, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Loaded    bool      `json:"loaded"`
	Reloading bool      `json:"reloading"`
	RunID     string    `json:"run_id,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
	Rows      int       `json:"rows"`
	Buckets   int       `json:"buckets"`
	Start     string    `json:"start,omitempty"`
	End       string    `json:"end,omitempty"`
}

// Health reports whether a surface is loaded. It answers 200 either way so
// the process can be probed before the first build exists.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Reloading: s.reload.IsReloading()}
	if snap := s.reload.Current(); snap != nil {
		resp.Loaded = true
		resp.RunID = runID(snap)
		resp.LoadedAt = snap.LoadedAt
		resp.Rows = snap.Surface.Len()
		resp.Buckets = len(snap.Surface.Buckets)
		if first, last, ok := snap.Surface.DateRange(); ok {
			resp.Start, resp.End = calendar.Format(first), calendar.Format(last)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type rowsResponse struct {
	Date  string        `json:"date,omitempty"`
	Count int           `json:"count"`
	Rows  []surface.Row `json:"rows"`
}

// SurfaceOnDate returns every bucket's row for one date.
func (s *Server) SurfaceOnDate(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	d, err := calendar.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date (expected YYYY-MM-DD)")
		return
	}
	rows := snap.Surface.OnDate(d)
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no rows for "+calendar.Format(d))
		return
	}
	writeJSON(w, http.StatusOK, rowsResponse{Date: calendar.Format(d), Count: len(rows), Rows: rows})
}

type bucketsResponse struct {
	Count   int                   `json:"count"`
	Buckets []report.CatalogEntry `json:"buckets"`
}

// Buckets returns the catalog of every bucket.
func (s *Server) Buckets(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, bucketsResponse{Count: len(snap.Catalog), Buckets: snap.Catalog})
}

// BucketRows returns one bucket's rows, optionally bounded by the inclusive
// from and to query parameters.
func (s *Server) BucketRows(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	wing, ok := surface.WingFromRight(chi.URLParam(r, "wing"))
	if !ok {
		writeError(w, http.StatusBadRequest, "wing must be put or call")
		return
	}
	bk := surface.BucketKey{
		Wing:      wing,
		DeltaCode: withPrefix(chi.URLParam(r, "delta"), "d"),
		DTECode:   withPrefix(chi.URLParam(r, "dte"), "t"),
	}

	from, to, err := dateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, found := snap.Surface.Buckets[bk]
	if !found {
		writeError(w, http.StatusNotFound, "unknown bucket "+bk.String())
		return
	}
	out := make([]surface.Row, 0, len(rows))
	for _, row := range rows {
		if !from.IsZero() && row.Date.Before(from) {
			continue
		}
		if !to.IsZero() && row.Date.After(to) {
			break
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, rowsResponse{Count: len(out), Rows: out})
}

type qualityResponse struct {
	Status string `json:"status"`
	*report.Quality
}

// Quality returns the quality report of the loaded surface.
func (s *Server) Quality(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, qualityResponse{Status: snap.Quality.Status(), Quality: snap.Quality})
}

// Reload swaps in the surface currently on disk.
func (s *Server) Reload(w http.ResponseWriter, r *http.Request) {
	res, err := s.reload.Reload(r.Context())
	if !errors.Is(err, ErrReloadInProgress) {
		s.metrics.Reload(err)
	}
	switch {
	case errors.Is(err, ErrReloadInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) snapshot(w http.ResponseWriter) (*Snapshot, bool) {
	snap := s.reload.Current()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no surface loaded")
		return nil, false
	}
	return snap, true
}

func dateRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = calendar.ParseDate(v); err != nil {
			return from, to, errors.New("invalid from date (expected YYYY-MM-DD)")
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = calendar.ParseDate(v); err != nil {
			return from, to, errors.New("invalid to date (expected YYYY-MM-DD)")
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, errors.New("to precedes from")
	}
	return from, to, nil
}

// withPrefix accepts both "25" and "d25" style bucket codes.
func withPrefix(code, prefix string) string {
	code = strings.ToLower(code)
	if strings.HasPrefix(code, prefix) {
		return code
	}
	return prefix + code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
