package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/report"
	"github.com/dgnsrekt/volsurface/internal/store"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// ErrReloadInProgress is returned when a reload is requested while another runs.
var ErrReloadInProgress = errors.New("reload already in progress")

// Snapshot is one immutable view of the persisted surface and its artifacts.
type Snapshot struct {
	Surface  *surface.Surface
	Quality  *report.Quality
	Catalog  []report.CatalogEntry
	Lineage  *store.Lineage
	LoadedAt time.Time
}

// ReloadManager holds the currently served snapshot and swaps it atomically.
// Readers never block on a reload; they keep the snapshot they already hold.
type ReloadManager struct {
	store   *store.Manager
	windows []int
	logger  *zap.Logger

	current     atomic.Pointer[Snapshot]
	isReloading atomic.Bool
	reloadMu    sync.Mutex // prevents concurrent reloads
}

// NewReloadManager creates a ReloadManager with nothing loaded yet.
// windows are the percentile windows used to rebuild a missing catalog.
func NewReloadManager(st *store.Manager, windows []int, logger *zap.Logger) *ReloadManager {
	return &ReloadManager{store: st, windows: windows, logger: logger}
}

// Current returns the served snapshot, or nil before the first load.
func (rm *ReloadManager) Current() *Snapshot {
	return rm.current.Load()
}

// IsReloading reports whether a reload is running.
func (rm *ReloadManager) IsReloading() bool {
	return rm.isReloading.Load()
}

// ReloadResult describes a completed swap.
type ReloadResult struct {
	PreviousRunID string    `json:"previous_run_id"`
	RunID         string    `json:"run_id"`
	Rows          int       `json:"rows"`
	LoadedAt      time.Time `json:"loaded_at"`
}

// Reload reads the committed surface and swaps it in. On failure the
// previous snapshot keeps being served.
func (rm *ReloadManager) Reload(ctx context.Context) (*ReloadResult, error) {
	if !rm.reloadMu.TryLock() {
		return nil, ErrReloadInProgress
	}
	defer rm.reloadMu.Unlock()

	rm.isReloading.Store(true)
	defer rm.isReloading.Store(false)

	prev := rm.Current()
	rm.logger.Info("starting surface reload", zap.String("path", rm.store.SurfacePath()))

	next, err := rm.load(ctx)
	if err != nil {
		return nil, err
	}
	rm.current.Store(next)

	res := &ReloadResult{
		PreviousRunID: runID(prev),
		RunID:         runID(next),
		Rows:          next.Surface.Len(),
		LoadedAt:      next.LoadedAt,
	}
	rm.logger.Info("surface reload complete",
		zap.String("previousRunID", res.PreviousRunID),
		zap.String("runID", res.RunID),
		zap.Int("rows", res.Rows),
	)
	return res, nil
}

func (rm *ReloadManager) load(ctx context.Context) (*Snapshot, error) {
	s, err := rm.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading surface: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Snapshot{Surface: s, LoadedAt: time.Now()}

	var q report.Quality
	switch err := rm.store.LoadJSON(store.QualityFile, &q); {
	case err == nil:
		snap.Quality = &q
	case errors.Is(err, os.ErrNotExist):
		snap.Quality = report.Assess(s, rm.windows)
	default:
		rm.logger.Warn("rebuilding unreadable quality report", zap.Error(err))
		snap.Quality = report.Assess(s, rm.windows)
	}

	if err := rm.store.LoadJSON(store.CatalogFile, &snap.Catalog); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			rm.logger.Warn("rebuilding unreadable catalog", zap.Error(err))
		}
		snap.Catalog = report.Catalog(s, rm.windows)
	}

	if l, err := rm.store.LoadLineage(); err == nil {
		snap.Lineage = l
	} else if !errors.Is(err, os.ErrNotExist) {
		rm.logger.Warn("ignoring unreadable lineage", zap.Error(err))
	}
	return snap, nil
}

func runID(s *Snapshot) string {
	if s == nil || s.Lineage == nil {
		return ""
	}
	return s.Lineage.RunID.String()
}
