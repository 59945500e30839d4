// Package pipeline runs the surface build end to end: extraction across
// files, aggregation, merge with the persisted surface, densification,
// derived metrics, validation and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/volsurface/internal/aggregate"
	"github.com/dgnsrekt/volsurface/internal/bucket"
	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/extract"
	"github.com/dgnsrekt/volsurface/internal/fill"
	"github.com/dgnsrekt/volsurface/internal/merge"
	"github.com/dgnsrekt/volsurface/internal/metrics"
	"github.com/dgnsrekt/volsurface/internal/percentile"
	"github.com/dgnsrekt/volsurface/internal/quotes"
	"github.com/dgnsrekt/volsurface/internal/realized"
	"github.com/dgnsrekt/volsurface/internal/report"
	"github.com/dgnsrekt/volsurface/internal/store"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// ErrNoRows is returned when a full pass produces no surface rows.
var ErrNoRows = errors.New("no surface rows produced")

// Mode selects how a run treats the persisted surface.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Options tune one run.
type Options struct {
	Mode Mode
	// End extends every bucket's dense range to at least this date.
	End time.Time
}

// Result describes a finished run.
type Result struct {
	RunID    uuid.UUID
	Mode     Mode
	Batch    *BatchResult
	Merge    merge.Stats
	Window   merge.Window
	Surface  *surface.Surface
	Quality  *report.Quality
	Catalog  []report.CatalogEntry
	Lineage  *store.Lineage
	Phantoms int
	Changed  int
	Written  bool
	Bytes    int64
	Duration time.Duration
}

// Runner owns the configured stages of the pipeline.
type Runner struct {
	cfg        *config.Config
	store      *store.Manager
	logger     *zap.Logger
	metrics    *metrics.Metrics
	isBusiness calendar.BusinessDayFunc
	holidays   []time.Time
}

// New builds a Runner. m may be nil.
func New(cfg *config.Config, st *store.Manager, logger *zap.Logger, m *metrics.Metrics) (*Runner, error) {
	isBusiness, err := calendar.ExchangeDays(cfg.Calendar.Exchange)
	if err != nil {
		return nil, err
	}
	holidays, err := calendar.ParseDates(cfg.Calendar.ExtraHolidays)
	if err != nil {
		return nil, fmt.Errorf("parsing extra holidays: %w", err)
	}
	return &Runner{
		cfg:        cfg,
		store:      st,
		logger:     logger,
		metrics:    m,
		isBusiness: isBusiness,
		holidays:   holidays,
	}, nil
}

// SetBusinessDays replaces the exchange calendar predicate.
func (r *Runner) SetBusinessDays(fn calendar.BusinessDayFunc) {
	r.isBusiness = fn
}

// Run executes one pass. The persisted surface is replaced only when the run
// succeeds and produced changes.
func (r *Runner) Run(ctx context.Context, opts Options) (res *Result, err error) {
	start := time.Now()
	res = &Result{RunID: uuid.New(), Mode: opts.Mode}
	if res.Mode == "" {
		res.Mode = ModeFull
		if r.cfg.Incremental.Enabled {
			res.Mode = ModeIncremental
		}
	}
	defer func() {
		res.Duration = time.Since(start)
		r.metrics.Run(string(res.Mode), err)
	}()

	log := r.logger.With(zap.String("run_id", res.RunID.String()))

	existing, prev, err := r.loadExisting(res.Mode, log)
	if err != nil {
		return res, err
	}
	if existing == nil {
		res.Mode = ModeFull
	}

	tasks, err := r.discover(existing, log)
	if err != nil {
		return res, err
	}
	log.Info("starting run", zap.String("mode", string(res.Mode)), zap.Int("files", len(tasks)))

	if res.Mode == ModeIncremental && len(tasks) == 0 {
		log.Info("no new input files, surface unchanged")
		res.Surface = existing
		return res, nil
	}

	pool, err := r.newPool(log)
	if err != nil {
		return res, err
	}
	timer := r.metrics.StartStage("extract")
	batch, err := pool.Execute(ctx, tasks)
	if err != nil {
		return res, err
	}
	res.Batch = batch
	log.Info("extraction complete",
		zap.Int("total", batch.Total),
		zap.Int("success", batch.Success),
		zap.Int("empty", batch.Empty),
		zap.Int("failed", batch.Failed),
		zap.Duration("duration", timer.Stop()),
	)
	for _, e := range batch.Errors {
		log.Warn("file error", zap.String("error", e))
	}

	fresh := aggregate.Rows(batch.Observations, batch.Leaders)
	if len(fresh) == 0 {
		if res.Mode == ModeFull {
			return res, fmt.Errorf("%w: %d files, %d failed", ErrNoRows, batch.Total, batch.Failed)
		}
		log.Warn("no new rows produced, surface unchanged")
		res.Surface = existing
		return res, nil
	}

	out, err := r.build(ctx, res, existing, fresh, opts.End, log)
	if err != nil {
		return res, err
	}
	res.Surface = out

	if existing != nil {
		res.Changed = merge.Changed(existing, out)
	} else {
		res.Changed = out.Len()
	}
	res.Quality = report.Assess(out, r.cfg.Percentile.Windows)
	res.Catalog = report.Catalog(out, r.cfg.Percentile.Windows)
	res.Lineage = r.lineage(res, prev, start)
	r.logQuality(res.Quality, log)

	timer = r.metrics.StartStage("persist")
	size, err := r.store.Save(res.RunID.String(), out, store.Run{
		Lineage: res.Lineage,
		Quality: res.Quality,
		Catalog: res.Catalog,
	})
	if err != nil {
		return res, fmt.Errorf("persisting surface: %w", err)
	}
	res.Written = true
	res.Bytes = size
	r.metrics.SetRows(tierCounts(out))
	log.Info("surface persisted",
		zap.String("path", r.store.SurfacePath()),
		zap.Int64("bytes", size),
		zap.Int("rows", out.Len()),
		zap.Int("changed", res.Changed),
		zap.Duration("duration", timer.Stop()),
	)
	return res, nil
}

// loadExisting returns the persisted surface in incremental mode. A missing
// surface downgrades the run to full; an unreadable one is fatal.
func (r *Runner) loadExisting(mode Mode, log *zap.Logger) (*surface.Surface, *store.Lineage, error) {
	if mode != ModeIncremental {
		return nil, nil, nil
	}
	ok, err := r.store.Exists()
	if err != nil {
		return nil, nil, fmt.Errorf("checking existing surface: %w", err)
	}
	if !ok {
		log.Info("no existing surface, running full build", zap.String("path", r.store.SurfacePath()))
		return nil, nil, nil
	}
	s, err := r.store.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading existing surface: %w", err)
	}
	prev, err := r.store.LoadLineage()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("ignoring unreadable lineage", zap.Error(err))
	}
	log.Info("loaded existing surface", zap.Int("rows", s.Len()), zap.Int("buckets", len(s.Buckets)))
	return s, prev, nil
}

// discover lists input files. With an existing surface only dates without a
// real observation are processed.
func (r *Runner) discover(existing *surface.Surface, log *zap.Logger) ([]Task, error) {
	files, undated, err := quotes.Discover(r.cfg.Input.Directory, r.cfg.Input.Pattern)
	if err != nil {
		return nil, err
	}
	for _, u := range undated {
		log.Warn("skipping file without date in name", zap.String("file", u))
	}

	var done map[time.Time]bool
	if existing != nil {
		done = existing.RealDates()
	}
	tasks := make([]Task, 0, len(files))
	for _, f := range files {
		if done[f.Date] {
			continue
		}
		if !calendar.IsTradingDay(f.Date, r.isBusiness, r.holidays) {
			log.Warn("skipping file dated on a non-trading day",
				zap.String("file", f.Name()),
				zap.String("date", calendar.Format(f.Date)),
			)
			continue
		}
		tasks = append(tasks, Task{File: f})
	}
	return tasks, nil
}

func (r *Runner) newPool(log *zap.Logger) (*Pool, error) {
	ex, err := extract.New(r.cfg.Snapshot, r.cfg.Filters)
	if err != nil {
		return nil, err
	}
	workers := r.cfg.Workers.Count
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return NewPool(ex, bucket.New(r.cfg.Buckets), r.cfg.Snapshot.PreferIVBS, workers, r.cfg.Workers.FilesPerSecond, log, r.metrics), nil
}

// build merges fresh rows into the existing surface and recomputes derived
// metrics over the planned window.
func (r *Runner) build(ctx context.Context, res *Result, existing *surface.Surface, fresh []surface.Row, end time.Time, log *zap.Logger) (*surface.Surface, error) {
	combined, st := merge.Combine(existing, fresh)
	res.Merge = st
	log.Info("merged rows",
		zap.Int("carried", st.Carried),
		zap.Int("fresh", st.Fresh),
		zap.Int("replaced", st.Replaced),
		zap.Int("kept_real", st.Kept),
	)

	first, last, _ := combined.DateRange()
	if end.After(last) {
		last = end
	}
	cal := calendar.Covering(first, last, r.cfg.MaxLookbackWindow(), r.isBusiness, r.holidays)

	window := merge.Full()
	if existing != nil {
		freshDates := make([]time.Time, 0, len(fresh))
		for _, row := range fresh {
			freshDates = append(freshDates, row.Date)
		}
		window = merge.Plan(cal, combined, freshDates, r.cfg.Incremental, r.cfg.MaxLookbackWindow())
		if !window.IsFull() && offCalendar(existing, cal) {
			// holidays changed since the surface was built
			log.Warn("existing surface holds non-trading dates, recomputing in full")
			window = merge.Full()
		}
	}
	res.Window = window
	if !window.IsFull() {
		log.Info("tail recompute",
			zap.String("cutoff", calendar.Format(window.Cutoff)),
			zap.Time("series_start", window.SeriesStart),
		)
	}

	keys := combined.Keys()

	timer := r.metrics.StartStage("fill")
	ctrl := fill.New(cal, r.cfg.Fill, log)
	dense := make([][]surface.Row, len(keys))
	if err := r.perBucket(ctx, keys, func(i int, bk surface.BucketKey) {
		dense[i] = ctrl.Densify(bk, combined.Buckets[bk], last)
	}); err != nil {
		return nil, err
	}
	s := surface.New()
	for i, bk := range keys {
		if len(dense[i]) > 0 {
			s.Buckets[bk] = dense[i]
		}
	}
	log.Info("densified", zap.Int("rows", s.Len()), zap.Duration("duration", timer.Stop()))

	timer = r.metrics.StartStage("realized")
	realized.New(r.cfg.Realized).Apply(s, window.Cutoff, window.SeriesStart)
	log.Info("realized volatility computed", zap.Duration("duration", timer.Stop()))

	timer = r.metrics.StartStage("percentile")
	pe := percentile.New(cal, r.cfg.Percentile)
	keys = s.Keys()
	phantoms := make([]int, len(keys))
	if err := r.perBucket(ctx, keys, func(i int, bk surface.BucketKey) {
		rows := s.Buckets[bk]
		pe.Bucket(rows, window.Cutoff)
		percentile.SkewZ(rows, r.cfg.Realized.SkewZWindow, r.cfg.Realized.SkewZMinPeriod, window.Cutoff)
		s.Buckets[bk], phantoms[i] = fill.RemovePhantoms(rows)
	}); err != nil {
		return nil, err
	}
	for _, n := range phantoms {
		res.Phantoms += n
	}
	if res.Phantoms > 0 {
		log.Warn("removed phantom rows", zap.Int("rows", res.Phantoms))
	}
	log.Info("percentiles computed", zap.Duration("duration", timer.Stop()))

	if !window.IsFull() {
		s = merge.Splice(existing, s, window.Cutoff)
	}

	if err := s.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := s.CheckContiguous(cal); err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return nil, ErrNoRows
	}
	return s, nil
}

func offCalendar(s *surface.Surface, cal *calendar.Calendar) bool {
	for _, rows := range s.Buckets {
		for _, row := range rows {
			if !cal.Contains(row.Date) {
				return true
			}
		}
	}
	return false
}

// perBucket runs fn for every bucket concurrently. Each call owns index i.
func (r *Runner) perBucket(ctx context.Context, keys []surface.BucketKey, fn func(i int, bk surface.BucketKey)) error {
	g, ctx := errgroup.WithContext(ctx)
	limit := r.cfg.Workers.Count
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g.SetLimit(limit)
	for i, bk := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(i, bk)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) lineage(res *Result, prev *store.Lineage, start time.Time) *store.Lineage {
	l := &store.Lineage{
		RunID:      res.RunID,
		Mode:       string(res.Mode),
		StartedAt:  start.UTC(),
		FinishedAt: time.Now().UTC(),
		Rows:       res.Surface.Len(),
		NewRows:    res.Merge.Fresh,
		Buckets:    len(res.Surface.Buckets),
	}
	if res.Batch != nil {
		l.FilesProcessed = res.Batch.Success
		l.FilesFailed = res.Batch.Failed
	}
	for _, row := range res.Surface.Rows() {
		if row.IsRealData {
			l.RealRows++
		}
	}
	if first, last, ok := res.Surface.DateRange(); ok {
		l.Start, l.End = calendar.Format(first), calendar.Format(last)
	}
	if !res.Window.IsFull() {
		l.Cutoff = calendar.Format(res.Window.Cutoff)
	}
	if prev != nil {
		l.Previous = prev.RunID
	}
	return l
}

func (r *Runner) logQuality(q *report.Quality, log *zap.Logger) {
	log.Info("quality summary",
		zap.String("status", q.Status()),
		zap.Int("rows", q.Summary.TotalRows),
		zap.Float64("real_pct", q.Summary.RealPct),
		zap.String("start", q.Summary.Start),
		zap.String("end", q.Summary.End),
		zap.Int("warnings", len(q.Warnings)),
		zap.Int("errors", len(q.Errors)),
	)
	for _, e := range q.Errors {
		log.Error("quality error", zap.String("detail", e))
	}
	for i, w := range q.Warnings {
		if i == 10 {
			log.Warn("more quality warnings", zap.Int("count", len(q.Warnings)-10))
			break
		}
		log.Warn("quality warning", zap.String("detail", w))
	}
}

func tierCounts(s *surface.Surface) map[string]int {
	out := make(map[string]int)
	for _, rows := range s.Buckets {
		for _, row := range rows {
			out[string(row.DataQuality)]++
		}
	}
	return out
}
