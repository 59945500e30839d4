package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/volsurface/internal/bucket"
	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/extract"
	"github.com/dgnsrekt/volsurface/internal/metrics"
	"github.com/dgnsrekt/volsurface/internal/quotes"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Pool extracts and resolves input files on a bounded set of workers. Files
// are independent; workers share only read-only settings.
type Pool struct {
	extractor  *extract.Extractor
	engine     *bucket.Engine
	preferIVBS bool
	workers    int
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// BatchResult is the union of all task results.
type BatchResult struct {
	Total   int
	Success int
	Empty   int
	Failed  int
	Errors  []string

	Observations []bucket.Observation
	Leaders      map[surface.Key]surface.Leader
	Dates        []string
}

func NewPool(extractor *extract.Extractor, engine *bucket.Engine, preferIVBS bool, workers int, filesPerSecond float64, logger *zap.Logger, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		extractor:  extractor,
		engine:     engine,
		preferIVBS: preferIVBS,
		workers:    workers,
		logger:     logger,
		metrics:    m,
	}
	if filesPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(filesPerSecond), 1)
	}
	return p
}

// Execute processes every task and reduces the results. Per-file failures are
// counted, never returned; the error is reserved for cancellation and for two
// files contributing the same key.
func (p *Pool) Execute(ctx context.Context, tasks []Task) (*BatchResult, error) {
	if len(tasks) == 0 {
		return reduce(nil)
	}
	if p.workers == 1 {
		return p.sequential(ctx, tasks)
	}

	jobs := make(chan Task, len(tasks))
	results := make(chan TaskResult, len(tasks))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, jobs, results)
		}(i)
	}

	// Send jobs
	go func() {
		defer close(jobs)
		for _, task := range tasks {
			select {
			case <-ctx.Done():
				return
			case jobs <- task:
			}
		}
	}()

	// Wait for workers and close results
	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]TaskResult, 0, len(tasks))
	for r := range results {
		collected = append(collected, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reduce(collected)
}

func (p *Pool) sequential(ctx context.Context, tasks []Task) (*BatchResult, error) {
	collected := make([]TaskResult, 0, len(tasks))
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		collected = append(collected, p.processTask(task))
	}
	return reduce(collected)
}

func (p *Pool) worker(ctx context.Context, id int, jobs <-chan Task, results chan<- TaskResult) {
	for task := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}

		result := p.processTask(task)
		p.logger.Debug("task done", zap.Int("worker", id), zap.String("task", task.String()))

		select {
		case <-ctx.Done():
			return
		case results <- result:
		}
	}
}

func (p *Pool) processTask(task Task) TaskResult {
	result := TaskResult{Task: task}

	tbl, err := quotes.ReadFile(task.File.Path, p.preferIVBS)
	if err != nil {
		p.logger.Warn("skipping unreadable file", zap.String("file", task.File.Name()), zap.Error(err))
		p.metrics.File("failed")
		result.Error = err
		return result
	}

	snap, err := p.extractor.Extract(task.File.Date, tbl)
	if errors.Is(err, extract.ErrEmptyWindow) || errors.Is(err, extract.ErrNoContracts) {
		p.logger.Warn("file contributes no rows", zap.String("file", task.File.Name()), zap.Error(err))
		p.metrics.File("empty")
		result.Empty = true
		return result
	}
	if err != nil {
		p.logger.Warn("extraction failed", zap.String("file", task.File.Name()), zap.Error(err))
		p.metrics.File("failed")
		result.Error = err
		return result
	}

	res := p.engine.Resolve(snap)
	result.Success = true
	result.Contracts = len(snap.Mid)
	result.Observations = res.Observations
	result.Leaders = res.Leaders
	p.metrics.File("ok")

	p.logger.Info("extracted",
		zap.String("file", task.File.Name()),
		zap.Int("contracts", len(snap.Mid)),
		zap.Int("observations", len(res.Observations)),
		zap.Float64("spot", snap.Spot),
	)
	return result
}

// reduce unions task results in date order. Keys from different files must
// be disjoint because each file covers exactly one date.
func reduce(results []TaskResult) (*BatchResult, error) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Task.File, results[j].Task.File
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Path < b.Path
	})

	batch := &BatchResult{Total: len(results), Leaders: make(map[surface.Key]surface.Leader)}
	owner := make(map[surface.Key]string)
	for _, r := range results {
		switch {
		case r.Success:
			batch.Success++
		case r.Empty:
			batch.Empty++
			continue
		default:
			batch.Failed++
			if r.Error != nil {
				batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %v", r.Task, r.Error))
			}
			continue
		}

		name := r.Task.File.Name()
		seen := make(map[surface.Key]bool)
		for _, o := range r.Observations {
			if prev, ok := owner[o.Key]; ok && prev != name {
				return nil, fmt.Errorf("%w: %s from both %s and %s", surface.ErrDuplicateKey, o.Key, prev, name)
			}
			seen[o.Key] = true
			owner[o.Key] = name
		}
		for k, l := range r.Leaders {
			if prev, ok := owner[k]; ok && prev != name {
				return nil, fmt.Errorf("%w: leader %s from both %s and %s", surface.ErrDuplicateKey, k, prev, name)
			}
			batch.Leaders[k] = l
		}
		batch.Observations = append(batch.Observations, r.Observations...)
		if len(seen) > 0 {
			batch.Dates = append(batch.Dates, calendar.Format(r.Task.File.Date))
		}
	}
	return batch, nil
}
