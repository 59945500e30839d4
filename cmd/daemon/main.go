package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/lock"
	"github.com/dgnsrekt/volsurface/internal/metrics"
	"github.com/dgnsrekt/volsurface/internal/notify"
	"github.com/dgnsrekt/volsurface/internal/pipeline"
	"github.com/dgnsrekt/volsurface/internal/store"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "surface-daemon",
		Short:        "Rebuild the surface once per trading day",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgFile)
		},
	}
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", os.Getenv("VOLSURFACE_CONFIG"), "config file path (or set VOLSURFACE_CONFIG)")

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// daemon bundles what one scheduled run needs.
type daemon struct {
	cfg       *config.Config
	scheduler *Scheduler
	tracker   *RunTracker
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func run(ctx context.Context, cfgFile string) error {
	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return err
	}
	sched := cfg.Schedule

	logger.Info("daemon configuration loaded",
		zap.Int("scheduleHour", sched.Hour),
		zap.Int("scheduleMinute", sched.Minute),
		zap.String("timezone", sched.Timezone),
		zap.String("stateFile", sched.StateFile),
		zap.String("lockFile", sched.LockFile),
		zap.Bool("runOnStart", sched.RunOnStart),
		zap.String("inputDir", cfg.Input.Directory),
		zap.String("outputDir", cfg.Output.Directory),
	)

	isBusiness, err := calendar.ExchangeDays(cfg.Calendar.Exchange)
	if err != nil {
		return err
	}
	holidays, err := calendar.ParseDates(cfg.Calendar.ExtraHolidays)
	if err != nil {
		return err
	}

	d := &daemon{
		cfg:       cfg,
		scheduler: NewScheduler(sched.Hour, sched.Minute, sched.Timezone, isBusiness, holidays),
		tracker:   NewRunTracker(sched.StateFile),
		notifier:  notify.New(cfg.Notify, logger),
		metrics:   metrics.New(),
		logger:    logger,
	}

	logger.Info("daemon started",
		zap.String("schedule", fmt.Sprintf("%02d:%02d %s", sched.Hour, sched.Minute, sched.Timezone)),
	)

	// Check on startup if enabled
	if sched.RunOnStart {
		logger.Info("checking for missed run on startup")
		if d.shouldRun() {
			d.runOnce(ctx)
		}
	}

	// Main loop - check every minute
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if d.shouldRun() {
				d.runOnce(ctx)
			}

		case <-ctx.Done():
			logger.Info("received shutdown signal, stopping")
			return nil
		}
	}
}

// shouldRun checks if conditions are met for triggering a build
func (d *daemon) shouldRun() bool {
	today := d.scheduler.TodayDate()

	if d.tracker.AlreadyRan(today) {
		return false
	}

	if !d.scheduler.IsMarketDay(today) {
		d.logger.Debug("not a market day", zap.String("date", today))
		return false
	}

	if !d.scheduler.IsScheduledTime() {
		return false
	}

	d.logger.Info("run conditions met",
		zap.String("date", today),
		zap.String("time", time.Now().In(d.scheduler.Location()).Format("15:04:05")),
	)
	return true
}

// runOnce executes one incremental build and updates the tracker. Failures
// are reported and retried on the next tick.
func (d *daemon) runOnce(ctx context.Context) {
	today := d.scheduler.TodayDate()
	d.logger.Info("starting scheduled run", zap.String("date", today))

	res, err := d.build(ctx)
	if errors.Is(err, lock.ErrLocked) {
		d.logger.Warn("another run holds the lock, retrying next tick")
		return
	}
	if err != nil {
		d.logger.Error("scheduled run failed", zap.Error(err), zap.String("date", today))
		if nerr := d.notifier.SendFailure(ctx, res, today, err); nerr != nil {
			d.logger.Warn("failed to send failure notification", zap.Error(nerr))
		}
		return
	}

	d.logger.Info("scheduled run succeeded",
		zap.String("date", today),
		zap.Bool("written", res.Written),
		zap.Int("changed", res.Changed),
		zap.Duration("duration", res.Duration),
	)
	if nerr := d.notifier.SendSuccess(ctx, res, today); nerr != nil {
		d.logger.Warn("failed to send success notification", zap.Error(nerr))
	}

	// Update tracker to prevent a second run today
	if err := d.tracker.SetLastRunDate(today, res.RunID.String()); err != nil {
		d.logger.Error("failed to update tracker", zap.Error(err))
	}
}

func (d *daemon) build(ctx context.Context) (*pipeline.Result, error) {
	l, err := lock.Acquire(d.cfg.Schedule.LockFile, lock.Options{MaxAge: d.cfg.Schedule.LockMaxAge})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := l.Release(); err != nil {
			d.logger.Warn("failed to release lock", zap.Error(err))
		}
	}()

	st := store.NewManager(d.cfg.Output.Directory, d.cfg.Output.SurfaceFile)
	runner, err := pipeline.New(d.cfg, st, d.logger, d.metrics)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, pipeline.Options{Mode: pipeline.ModeIncremental})
}
