package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/lock"
	"github.com/dgnsrekt/volsurface/internal/metrics"
	"github.com/dgnsrekt/volsurface/internal/pipeline"
	"github.com/dgnsrekt/volsurface/internal/store"
)

func runCmd() *cobra.Command {
	var (
		mode    string
		end     string
		workers int
		noLock  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build or update the surface from quote files",
		Long: `Build the volatility surface from the quote files in input.dir.

A full run rebuilds every row. An incremental run processes only dates
without a real observation in the persisted surface and recomputes the
configured tail.

Examples:
  # Update using the configured mode
  surface run

  # Force a full rebuild with 8 workers
  surface run --mode full --workers 8

  # Extend every bucket through a date with no new quotes
  surface run --end 2025-11-14`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts := pipeline.Options{Mode: pipeline.Mode(mode)}
			switch opts.Mode {
			case "", pipeline.ModeFull, pipeline.ModeIncremental:
			default:
				return fmt.Errorf("invalid --mode %q (full or incremental)", mode)
			}
			if end != "" {
				d, err := calendar.ParseDate(end)
				if err != nil {
					return fmt.Errorf("invalid --end (use YYYY-MM-DD): %w", err)
				}
				opts.End = d
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers.Count = workers
			}

			if !noLock {
				l, err := lock.Acquire(cfg.Schedule.LockFile, lock.Options{MaxAge: cfg.Schedule.LockMaxAge})
				if errors.Is(err, lock.ErrLocked) {
					if info, rerr := lock.Read(cfg.Schedule.LockFile); rerr == nil {
						logger.Error("surface run already in progress",
							zap.Int("pid", info.PID),
							zap.String("host", info.Host),
							zap.Time("started", info.Started),
						)
					}
					return err
				}
				if err != nil {
					return fmt.Errorf("acquiring lock: %w", err)
				}
				defer func() {
					if err := l.Release(); err != nil {
						logger.Warn("failed to release lock", zap.Error(err))
					}
				}()
			}

			st := store.NewManager(cfg.Output.Directory, cfg.Output.SurfaceFile)
			runner, err := pipeline.New(cfg, st, logger, metrics.New())
			if err != nil {
				return err
			}

			res, err := runner.Run(ctx, opts)
			if err != nil {
				logger.Error("surface run failed", zap.Error(err))
				return err
			}

			logRunSummary(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "run mode: full or incremental (default from incremental.enabled)")
	cmd.Flags().StringVar(&end, "end", "", "extend every bucket's dense range through this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&workers, "workers", 0, "override workers.count (0 uses every CPU)")
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "skip the single-instance lock")

	return cmd
}
