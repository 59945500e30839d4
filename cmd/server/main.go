package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/metrics"
	"github.com/dgnsrekt/volsurface/internal/server"
	"github.com/dgnsrekt/volsurface/internal/store"
)

func main() {
	var (
		cfgFile string
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:          "surface-server",
		Short:        "Serve the persisted volatility surface over HTTP",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgFile, verbose)
		},
	}
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", os.Getenv("VOLSURFACE_CONFIG"), "config file path (or set VOLSURFACE_CONFIG)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgFile string, verbose bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Setup logger
	var logger *zap.Logger
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("surface", cfg.SurfacePath()),
	)

	m := metrics.New()
	st := store.NewManager(cfg.Output.Directory, cfg.Output.SurfaceFile)
	rm := server.NewReloadManager(st, cfg.Percentile.Windows, logger)

	// A missing surface is not fatal: the server answers 503 until POST /reload succeeds.
	start := time.Now()
	if res, err := rm.Reload(ctx); err != nil {
		logger.Warn("no surface loaded at startup", zap.Error(err))
	} else {
		logger.Info("surface loaded", zap.Int("rows", res.Rows), zap.Duration("duration", time.Since(start)))
	}
	m.Reload(err)

	srv := server.NewServer(rm, m, logger)
	router := server.NewRouter(srv, m, logger)

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// SIGHUP reloads the surface; SIGINT and SIGTERM stop the server.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigs {
		if sig != syscall.SIGHUP {
			break
		}
		_, err := rm.Reload(ctx)
		m.Reload(err)
		if err != nil {
			logger.Error("reload on SIGHUP failed", zap.Error(err))
		}
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
