package main

import (
	"go.uber.org/zap"

	"github.com/dgnsrekt/volsurface/internal/pipeline"
)

// logRunSummary prints the outcome of a run in the same shape for every mode.
func logRunSummary(res *pipeline.Result) {
	fields := []zap.Field{
		zap.String("run_id", res.RunID.String()),
		zap.String("mode", string(res.Mode)),
		zap.Bool("written", res.Written),
		zap.Int("changed", res.Changed),
		zap.Duration("duration", res.Duration),
	}
	if res.Batch != nil {
		fields = append(fields,
			zap.Int("files", res.Batch.Total),
			zap.Int("success", res.Batch.Success),
			zap.Int("empty", res.Batch.Empty),
			zap.Int("failed", res.Batch.Failed),
		)
	}
	if res.Surface != nil {
		fields = append(fields, zap.Int("rows", res.Surface.Len()), zap.Int("buckets", len(res.Surface.Buckets)))
	}
	if res.Quality != nil {
		fields = append(fields, zap.String("quality", res.Quality.Status()))
	}
	logger.Info("surface run complete", fields...)
}
