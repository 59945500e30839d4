package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/volsurface/internal/pipeline"
)

// FormatSuccessMessage creates a success notification body.
func FormatSuccessMessage(res *pipeline.Result) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Mode: %s\n", res.Mode))
	writeBatch(&sb, res.Batch)
	if !res.Written {
		sb.WriteString("Surface unchanged\n")
	} else {
		sb.WriteString(fmt.Sprintf("Rows: %d (%d changed)\n", res.Surface.Len(), res.Changed))
		if res.Lineage != nil {
			sb.WriteString(fmt.Sprintf("Range: %s to %s\n", res.Lineage.Start, res.Lineage.End))
		}
		if res.Quality != nil {
			sb.WriteString(fmt.Sprintf("Quality: %s (%.1f%% real, %d warnings)\n",
				res.Quality.Status(), res.Quality.Summary.RealPct, len(res.Quality.Warnings)))
		}
	}
	sb.WriteString(fmt.Sprintf("Duration: %s", res.Duration.Round(time.Second)))

	return sb.String()
}

// FormatFailureMessage creates a failure notification body. res may be nil
// when the run never started.
func FormatFailureMessage(res *pipeline.Result, err error) string {
	var sb strings.Builder

	if res != nil {
		sb.WriteString(fmt.Sprintf("Mode: %s\n", res.Mode))
		writeBatch(&sb, res.Batch)
		sb.WriteString(fmt.Sprintf("Duration: %s", res.Duration.Round(time.Second)))
	}

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}

	// Include first 3 file errors if available
	if res != nil && res.Batch != nil && len(res.Batch.Errors) > 0 {
		errs := res.Batch.Errors
		sb.WriteString("\n\nFile errors:\n")
		limit := min(3, len(errs))
		for i := 0; i < limit; i++ {
			sb.WriteString(fmt.Sprintf("- %s\n", errs[i]))
		}
		if len(errs) > 3 {
			sb.WriteString(fmt.Sprintf("... and %d more errors", len(errs)-3))
		}
	}

	return strings.TrimLeft(sb.String(), "\n")
}

func writeBatch(sb *strings.Builder, b *pipeline.BatchResult) {
	if b == nil {
		sb.WriteString("Files: 0 new\n")
		return
	}
	sb.WriteString(fmt.Sprintf("Files: %d (ok %d, empty %d, failed %d)\n", b.Total, b.Success, b.Empty, b.Failed))
}
