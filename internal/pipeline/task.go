package pipeline

import (
	"fmt"

	"github.com/dgnsrekt/volsurface/internal/bucket"
	"github.com/dgnsrekt/volsurface/internal/calendar"
	"github.com/dgnsrekt/volsurface/internal/quotes"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Task is one input file to extract.
type Task struct {
	File quotes.File
}

func (t Task) String() string {
	return fmt.Sprintf("%s/%s", calendar.Format(t.File.Date), t.File.Name())
}

// TaskResult is what one worker produced for one file. A file whose
// mid-session window held no usable quotes is Empty, not failed.
type TaskResult struct {
	Task         Task
	Success      bool
	Empty        bool
	Contracts    int
	Observations []bucket.Observation
	Leaders      map[surface.Key]surface.Leader
	Error        error
}
