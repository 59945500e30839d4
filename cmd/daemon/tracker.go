package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// runState is the daemon state file content.
type runState struct {
	LastDate   string    `json:"last_date"`
	RunID      string    `json:"run_id,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunTracker tracks the last date the surface was successfully built for.
type RunTracker struct {
	stateFile string
}

// NewRunTracker creates a new tracker with the given state file path
func NewRunTracker(stateFile string) *RunTracker {
	return &RunTracker{stateFile: stateFile}
}

// LastRunDate reads the last completed date. A missing or unreadable state
// file means no run has completed.
func (t *RunTracker) LastRunDate() string {
	data, err := os.ReadFile(t.stateFile)
	if err != nil {
		return ""
	}
	var st runState
	if err := json.Unmarshal(data, &st); err != nil {
		return ""
	}
	return st.LastDate
}

// SetLastRunDate records a completed run, replacing the state file atomically.
func (t *RunTracker) SetLastRunDate(date, runID string) error {
	dir := filepath.Dir(t.stateFile)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	data, err := json.Marshal(runState{LastDate: date, RunID: runID, FinishedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	tmp := t.stateFile + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, t.stateFile)
}

// AlreadyRan checks if the given date was already processed
func (t *RunTracker) AlreadyRan(date string) bool {
	return t.LastRunDate() == date
}
