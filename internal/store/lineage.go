package store

import (
	"time"

	"github.com/google/uuid"
)

// Lineage records where a persisted surface came from.
type Lineage struct {
	RunID          uuid.UUID `json:"run_id"`
	Mode           string    `json:"mode"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	FilesProcessed int       `json:"files_processed"`
	FilesFailed    int       `json:"files_failed"`
	Rows           int       `json:"rows"`
	RealRows       int       `json:"real_rows"`
	NewRows        int       `json:"new_rows"`
	Buckets        int       `json:"buckets"`
	Start          string    `json:"start"`
	End            string    `json:"end"`
	Cutoff         string    `json:"cutoff,omitempty"`
	Previous       uuid.UUID `json:"previous_run_id,omitzero"`
}

// LoadLineage reads the committed lineage record.
func (m *Manager) LoadLineage() (*Lineage, error) {
	var l Lineage
	if err := m.LoadJSON(LineageFile, &l); err != nil {
		return nil, err
	}
	return &l, nil
}
