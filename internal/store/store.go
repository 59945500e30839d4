// Package store persists the surface and its run artifacts. Every file of a
// run is written into a per-run staging directory first and renamed into
// place only after all of them were written, so a failed run leaves the
// previous surface untouched.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/volsurface/internal/surface"
)

// ErrSurfaceCorrupt is returned when an existing surface cannot be decoded.
var ErrSurfaceCorrupt = errors.New("surface file is corrupt")

// Artifact file names written next to the surface.
const (
	LineageFile = "lineage.json"
	QualityFile = "quality.json"
	CatalogFile = "catalog.json"
)

type Manager struct {
	baseDir     string
	surfaceFile string
	stagingRoot string
}

func NewManager(baseDir, surfaceFile string) *Manager {
	return &Manager{
		baseDir:     baseDir,
		surfaceFile: surfaceFile,
		stagingRoot: filepath.Join(baseDir, ".staging"),
	}
}

func (m *Manager) FinalDir() string {
	return m.baseDir
}

// SurfacePath is the committed location of the surface.
func (m *Manager) SurfacePath() string {
	return filepath.Join(m.baseDir, m.surfaceFile)
}

func (m *Manager) StagingDir(runID string) string {
	return filepath.Join(m.stagingRoot, runID)
}

func (m *Manager) PrepareStaging(runID string) error {
	return os.MkdirAll(m.StagingDir(runID), 0750)
}

// WriteToStaging creates name inside the run's staging directory through a
// temp file that is synced and renamed once write succeeds.
func (m *Manager) WriteToStaging(runID, name string, write func(io.Writer) error) (int64, error) {
	destPath := filepath.Join(m.StagingDir(runID), name)
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return 0, fmt.Errorf("creating directories: %w", err)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	err = write(f)
	if err == nil {
		err = f.Sync()
	}
	var size int64
	if err == nil {
		var info os.FileInfo
		if info, err = f.Stat(); err == nil {
			size = info.Size()
		}
	}
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("writing %s: %w", name, err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}

	return size, nil
}

// CommitStaging moves every staged file into the final directory, the
// surface last.
func (m *Manager) CommitStaging(runID string) error {
	stagingDir := m.StagingDir(runID)

	var names []string
	err := filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		return err
	}

	sort.SliceStable(names, func(i, j int) bool {
		return names[i] != m.surfaceFile && names[j] == m.surfaceFile
	})

	for _, rel := range names {
		destPath := filepath.Join(m.baseDir, rel)
		if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(stagingDir, rel), destPath); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) CleanupStaging(runID string) error {
	return os.RemoveAll(m.StagingDir(runID))
}

// Run is everything a run persists besides the surface itself.
type Run struct {
	Lineage *Lineage
	Quality any
	Catalog any
}

// Save stages the surface and the run artifacts, then commits them.
func (m *Manager) Save(runID string, s *surface.Surface, run Run) (int64, error) {
	if err := m.PrepareStaging(runID); err != nil {
		return 0, fmt.Errorf("preparing staging: %w", err)
	}
	defer func() { _ = m.CleanupStaging(runID) }()

	size, err := m.WriteToStaging(runID, m.surfaceFile, func(w io.Writer) error {
		return WriteSurface(w, s)
	})
	if err != nil {
		return 0, err
	}

	artifacts := make(map[string]any, 3)
	if run.Lineage != nil {
		artifacts[LineageFile] = run.Lineage
	}
	if run.Quality != nil {
		artifacts[QualityFile] = run.Quality
	}
	if run.Catalog != nil {
		artifacts[CatalogFile] = run.Catalog
	}
	for name, v := range artifacts {
		if _, err := m.WriteToStaging(runID, name, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}); err != nil {
			return 0, err
		}
	}

	if err := m.CommitStaging(runID); err != nil {
		return 0, fmt.Errorf("committing staging: %w", err)
	}
	return size, nil
}

// Exists reports whether a committed surface is present.
func (m *Manager) Exists() (bool, error) {
	_, err := os.Stat(m.SurfacePath())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Load reads the committed surface. A missing file yields an error wrapping
// os.ErrNotExist; an unreadable one wraps ErrSurfaceCorrupt.
func (m *Manager) Load() (*surface.Surface, error) {
	f, err := os.Open(m.SurfacePath())
	if err != nil {
		return nil, fmt.Errorf("opening surface: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadSurface(f)
}

// LoadJSON decodes the committed artifact name into v.
func (m *Manager) LoadJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(m.baseDir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteSurface encodes s as zstd-compressed JSON Lines, one row per line in
// bucket-key then date order.
func WriteSurface(w io.Writer, s *surface.Surface) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	for _, bk := range s.Keys() {
		for i := range s.Buckets[bk] {
			if err := enc.Encode(&s.Buckets[bk][i]); err != nil {
				_ = zw.Close()
				return fmt.Errorf("encoding row: %w", err)
			}
		}
	}
	return zw.Close()
}

// ReadSurface decodes what WriteSurface wrote.
func ReadSurface(r io.Reader) (*surface.Surface, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSurfaceCorrupt, err)
	}
	defer zr.Close()

	var rows []surface.Row
	dec := json.NewDecoder(zr)
	for {
		var row surface.Row
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrSurfaceCorrupt, len(rows)+1, err)
		}
		row.Origin = surface.Carried
		rows = append(rows, row)
	}
	return surface.FromRows(rows), nil
}
