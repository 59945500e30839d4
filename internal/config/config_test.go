package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Input.Pattern != "30MINDATA_*.csv" {
		t.Errorf("expected default pattern, got '%s'", cfg.Input.Pattern)
	}
	if cfg.Snapshot.MidSessionTolerance != 90*time.Second {
		t.Errorf("expected 90s tolerance, got %s", cfg.Snapshot.MidSessionTolerance)
	}
	if len(cfg.Buckets.Delta) != 10 {
		t.Errorf("expected 10 delta buckets, got %d", len(cfg.Buckets.Delta))
	}
	if len(cfg.Buckets.DTE) != 22 {
		t.Errorf("expected 22 DTE buckets, got %d", len(cfg.Buckets.DTE))
	}
	if cfg.Fill.MaxDays != 30 {
		t.Errorf("expected 30 max fill days, got %d", cfg.Fill.MaxDays)
	}
	if got := cfg.MaxPercentileWindow(); got != 252 {
		t.Errorf("expected max percentile window 252, got %d", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VOLSURFACE_FILL_MAX_DAYS", "20")
	t.Setenv("VOLSURFACE_PERCENTILE_MIN_COVERAGE_RATIO", "0.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Fill.MaxDays != 20 {
		t.Errorf("expected env override 20, got %d", cfg.Fill.MaxDays)
	}
	if cfg.Percentile.MinCoverageRatio != 0.5 {
		t.Errorf("expected env override 0.5, got %v", cfg.Percentile.MinCoverageRatio)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "surface.yaml")
	body := `
input:
  dir: /srv/quotes
fill:
  max_days: 10
  medium_max_days: 8
buckets:
  delta:
    - {code: d25, rep: 25, low: 20, high: 30}
    - {code: d50, rep: 50, low: 45, high: 55}
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Input.Directory != "/srv/quotes" {
		t.Errorf("expected input dir from file, got '%s'", cfg.Input.Directory)
	}
	if len(cfg.Buckets.Delta) != 2 || cfg.Buckets.Delta[1].Code != "d50" {
		t.Errorf("expected custom delta grid, got %+v", cfg.Buckets.Delta)
	}
	if len(cfg.Buckets.DTE) != 22 {
		t.Errorf("expected default DTE grid to fill in, got %d", len(cfg.Buckets.DTE))
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("fill: [unclosed"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestSnapshotTimes(t *testing.T) {
	s := Default().Snapshot
	mid, err := s.MidSessionMs()
	if err != nil || mid != 43_200_000 {
		t.Errorf("expected 43200000, got %d (%v)", mid, err)
	}
	cl, err := s.CloseMs()
	if err != nil || cl != 55_800_000 {
		t.Errorf("expected 55800000, got %d (%v)", cl, err)
	}
}
