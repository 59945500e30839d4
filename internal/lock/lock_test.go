package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLock(t *testing.T, path string, info Info) {
	t.Helper()
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	l, err := Acquire(path, Options{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	info, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), info.PID)
	}

	if _, err := Acquire(path, Options{}); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked for live lock, got %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lockfile should be removed after release")
	}
}

func TestAcquireReplacesDeadProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	writeLock(t, path, Info{PID: 424242, Started: time.Now(), Host: "other"})

	l, err := Acquire(path, Options{Alive: func(int) bool { return false }})
	if err != nil {
		t.Fatalf("expected stale lock to be replaced, got %v", err)
	}
	if l.Info().PID != os.Getpid() {
		t.Errorf("expected our pid in lock, got %d", l.Info().PID)
	}
}

func TestAcquireReplacesOldLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	now := time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC)
	writeLock(t, path, Info{PID: 1, Started: now.Add(-13 * time.Hour)})

	alive := func(int) bool { return true }
	if _, err := Acquire(path, Options{MaxAge: 12 * time.Hour, Now: func() time.Time { return now }, Alive: alive}); err != nil {
		t.Fatalf("expected old lock to be replaced, got %v", err)
	}
}

func TestAcquireReplacesGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	if err := os.WriteFile(path, []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Acquire(path, Options{}); err != nil {
		t.Fatalf("expected unreadable lock to be replaced, got %v", err)
	}
}

func TestStale(t *testing.T) {
	now := time.Now()
	alive := func(int) bool { return true }
	opts := Options{MaxAge: time.Hour, Now: func() time.Time { return now }, Alive: alive}

	if Stale(Info{PID: 10, Started: now.Add(-time.Minute)}, opts) {
		t.Error("fresh live lock should not be stale")
	}
	if !Stale(Info{PID: 10, Started: now.Add(-2 * time.Hour)}, opts) {
		t.Error("old lock should be stale")
	}
	if !Stale(Info{PID: 0, Started: now}, opts) {
		t.Error("lock without pid should be stale")
	}
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	l, err := Acquire(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	writeLock(t, path, Info{PID: l.Info().PID + 1, Started: time.Now()})

	if err := l.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("foreign lock should be left in place")
	}
}
