// Package lock guards a run with a PID lockfile. A lock whose process is gone
// or which is older than the configured maximum age is considered stale and
// is replaced.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLocked is returned when a live, fresh lock is held by another process.
var ErrLocked = errors.New("another run holds the lock")

// Info is the lockfile content.
type Info struct {
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`
	Host    string    `json:"host"`
}

// Lock is a held lockfile.
type Lock struct {
	path string
	info Info
}

// Options tune staleness detection. Zero values use the process defaults.
type Options struct {
	MaxAge time.Duration
	Now    func() time.Time
	Alive  func(pid int) bool
}

// Acquire takes the lock at path, replacing a stale one.
func Acquire(path string, opts Options) (*Lock, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Alive == nil {
		opts.Alive = processAlive
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	host, _ := os.Hostname()
	info := Info{PID: os.Getpid(), Started: opts.Now().UTC(), Host: host}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, werr := f.Write(data)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("writing lock: %w", werr)
			}
			return &Lock{path: path, info: info}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating lock: %w", err)
		}

		held, rerr := Read(path)
		if rerr == nil && !Stale(held, opts) {
			return nil, fmt.Errorf("%w: pid %d on %s since %s", ErrLocked, held.PID, held.Host, held.Started.Format(time.RFC3339))
		}
		// unreadable or stale
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return nil, ErrLocked
}

// Read returns the content of the lockfile at path.
func Read(path string) (Info, error) {
	var info Info
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}

// Stale reports whether a held lock may be replaced.
func Stale(info Info, opts Options) bool {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Alive == nil {
		opts.Alive = processAlive
	}
	if info.PID <= 0 || !opts.Alive(info.PID) {
		return true
	}
	return opts.MaxAge > 0 && opts.Now().Sub(info.Started) > opts.MaxAge
}

// Info returns what was written to the lockfile.
func (l *Lock) Info() Info {
	return l.info
}

// Release removes the lockfile if it is still ours.
func (l *Lock) Release() error {
	held, err := Read(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && (held.PID != l.info.PID || !held.Started.Equal(l.info.Started)) {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
