// Package lease provides a scoped file lease serializing whole-workspace
// operations across processes. The ledger store stays single-writer-simple;
// mutual exclusion is owned here, at the orchestration layer.
package lease

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrTimeout is returned when the lease could not be acquired before the
// deadline, meaning another process holds the workspace.
var ErrTimeout = errors.New("workspace lease: timed out waiting for holder to release")

const pollInterval = 50 * time.Millisecond

type Lease struct {
	path     string
	released bool
}

// Acquire takes the lease file at path, waiting up to timeout for an
// existing holder. The file records the holder pid for operators inspecting
// a stuck workspace.
func Acquire(path string, timeout time.Duration) (*Lease, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("workspace lease: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		// #nosec G304 -- path is derived from the workspace layout.
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			if err := f.Close(); err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("workspace lease: %w", err)
			}
			return &Lease{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("workspace lease: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w (lock file %s)", ErrTimeout, path)
		}
		time.Sleep(pollInterval)
	}
}

// Release removes the lease file. Safe to call more than once, so callers
// can defer it and also release early on happy paths.
func (l *Lease) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace lease release: %w", err)
	}
	return nil
}
