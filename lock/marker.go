package lock

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const defaultPollInterval = 10 * time.Millisecond

// Marker implements Lock by exclusively creating a marker file at the lock
// path and deleting it on release. It needs nothing beyond O_EXCL semantics,
// so it works anywhere, but a crashed holder leaves the marker behind and
// blocks later acquirers until someone removes it by hand.
type Marker struct {
	// PollInterval is how long Acquire sleeps between creation attempts.
	PollInterval time.Duration
}

var _ Lock = (*Marker)(nil)

func (l *Marker) Acquire(path string) (Release, error) {
	interval := l.PollInterval
	if interval == 0 {
		interval = defaultPollInterval
	}
	for {
		rel, ok, err := l.TryAcquire(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return rel, nil
		}
		time.Sleep(interval)
	}
}

func (l *Marker) TryAcquire(path string) (Release, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating lock marker %q: %w", path, err)
	}
	f.Close()
	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing lock marker %q: %w", path, err)
		}
		return nil
	}, true, nil
}

func (l *Marker) Available() bool { return true }
