package lock

import (
	"fmt"
	"os"
	"syscall"
)

// Flock implements Lock using flock(2) on the lock path. The lock file is
// created on first use and left in place; the kernel releases the lock if
// the holding process dies.
type Flock struct{}

var _ Lock = (*Flock)(nil)

func (l *Flock) Acquire(path string) (Release, error) {
	return l.acquire(path, 0)
}

func (l *Flock) TryAcquire(path string) (Release, bool, error) {
	rel, err := l.acquire(path, syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rel, true, nil
}

func (l *Flock) acquire(path string, flags int) (Release, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|flags); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, err
		}
		return nil, fmt.Errorf("flock %q: %w", path, err)
	}
	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
			f.Close()
			return fmt.Errorf("funlock %q: %w", path, err)
		}
		return f.Close()
	}, nil
}

// Available probes whether flock works on the default temp filesystem. Some
// translation layers and network filesystems reject the syscall.
func (l *Flock) Available() bool {
	f, err := os.CreateTemp("", "imp-flock-probe")
	if err != nil {
		return false
	}
	defer os.Remove(f.Name())
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return false
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return true
}
