// Package lock provides the advisory locking capability that serializes
// concurrent evaluate calls on one instance.
//
// Locking is cooperative: it only prevents interleaving if every caller
// acquires the lock around its use of the instance's channels. A caller that
// skips the lock can interleave its writes with another's; that is an
// accepted constraint of the design, surfaced to callers rather than hidden.
package lock

// Release undoes a successful acquisition. Calling it more than once is safe.
type Release func() error

// Lock is an advisory mutual-exclusion capability keyed by a filesystem path.
type Lock interface {
	// Acquire blocks until the lock at path is held.
	Acquire(path string) (Release, error)

	// TryAcquire attempts to take the lock without blocking. ok reports
	// whether the lock was taken; rel is non-nil only when ok.
	TryAcquire(path string) (rel Release, ok bool, err error)

	// Available reports whether this locking mechanism can be used at all on
	// the current host.
	Available() bool
}

// Default returns the preferred lock implementation for this host: flock
// where the syscall is usable, otherwise the marker-file fallback.
func Default() Lock {
	fl := &Flock{}
	if fl.Available() {
		return fl
	}
	return &Marker{}
}
