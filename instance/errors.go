package instance

import "errors"

// Sentinel errors for instance operations. Callers match with errors.Is.
var (
	// ErrInvalidName means the name is empty or contains characters outside
	// [a-zA-Z0-9_].
	ErrInvalidName = errors.New("invalid instance name")

	// ErrDuplicateName means a live instance already holds the name.
	ErrDuplicateName = errors.New("instance name already in use")

	// ErrNotFound means no live instance holds the name.
	ErrNotFound = errors.New("instance not found")

	// ErrWrongKind means the named instance exists but has a different kind
	// tag than the caller expected.
	ErrWrongKind = errors.New("instance has a different kind")

	// ErrDependencyMissing means the wrapped command is not present on PATH.
	ErrDependencyMissing = errors.New("command not found")

	// ErrAlreadyRunning means a pump is already active for the instance.
	ErrAlreadyRunning = errors.New("instance already running")

	// ErrInvalidEchoTemplate means a handshake template was set without the
	// placeholder token.
	ErrInvalidEchoTemplate = errors.New("echo template does not contain placeholder")

	// ErrLockUnavailable means locking was requested but no usable lock
	// mechanism is present.
	ErrLockUnavailable = errors.New("lock mechanism unavailable")

	// ErrUnknownConfigOption means the config key is not recognized.
	ErrUnknownConfigOption = errors.New("unknown config option")

	// ErrInstanceTornDown means a channel closed mid-read because the
	// instance was destroyed concurrently.
	ErrInstanceTornDown = errors.New("instance torn down")
)
