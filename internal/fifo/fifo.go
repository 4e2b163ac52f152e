// Package fifo creates the per-instance named pipes and runs the keep-alive
// helper that holds their ends open between evaluate calls.
//
// A FIFO only lets a read or write proceed once both ends are open, and
// delivers EOF as soon as the last writer closes. Wiring a child process
// directly to a pair of FIFOs would therefore deadlock on startup and feed
// the child a premature EOF in the gap between evaluate calls. The keep-alive
// helper holds both FIFOs open for the lifetime of the instance's working
// directory; removing the directory is the teardown signal that lets every
// end observe closure and terminates the child.
package fifo

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	// RequestName is the FIFO carrying command lines to the child's stdin.
	RequestName = "request"
	// ResponseName is the FIFO carrying the child's combined output.
	ResponseName = "response"

	// DefaultInterval is how often the keep-alive helper checks whether the
	// working directory still exists.
	DefaultInterval = time.Second
)

// RequestPath returns the request FIFO path inside dir.
func RequestPath(dir string) string { return filepath.Join(dir, RequestName) }

// ResponsePath returns the response FIFO path inside dir.
func ResponsePath(dir string) string { return filepath.Join(dir, ResponseName) }

// Create makes the request and response FIFOs inside dir. It fails if either
// already exists so that a stale working directory is never silently reused.
func Create(dir string) error {
	for _, p := range []string{RequestPath(dir), ResponsePath(dir)} {
		if err := syscall.Mkfifo(p, 0o600); err != nil {
			return fmt.Errorf("creating fifo %q: %w", p, err)
		}
	}
	return nil
}

// Open opens a FIFO read-write. An O_RDWR open of a FIFO never blocks waiting
// for a peer, and holding it counts as both a reader and a writer, which is
// exactly what the keep-alive helper and the evaluate loop need.
func Open(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %q: %w", path, err)
	}
	return f, nil
}

// KeepAlive holds both FIFO ends of a working directory open until the
// directory is removed.
type KeepAlive struct {
	Log      *zap.SugaredLogger
	Interval time.Duration
}

// Run opens both FIFOs in dir and blocks, polling for the directory's
// existence every Interval. When the directory is gone it closes both ends
// and returns. The closed channel from the returned file descriptors is what
// starves the child process of its stdin.
func (k *KeepAlive) Run(dir string) error {
	interval := k.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	log := k.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	req, err := Open(RequestPath(dir))
	if err != nil {
		return fmt.Errorf("keep-alive opening request end: %w", err)
	}
	defer req.Close()
	resp, err := Open(ResponsePath(dir))
	if err != nil {
		return fmt.Errorf("keep-alive opening response end: %w", err)
	}
	defer resp.Close()

	log.Debugw("keep-alive holding channel ends", "Dir", dir)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if _, err := os.Stat(dir); err != nil {
			log.Debugw("working directory gone, keep-alive exiting", "Dir", dir)
			return nil
		}
	}
	return nil
}

// Start runs the keep-alive loop in a goroutine and returns a channel that is
// closed when the loop exits.
func (k *KeepAlive) Start(dir string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := k.Run(dir); err != nil && k.Log != nil {
			k.Log.Debugf("keep-alive exited with error: %s", err)
		}
	}()
	return done
}
