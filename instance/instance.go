// Package instance supervises long-lived interactive command-line programs
// and exposes them as addressable, stateful services.
//
// An instance owns a private working directory holding two named pipes (the
// request and response channels) and an advisory lock path. A keep-alive
// helper holds the pipe ends open between evaluate calls, and a pump wires
// the wrapped program's stdio to the pipes. Removing the working directory is
// the one teardown signal: it starves the keep-alive helper, closes the
// channels, and ends the child.
package instance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lilobooter/imp/internal/fifo"
	"github.com/lilobooter/imp/lock"
	"github.com/lilobooter/imp/pump"
)

// KindImp is the kind tag of instances created by this package.
const KindImp = "imp"

// lockFileName is the advisory lock path inside the working directory.
const lockFileName = "lock"

// Instance is a supervised interactive program. The registry hands these out;
// ImpInstance is the one concrete implementation.
type Instance interface {
	// Name returns the unique instance name.
	Name() string

	// Kind returns the instance's kind tag.
	Kind() string

	// Command returns the wrapped program's argument vector. It is fixed for
	// the instance's life.
	Command() []string

	// Workdir returns the instance's private working directory. Its
	// existence is the liveness flag.
	Workdir() string

	// Running reports whether the pump is active.
	Running() bool

	// LockAvailable reports whether the advisory lock mechanism is usable.
	LockAvailable() bool

	// Config returns a copy of the current settings.
	Config() Config

	// Configure sets one config key per the validation rules of Config.Set.
	Configure(key, value string) error

	// ConfigValue returns one config value.
	ConfigValue(key string) (string, error)

	// Evaluate writes the command lines to the request channel and collects
	// response lines per the configured completion strategy.
	Evaluate(ctx context.Context, lines []string) ([]string, error)

	// Read drains command lines from r and evaluates them.
	Read(ctx context.Context, r io.Reader) ([]string, error)

	// Destroy removes the working directory, ending the keep-alive helper
	// and the child. Idempotent.
	Destroy() error
}

// ImpInstance is the concrete Instance.
type ImpInstance struct {
	name    string
	command []string
	workdir string

	locker        lock.Lock
	lockAvailable bool

	pump              pump.Pump
	keepAliveInterval time.Duration
	log               *zap.SugaredLogger

	mu         sync.Mutex // guards cfg, pumpHandle, destroyed
	cfg        Config
	pumpHandle pump.Handle
	destroyed  bool

	evalMu sync.Mutex // serializes in-process evaluate calls over the shared channel handles
	reqW   *os.File
	respLR *lineReader
}

var _ Instance = (*ImpInstance)(nil)

func (in *ImpInstance) Name() string      { return in.name }
func (in *ImpInstance) Kind() string      { return KindImp }
func (in *ImpInstance) Workdir() string   { return in.workdir }
func (in *ImpInstance) Command() []string { return append([]string(nil), in.command...) }

func (in *ImpInstance) LockAvailable() bool { return in.lockAvailable }

func (in *ImpInstance) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pumpHandle == nil || in.destroyed {
		return false
	}
	_, err := os.Stat(in.workdir)
	return err == nil
}

func (in *ImpInstance) Config() Config {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cfg
}

func (in *ImpInstance) Configure(key, value string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cfg.Set(key, value, in.lockAvailable)
}

func (in *ImpInstance) ConfigValue(key string) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cfg.Get(key)
}

func (in *ImpInstance) lockPath() string {
	return filepath.Join(in.workdir, lockFileName)
}

// start creates the channels, launches the keep-alive helper, and spawns the
// pump. The working directory must already exist and be empty.
func (in *ImpInstance) start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pumpHandle != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, in.name)
	}

	if err := fifo.Create(in.workdir); err != nil {
		return err
	}

	ka := &fifo.KeepAlive{Log: in.log.Named("keepalive"), Interval: in.keepAliveInterval}
	ka.Start(in.workdir)

	h, err := in.pump.Start(ctx, pump.StartRequest{
		Command: in.command[0],
		Args:    in.command[1:],
		Dir:     in.workdir,
	})
	if err != nil {
		return fmt.Errorf("starting pump: %w", err)
	}
	in.pumpHandle = h
	in.log.Infow("instance running", "Name", in.name, "Command", in.command, "PID", h.PID(), "Workdir", in.workdir)
	return nil
}

// Destroy removes the working directory as a single step. The keep-alive
// helper notices within its polling interval, closes the channel ends, and
// the child observes EOF and exits. Idempotent if already destroyed.
func (in *ImpInstance) Destroy() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.destroyed {
		return nil
	}
	in.destroyed = true
	if in.reqW != nil {
		in.reqW.Close()
		in.reqW = nil
	}
	if in.respLR != nil {
		in.respLR.close()
		in.respLR = nil
	}
	if err := os.RemoveAll(in.workdir); err != nil {
		return fmt.Errorf("removing workdir: %w", err)
	}
	in.log.Infow("instance destroyed", "Name", in.name)
	return nil
}

// channels lazily opens and caches the instance's ends of both FIFOs.
// Keeping them open across evaluate calls preserves buffered read-ahead
// between calls. Callers hold evalMu.
func (in *ImpInstance) channels() (*os.File, *lineReader, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.destroyed {
		return nil, nil, fmt.Errorf("%w: %s", ErrInstanceTornDown, in.name)
	}
	if in.reqW == nil {
		f, err := fifo.Open(fifo.RequestPath(in.workdir))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrInstanceTornDown, err)
		}
		in.reqW = f
	}
	if in.respLR == nil {
		f, err := fifo.Open(fifo.ResponsePath(in.workdir))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrInstanceTornDown, err)
		}
		in.respLR = &lineReader{f: f, r: bufio.NewReader(f)}
	}
	return in.reqW, in.respLR, nil
}
