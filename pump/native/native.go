// Package native implements pump.Pump by binding the child's stdio directly
// to the instance FIFOs and detaching it into its own process group.
package native

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lilobooter/imp/internal/fifo"
	"github.com/lilobooter/imp/pump"
)

// Pump spawns the child with its stdin opened on the request FIFO and its
// combined stdout/stderr opened on the response FIFO. The blocking FIFO
// opens complete promptly because the keep-alive helper already holds the
// opposite ends.
type Pump struct {
	Log *zap.SugaredLogger
}

var _ pump.Pump = (*Pump)(nil)

type result struct {
	code   int
	timeMS int64
	err    error
}

type handle struct {
	pid      int
	resultCh chan result
}

func (h *handle) PID() int { return h.pid }

func (h *handle) Wait(ctx context.Context) (*pump.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-h.resultCh:
		return &pump.Result{ExitCode: res.code, TimeMS: res.timeMS}, res.err
	}
}

func (p *Pump) Start(ctx context.Context, req pump.StartRequest) (pump.Handle, error) {
	log := p.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	stdin, err := openCtx(ctx, fifo.RequestPath(req.Dir), os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("opening request channel: %w", err)
	}
	stdout, err := openCtx(ctx, fifo.ResponsePath(req.Dir), os.O_WRONLY)
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("opening response channel: %w", err)
	}

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stdout
	// Own process group, so the child survives the caller and only working
	// directory removal ends it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("starting %q: %w", req.Command, err)
	}
	// The child holds its own descriptors now.
	stdin.Close()
	stdout.Close()

	log.Debugw("started child", "Command", req.Command, "PID", cmd.Process.Pid)

	resultCh := make(chan result, 1)
	go func() {
		exitCode := 0
		var resultErr error
		err := cmd.Wait()
		timeMS := time.Since(start).Milliseconds()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				resultErr = err
				exitCode = -1
			}
		}
		log.Debugw("child exited", "PID", cmd.Process.Pid, "ExitCode", exitCode)
		resultCh <- result{code: exitCode, timeMS: timeMS, err: resultErr}
	}()

	return &handle{pid: cmd.Process.Pid, resultCh: resultCh}, nil
}

// openCtx opens path with the given flag, abandoning the attempt when ctx is
// done. A FIFO open blocks until the opposite end exists, so the open runs in
// its own goroutine.
func openCtx(ctx context.Context, path string, flag int) (*os.File, error) {
	type opened struct {
		f   *os.File
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		f, err := os.OpenFile(path, flag, 0)
		ch <- opened{f, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if o := <-ch; o.f != nil {
				o.f.Close()
			}
		}()
		return nil, ctx.Err()
	case o := <-ch:
		return o.f, o.err
	}
}
