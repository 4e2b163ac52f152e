// Package relay implements pump.Pump with explicit copy loops between the
// instance FIFOs and ordinary pipes on the child's stdio. It exists for
// hosts whose process layer cannot hand a detached child FIFO-backed stdio
// directly; observable behavior matches the native pump.
package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/lilobooter/imp/internal/fifo"
	"github.com/lilobooter/imp/pump"
)

// Pump spawns the child on ordinary pipes and relays bytes to and from the
// FIFOs. The request relay observes EOF once the keep-alive helper and any
// evaluate writers are gone, closes the child's stdin, and lets it exit.
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

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("piping stdin: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	start := time.Now()
	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("starting %q: %w", req.Command, err)
	}
	// The child holds its own copy of the write end.
	outW.Close()

	log.Debugw("started relayed child", "Command", req.Command, "PID", cmd.Process.Pid)

	// Request relay: FIFO -> child stdin. The blocking open completes because
	// the keep-alive helper holds a write end; EOF arrives once every writer,
	// keep-alive included, is gone.
	go func() {
		reqF, err := os.OpenFile(fifo.RequestPath(req.Dir), os.O_RDONLY, 0)
		if err != nil {
			log.Debugf("request relay open failed: %s", err)
			stdin.Close()
			return
		}
		defer reqF.Close()
		if _, err := io.Copy(stdin, reqF); err != nil {
			log.Debugf("request relay copy ended: %s", err)
		}
		stdin.Close()
	}()

	// Response relay: child output -> FIFO.
	go func() {
		respF, err := os.OpenFile(fifo.ResponsePath(req.Dir), os.O_WRONLY, 0)
		if err != nil {
			log.Debugf("response relay open failed: %s", err)
			io.Copy(io.Discard, outR)
			outR.Close()
			return
		}
		defer respF.Close()
		defer outR.Close()
		if _, err := io.Copy(respF, outR); err != nil {
			log.Debugf("response relay copy ended: %s", err)
		}
	}()

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
		log.Debugw("relayed child exited", "PID", cmd.Process.Pid, "ExitCode", exitCode)
		resultCh <- result{code: exitCode, timeMS: timeMS, err: resultErr}
	}()

	return &handle{pid: cmd.Process.Pid, resultCh: resultCh}, nil
}
