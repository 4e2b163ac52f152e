package instance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Evaluate writes every command line to the request channel in order, then
// applies the configured completion strategy to decide when the response is
// complete. An empty command sequence is still a valid call: it probes the
// target for buffered output.
//
// When advisory locking is enabled and available, the lock is held for the
// whole exchange; acquisition blocks without a timeout. Handshake reads carry
// no intrinsic timeout either: a context deadline, if the caller set one, is
// the only bound.
func (in *ImpInstance) Evaluate(ctx context.Context, lines []string) ([]string, error) {
	in.evalMu.Lock()
	defer in.evalMu.Unlock()

	cfg := in.Config()

	reqW, respLR, err := in.channels()
	if err != nil {
		return nil, err
	}

	if !cfg.LockMissing && in.lockAvailable {
		rel, err := in.locker.Acquire(in.lockPath())
		if err != nil {
			return nil, fmt.Errorf("acquiring instance lock: %w", err)
		}
		defer rel()
	}

	for _, line := range lines {
		if err := writeLine(reqW, line); err != nil {
			return nil, tornDown(in.name, err)
		}
	}

	switch cfg.strategy() {
	case completionHandshake:
		return in.readHandshake(ctx, cfg, reqW, respLR)
	case completionBoundedWait:
		return in.readBoundedWait(cfg, respLR)
	default:
		return in.readPlainTimeout(cfg, respLR)
	}
}

// Read drains command lines from r and evaluates them as one call.
func (in *ImpInstance) Read(ctx context.Context, r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading command stream: %w", err)
	}
	return in.Evaluate(ctx, lines)
}

// readHandshake appends a sentinel command built from the echo template and
// reads until the sentinel token appears. If the target never echoes the
// token this blocks indefinitely; that is the accepted contract of the
// strategy, and callers pick it only against targets proven to honor it.
func (in *ImpInstance) readHandshake(ctx context.Context, cfg Config, reqW *os.File, respLR *lineReader) ([]string, error) {
	token := uuid.NewString()
	if err := writeLine(reqW, strings.ReplaceAll(cfg.Echo, Placeholder, token)); err != nil {
		return nil, tornDown(in.name, err)
	}

	var deadline time.Time // zero: no timeout
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	sc := newSentinelScanner(token)
	for !sc.done() {
		line, err := respLR.readLine(deadline)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		if err != nil {
			return nil, tornDown(in.name, err)
		}
		sc.feed(line)
	}
	return sc.lines, nil
}

// readBoundedWait performs exactly cfg.Wait deadline-bounded reads. Reads
// that time out contribute nothing; whatever arrived is delivered.
func (in *ImpInstance) readBoundedWait(cfg Config, respLR *lineReader) ([]string, error) {
	var out []string
	for i := 0; i < cfg.Wait; i++ {
		line, err := respLR.readLine(time.Now().Add(cfg.Timeout))
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			return nil, tornDown(in.name, err)
		}
		out = append(out, line)
	}
	return out, nil
}

// readPlainTimeout reads until the first timed-out read. Best effort only: a
// producer slower than the timeout loses its remaining lines to the next
// call.
func (in *ImpInstance) readPlainTimeout(cfg Config, respLR *lineReader) ([]string, error) {
	var out []string
	for {
		line, err := respLR.readLine(time.Now().Add(cfg.Timeout))
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return out, nil
		}
		if err != nil {
			return nil, tornDown(in.name, err)
		}
		out = append(out, line)
	}
}

func writeLine(f *os.File, line string) error {
	_, err := f.WriteString(line + "\n")
	return err
}

func tornDown(name string, err error) error {
	return fmt.Errorf("%w: %s: %s", ErrInstanceTornDown, name, err)
}

// lineReader reads newline-terminated lines from a FIFO with per-read
// deadlines. A read that times out mid-line keeps the partial bytes and
// prepends them to the next read, so deadline expiry never drops data that
// already arrived.
type lineReader struct {
	f       *os.File
	r       *bufio.Reader
	partial []byte
}

// readLine returns the next line without its trailing newline. deadline may
// be the zero time for an unbounded read.
func (lr *lineReader) readLine(deadline time.Time) (string, error) {
	if err := lr.f.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	b, err := lr.r.ReadBytes('\n')
	lr.partial = append(lr.partial, b...)
	if err != nil {
		return "", err
	}
	line := strings.TrimSuffix(string(lr.partial), "\n")
	lr.partial = nil
	return line, nil
}

func (lr *lineReader) close() error {
	return lr.f.Close()
}
