// Package shell is a line-editing read-eval-print loop over a single
// instance. Each input line becomes a one-element evaluate call and the
// result is routed through the instance's configured pager. History is kept
// per instance, inside its working directory, so it lives and dies with the
// instance.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/lilobooter/imp/instance"
)

const historyFileName = "history"

// Shell runs an interactive session against one instance. The zero value is
// not usable; set Inst.
type Shell struct {
	Inst instance.Instance
	Log  *zap.SugaredLogger

	// In, when non-nil, replaces the terminal line editor with a plain
	// scanner over this reader. End of input exits the loop either way.
	In io.Reader

	// Out receives evaluated output when non-nil, bypassing the pager.
	// Defaults to stdout through the pager.
	Out io.Writer
}

// Run evaluates the initial lines (if any) as one call, then enters the
// prompt loop. Returning leaves the instance running and addressable for
// later sessions.
func (s *Shell) Run(ctx context.Context, initial []string) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if len(initial) > 0 {
		out, err := s.Inst.Evaluate(ctx, initial)
		if err != nil {
			return fmt.Errorf("evaluating initial commands: %w", err)
		}
		if err := s.display(out); err != nil {
			return err
		}
	}

	if s.In != nil {
		return s.scannerLoop(ctx)
	}
	return s.linerLoop(ctx, log)
}

func (s *Shell) prompt() string {
	return s.Inst.Name() + "> "
}

func (s *Shell) historyPath() string {
	return filepath.Join(s.Inst.Workdir(), historyFileName)
}

func (s *Shell) scannerLoop(ctx context.Context) error {
	sc := bufio.NewScanner(s.In)
	for sc.Scan() {
		if err := s.evalOne(ctx, sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (s *Shell) linerLoop(ctx context.Context, log *zap.SugaredLogger) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(s.historyPath()); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		f, err := os.Create(s.historyPath())
		if err != nil {
			log.Debugf("writing history: %s", err)
			return
		}
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}()

	for {
		line, err := ln.Prompt(s.prompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading prompt: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)
		if err := s.evalOne(ctx, line); err != nil {
			return err
		}
	}
}

func (s *Shell) evalOne(ctx context.Context, line string) error {
	out, err := s.Inst.Evaluate(ctx, []string{line})
	if err != nil {
		return err
	}
	return s.display(out)
}

// display routes output through the configured pager, falling back to a
// direct write when the pager is unusable or the shell was given an explicit
// output writer.
func (s *Shell) display(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	text := strings.Join(lines, "\n") + "\n"

	if s.Out != nil {
		_, err := io.WriteString(s.Out, text)
		return err
	}

	pager := s.Inst.Config().Pager
	fields := strings.Fields(pager)
	if len(fields) == 0 {
		_, err := io.WriteString(os.Stdout, text)
		return err
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		// Pager trouble should not lose output.
		_, werr := io.WriteString(os.Stdout, text)
		if werr != nil {
			return werr
		}
		return nil
	}
	return nil
}
