package instance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTarget(t *testing.T, r *Registry, name string, cfg Config, argv ...string) Instance {
	t.Helper()
	inst, err := r.Create(context.Background(), name, cfg, argv)
	require.NoError(t, err)
	return inst
}

func TestHandshakePassThrough(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	cfg := DefaultConfig()
	cfg.Echo = Placeholder // cat mirrors the bare token back
	inst := createTarget(t, r, "mirror", cfg, "cat")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := inst.Evaluate(ctx, []string{"first", "second", "third"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, out)

	// Again, exercising the retained channel handles.
	out, err = inst.Evaluate(ctx, []string{"fourth"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fourth"}, out)
}

func TestHandshakeAnswerSharesLineWithAck(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	// The shell prints the answer without a newline; the echoed sentinel then
	// lands on the same output line.
	cfg := DefaultConfig()
	cfg.Echo = "echo {}"
	inst := createTarget(t, r, "sh_inline", cfg, "sh")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := inst.Evaluate(ctx, []string{"printf 30"})
	require.NoError(t, err)
	assert.Equal(t, []string{"30"}, out)
}

func TestPlainTimeoutSilentTarget(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	cfg := DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	inst := createTarget(t, r, "silent", cfg, "sh", "-c", "while read l; do :; done")

	start := time.Now()
	out, err := inst.Evaluate(context.Background(), []string{"swallowed"})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Less(t, elapsed, 2*time.Second, "plain timeout must return around the configured timeout")
}

func TestBoundedWaitTwoLinesPerCommand(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	cfg := DefaultConfig()
	cfg.Wait = 2
	cfg.Timeout = 2 * time.Second
	inst := createTarget(t, r, "doubler", cfg, "sh", "-c", `while read l; do echo "$l"; echo "$l"; done`)

	out, err := inst.Evaluate(context.Background(), []string{"ping"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ping", "ping"}, out)
}

func TestBoundedWaitDeliversPartialResults(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	cfg := DefaultConfig()
	cfg.Wait = 3
	cfg.Timeout = 100 * time.Millisecond
	inst := createTarget(t, r, "oneliner", cfg, "sh", "-c", `while read l; do echo "$l"; done`)

	out, err := inst.Evaluate(context.Background(), []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, out, "timed-out repetitions contribute nothing")
}

func TestEmptyCommandSequenceProbes(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	inst := createTarget(t, r, "probe", cfg, "cat")

	out, err := inst.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReadDrainsStream(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	cfg := DefaultConfig()
	cfg.Echo = Placeholder
	inst := createTarget(t, r, "streamed", cfg, "cat")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := inst.Read(ctx, strings.NewReader("a\nb\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestDestroyDuringEvaluateSurfacesTornDown(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	// Consumer never echoes the sentinel, so the handshake read blocks until
	// the concurrent destroy closes the channel.
	cfg := DefaultConfig()
	cfg.Echo = Placeholder
	inst := createTarget(t, r, "doomed", cfg, "sh", "-c", "while read l; do :; done")

	errCh := make(chan error, 1)
	go func() {
		_, err := inst.Evaluate(context.Background(), []string{"hello"})
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, r.Destroy("doomed"))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrInstanceTornDown)
	case <-time.After(5 * time.Second):
		t.Fatal("evaluate did not observe teardown")
	}
}

func TestEvaluateAfterDestroyFails(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	inst := createTarget(t, r, "gone", DefaultConfig(), "cat")
	require.NoError(t, r.Destroy("gone"))

	_, err := inst.Evaluate(context.Background(), []string{"anyone home"})
	assert.ErrorIs(t, err, ErrInstanceTornDown)
}

func TestStartTwiceRejected(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	inst := createTarget(t, r, "single", DefaultConfig(), "cat")
	imp, ok := inst.(*ImpInstance)
	require.True(t, ok)

	err := imp.start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
