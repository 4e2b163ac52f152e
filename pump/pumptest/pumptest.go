// Package pumptest verifies pump.Pump implementations against their shared
// observable contract: the channels connect, submission order is preserved,
// and removing the working directory tears the child down.
package pumptest

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilobooter/imp/internal/fifo"
	"github.com/lilobooter/imp/pump"
)

const keepAliveInterval = 50 * time.Millisecond

// Conformance runs the contract checks against p.
func Conformance(t *testing.T, p pump.Pump) {
	t.Run("EchoRoundTrip", func(t *testing.T) { echoRoundTrip(t, p) })
	t.Run("TeardownOnDirRemoval", func(t *testing.T) { teardown(t, p) })
}

func startEcho(t *testing.T, p pump.Pump) (dir string, h pump.Handle) {
	t.Helper()
	dir = t.TempDir()
	require.NoError(t, fifo.Create(dir))

	ka := &fifo.KeepAlive{Interval: keepAliveInterval}
	ka.Start(dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := p.Start(ctx, pump.StartRequest{Command: "cat", Dir: dir})
	require.NoError(t, err)
	return dir, h
}

func echoRoundTrip(t *testing.T, p pump.Pump) {
	dir, _ := startEcho(t, p)
	t.Cleanup(func() { os.RemoveAll(dir) })

	reqF, err := fifo.Open(fifo.RequestPath(dir))
	require.NoError(t, err)
	defer reqF.Close()
	respF, err := fifo.Open(fifo.ResponsePath(dir))
	require.NoError(t, err)
	defer respF.Close()

	_, err = reqF.WriteString("one\ntwo\n")
	require.NoError(t, err)

	require.NoError(t, respF.SetReadDeadline(time.Now().Add(5*time.Second)))
	r := bufio.NewReader(respF)
	line1, err := r.ReadString('\n')
	require.NoError(t, err)
	line2, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "one\n", line1)
	assert.Equal(t, "two\n", line2)
}

func teardown(t *testing.T, p pump.Pump) {
	dir, h := startEcho(t, p)

	require.NoError(t, os.RemoveAll(dir))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
}
