package remote

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lilobooter/imp/instance"
	internalnet "github.com/lilobooter/imp/internal/net"
)

func startServer(t *testing.T) *Client {
	t.Helper()

	registry := instance.NewRegistry(
		instance.WithLogger(zap.NewNop()),
		instance.WithBaseDir(t.TempDir()),
		instance.WithKeepAliveInterval(20*time.Millisecond),
	)
	t.Cleanup(func() { registry.Close() })

	port, err := internalnet.GetEphemeralTCPPort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	server, err := NewServer(registry,
		WithServerLogger(zap.NewNop()),
		WithListenAddr(addr),
	)
	require.NoError(t, err)
	go func() {
		if err := server.Run(); err != nil {
			t.Logf("server exited: %s", err)
		}
	}()
	t.Cleanup(func() { server.Shutdown() })

	client := &Client{BaseURL: "http://" + addr, Logger: zap.NewNop().Sugar()}

	// Wait for the listener to come up.
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := client.List(ctx, "")
		cancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %s", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return client
}

func TestCreateEvaluateDestroy(t *testing.T) {
	t.Parallel()
	client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, err := client.Create(ctx, CreateRequest{
		Name:    "mirror",
		Command: []string{"cat"},
		Config:  map[string]string{"echo": "{}"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mirror", created.Name)
	assert.Equal(t, instance.KindImp, created.Kind)
	assert.True(t, created.Running)

	names, err := client.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"mirror"}, names)

	out, err := client.Evaluate(ctx, "mirror", []string{"over", "the", "wire"})
	require.NoError(t, err)
	assert.Equal(t, []string{"over", "the", "wire"}, out)

	require.NoError(t, client.Destroy(ctx, "mirror"))

	names, err = client.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	err = client.Destroy(ctx, "mirror")
	assert.Error(t, err, "destroying a destroyed instance is not found")
}

func TestEvalSessionCarriesMultipleCalls(t *testing.T) {
	t.Parallel()
	client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := client.Create(ctx, CreateRequest{
		Name:    "session",
		Command: []string{"cat"},
		Config:  map[string]string{"echo": "{}"},
	})
	require.NoError(t, err)

	ec, err := client.Dial(ctx, "session")
	require.NoError(t, err)
	defer ec.Close()

	out, err := ec.Evaluate(ctx, []string{"one"})
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, out)

	out, err = ec.Evaluate(ctx, []string{"two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"two"}, out)
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()
	client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := client.Create(ctx, CreateRequest{Name: "cfg", Command: []string{"cat"}})
	require.NoError(t, err)

	dump, err := client.ConfigDump(ctx, "cfg")
	require.NoError(t, err)
	assert.Equal(t, "-1", dump["wait"])

	require.NoError(t, client.ConfigSet(ctx, "cfg", "timeout", "0.5"))
	val, err := client.ConfigGet(ctx, "cfg", "timeout")
	require.NoError(t, err)
	assert.Equal(t, "0.5", val)

	err = client.ConfigSet(ctx, "cfg", "colour", "blue")
	assert.Error(t, err)

	err = client.ConfigSet(ctx, "cfg", "echo", "no placeholder here")
	assert.Error(t, err)
}

func TestErrorsMapToStatuses(t *testing.T) {
	t.Parallel()
	client := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := client.Describe(ctx, "missing")
	assert.Error(t, err)

	_, err = client.Create(ctx, CreateRequest{Name: "dup", Command: []string{"cat"}})
	require.NoError(t, err)
	_, err = client.Create(ctx, CreateRequest{Name: "dup", Command: []string{"cat"}})
	assert.Error(t, err)

	_, err = client.Create(ctx, CreateRequest{Name: "ghost", Command: []string{"no_such_command_imp_remote"}})
	assert.Error(t, err)
}
