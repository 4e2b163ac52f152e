package instance

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(
		WithLogger(zap.NewNop()),
		WithBaseDir(t.TempDir()),
		WithKeepAliveInterval(20*time.Millisecond),
	)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, "bad name!", DefaultConfig(), []string{"cat"})
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = r.Create(ctx, "", DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = r.Create(ctx, "ghost", DefaultConfig(), []string{"no_such_command_imp_test"})
	assert.ErrorIs(t, err, ErrDependencyMissing)

	assert.Empty(t, r.List(""), "failed creations must leave no registry entries")
}

func TestDuplicateNameLeavesNoResidue(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	r := NewRegistry(
		WithLogger(zap.NewNop()),
		WithBaseDir(base),
		WithKeepAliveInterval(20*time.Millisecond),
	)
	t.Cleanup(func() { r.Close() })
	ctx := context.Background()

	_, err := r.Create(ctx, "calc", DefaultConfig(), []string{"cat"})
	require.NoError(t, err)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = r.Create(ctx, "calc", DefaultConfig(), []string{"cat"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	entries, err = os.ReadDir(base)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "duplicate create must not make a second workdir")
}

func TestDefaultNameFromCommand(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	inst, err := r.Create(context.Background(), "", DefaultConfig(), []string{"cat"})
	require.NoError(t, err)
	assert.Equal(t, "cat", inst.Name())
	assert.Equal(t, []string{"cat"}, r.List(""))
}

func TestResolveKind(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	_, err := r.Create(context.Background(), "tool", DefaultConfig(), []string{"cat"})
	require.NoError(t, err)

	inst, err := r.Resolve("tool", "")
	require.NoError(t, err)
	assert.Equal(t, KindImp, inst.Kind())

	_, err = r.Resolve("tool", KindImp)
	assert.NoError(t, err)

	_, err = r.Resolve("tool", "widget")
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = r.Resolve("absent", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDestroyFreesNameAndWorkdir(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Create(ctx, "tool", DefaultConfig(), []string{"cat"})
	require.NoError(t, err)
	firstDir := first.Workdir()

	require.NoError(t, r.Destroy("tool"))
	_, err = os.Stat(firstDir)
	assert.True(t, os.IsNotExist(err), "workdir must be removed on destroy")
	assert.ErrorIs(t, r.Destroy("tool"), ErrNotFound)

	second, err := r.Create(ctx, "tool", DefaultConfig(), []string{"cat"})
	require.NoError(t, err)
	assert.NotEqual(t, firstDir, second.Workdir(), "recreated instance must get a fresh workdir")
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	const attempts = 8
	results := make([]error, attempts)
	var group errgroup.Group
	for i := 0; i < attempts; i++ {
		i := i
		group.Go(func() error {
			_, err := r.Create(context.Background(), "contested", DefaultConfig(), []string{"cat"})
			results[i] = err
			return nil
		})
	}
	require.NoError(t, group.Wait())

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateName)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestCloseDestroysAll(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.Create(ctx, "a", DefaultConfig(), []string{"cat"})
	require.NoError(t, err)
	b, err := r.Create(ctx, "b", DefaultConfig(), []string{"cat"})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.Empty(t, r.List(""))
	for _, inst := range []Instance{a, b} {
		_, err := os.Stat(inst.Workdir())
		assert.True(t, os.IsNotExist(err))
	}
}
