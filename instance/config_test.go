package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSet(t *testing.T) {
	t.Parallel()

	t.Run("echo requires placeholder", func(t *testing.T) {
		c := DefaultConfig()
		err := c.Set(KeyEcho, "echo sentinel", true)
		assert.ErrorIs(t, err, ErrInvalidEchoTemplate)
		assert.Empty(t, c.Echo, "rejected template must not be stored")

		require.NoError(t, c.Set(KeyEcho, "echo {}", true))
		assert.Equal(t, "echo {}", c.Echo)

		// clearing the template is allowed
		require.NoError(t, c.Set(KeyEcho, "", true))
		assert.Empty(t, c.Echo)
	})

	t.Run("timeout accepts fractional seconds", func(t *testing.T) {
		c := DefaultConfig()
		require.NoError(t, c.Set(KeyTimeout, "0.25", true))
		assert.Equal(t, 250*time.Millisecond, c.Timeout)

		assert.Error(t, c.Set(KeyTimeout, "abc", true))
		assert.Error(t, c.Set(KeyTimeout, "-1", true))
	})

	t.Run("wait minus one selects plain timeout", func(t *testing.T) {
		c := DefaultConfig()
		require.NoError(t, c.Set(KeyWait, "3", true))
		assert.Equal(t, completionBoundedWait, c.strategy())

		require.NoError(t, c.Set(KeyWait, "-1", true))
		assert.Equal(t, completionPlainTimeout, c.strategy())

		assert.Error(t, c.Set(KeyWait, "-2", true))
	})

	t.Run("echo wins strategy selection", func(t *testing.T) {
		c := DefaultConfig()
		require.NoError(t, c.Set(KeyWait, "3", true))
		require.NoError(t, c.Set(KeyEcho, "echo {}", true))
		assert.Equal(t, completionHandshake, c.strategy())
	})

	t.Run("enabling locking requires availability", func(t *testing.T) {
		c := DefaultConfig()
		require.NoError(t, c.Set(KeyLockMissing, "true", false))
		assert.True(t, c.LockMissing)

		err := c.Set(KeyLockMissing, "false", false)
		assert.ErrorIs(t, err, ErrLockUnavailable)
		assert.True(t, c.LockMissing, "failed set must not mutate")

		require.NoError(t, c.Set(KeyLockMissing, "false", true))
		assert.False(t, c.LockMissing)
	})

	t.Run("unknown key does not mutate", func(t *testing.T) {
		c := DefaultConfig()
		before := c
		err := c.Set("colour", "blue", true)
		assert.ErrorIs(t, err, ErrUnknownConfigOption)
		assert.Equal(t, before, c)

		_, err = c.Get("colour")
		assert.ErrorIs(t, err, ErrUnknownConfigOption)
	})
}

func TestConfigDump(t *testing.T) {
	t.Parallel()
	c := DefaultConfig()
	require.NoError(t, c.Set(KeyTimeout, "1.5", true))
	require.NoError(t, c.Set(KeyEcho, "print {}", true))

	dump := c.Dump()
	got := map[string]string{}
	for _, s := range dump {
		got[s.Key] = s.Value
	}
	assert.Equal(t, map[string]string{
		KeyEcho:        "print {}",
		KeyTimeout:     "1.5",
		KeyWait:        "-1",
		KeyPager:       "less",
		KeyLockMissing: "false",
	}, got)
}
