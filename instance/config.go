package instance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Placeholder is the token in a handshake template that is replaced with the
// per-call sentinel.
const Placeholder = "{}"

// Recognized config keys.
const (
	KeyEcho        = "echo"
	KeyTimeout     = "timeout"
	KeyWait        = "wait"
	KeyPager       = "pager"
	KeyLockMissing = "lock_missing"
)

// UseTimeout as the wait count selects the plain-timeout completion strategy
// instead of bounded waiting.
const UseTimeout = -1

// Config holds the per-instance tunables consumed by Evaluate.
//
// The completion strategy is derived: a non-empty Echo template selects
// Handshake; otherwise a non-negative Wait selects BoundedWait; otherwise
// PlainTimeout.
type Config struct {
	// Echo is the handshake template. It must contain Placeholder, which is
	// substituted with a fresh token per call. Empty disables handshaking.
	Echo string

	// Timeout bounds each read under the BoundedWait and PlainTimeout
	// strategies.
	Timeout time.Duration

	// Wait is the BoundedWait read count, or UseTimeout for PlainTimeout.
	Wait int

	// Pager is the display command used by the interactive shell. It has no
	// protocol effect.
	Pager string

	// LockMissing disables advisory locking around evaluate calls.
	LockMissing bool
}

// DefaultConfig returns the settings a new instance starts with.
func DefaultConfig() Config {
	return Config{
		Timeout: time.Second,
		Wait:    UseTimeout,
		Pager:   "less",
	}
}

type completionStrategy int

const (
	completionHandshake completionStrategy = iota
	completionBoundedWait
	completionPlainTimeout
)

func (c Config) strategy() completionStrategy {
	switch {
	case c.Echo != "":
		return completionHandshake
	case c.Wait >= 0:
		return completionBoundedWait
	default:
		return completionPlainTimeout
	}
}

// Set validates and applies one key. lockAvailable is consulted only when
// enabling locking; an unknown key or invalid value leaves the config
// untouched.
func (c *Config) Set(key, value string, lockAvailable bool) error {
	switch key {
	case KeyEcho:
		if value != "" && !strings.Contains(value, Placeholder) {
			return fmt.Errorf("%w: %q", ErrInvalidEchoTemplate, value)
		}
		c.Echo = value
	case KeyTimeout:
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil || secs < 0 {
			return fmt.Errorf("parsing timeout %q: must be a non-negative number of seconds", value)
		}
		c.Timeout = time.Duration(secs * float64(time.Second))
	case KeyWait:
		n, err := strconv.Atoi(value)
		if err != nil || n < UseTimeout {
			return fmt.Errorf("parsing wait %q: must be a count or %d", value, UseTimeout)
		}
		c.Wait = n
	case KeyPager:
		c.Pager = value
	case KeyLockMissing:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing lock_missing %q: %w", value, err)
		}
		if !v && !lockAvailable {
			return ErrLockUnavailable
		}
		c.LockMissing = v
	default:
		return fmt.Errorf("%w: %q", ErrUnknownConfigOption, key)
	}
	return nil
}

// Get returns the current value of one key, formatted the same way Dump
// formats it.
func (c Config) Get(key string) (string, error) {
	switch key {
	case KeyEcho:
		return c.Echo, nil
	case KeyTimeout:
		return strconv.FormatFloat(c.Timeout.Seconds(), 'g', -1, 64), nil
	case KeyWait:
		return strconv.Itoa(c.Wait), nil
	case KeyPager:
		return c.Pager, nil
	case KeyLockMissing:
		return strconv.FormatBool(c.LockMissing), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownConfigOption, key)
	}
}

// Setting is one entry of a config dump.
type Setting struct {
	Key   string
	Value string
}

// Dump returns every setting in a stable order.
func (c Config) Dump() []Setting {
	keys := []string{KeyEcho, KeyLockMissing, KeyPager, KeyTimeout, KeyWait}
	out := make([]Setting, 0, len(keys))
	for _, k := range keys {
		v, _ := c.Get(k)
		out = append(out, Setting{Key: k, Value: v})
	}
	return out
}
