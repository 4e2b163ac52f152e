// Package imp turns line-oriented interactive command-line programs into
// long-lived, addressable, stateful services.
//
// An instance wraps one program behind a pair of named pipes and answers
// evaluate calls: command lines go in, response lines come out, and the
// program's internal state persists across calls. Completion of a response is
// detected by one of three strategies: a sentinel handshake, a bounded number
// of timed reads, or a plain timeout.
//
//	sys := imp.New()
//	defer sys.Close()
//	inst, err := sys.Create(ctx, "calc", map[string]string{"echo": "print {}"}, []string{"bc", "-l"})
//	if err != nil { ... }
//	out, err := inst.Evaluate(ctx, []string{"10 + 20"})
package imp

import (
	"context"
	"io"

	"github.com/lilobooter/imp/instance"
	"github.com/lilobooter/imp/shell"
)

// System is the external interface: a registry of instances plus the
// operations defined on them.
type System struct {
	registry *instance.Registry
}

// New builds a System with an empty registry. Options are forwarded to the
// registry.
func New(opts ...instance.Option) *System {
	return &System{registry: instance.NewRegistry(opts...)}
}

// Registry exposes the underlying registry, for callers wiring their own
// transports around it.
func (s *System) Registry() *instance.Registry {
	return s.registry
}

// Create builds and starts an instance wrapping argv. name may be empty, in
// which case the basename of argv[0] is used. config holds key/value settings
// applied before start; any validation failure leaves no residue.
func (s *System) Create(ctx context.Context, name string, config map[string]string, argv []string) (instance.Instance, error) {
	cfg := instance.DefaultConfig()
	available := s.registry.LockAvailable()
	for k, v := range config {
		if err := cfg.Set(k, v, available); err != nil {
			return nil, err
		}
	}
	return s.registry.Create(ctx, name, cfg, argv)
}

// Evaluate sends lines to the named instance and returns its response lines.
func (s *System) Evaluate(ctx context.Context, name string, lines []string) ([]string, error) {
	inst, err := s.registry.Resolve(name, "")
	if err != nil {
		return nil, err
	}
	return inst.Evaluate(ctx, lines)
}

// Read drains command lines from r and evaluates them on the named instance.
func (s *System) Read(ctx context.Context, name string, r io.Reader) ([]string, error) {
	inst, err := s.registry.Resolve(name, "")
	if err != nil {
		return nil, err
	}
	return inst.Read(ctx, r)
}

// Configure sets one config key on the named instance.
func (s *System) Configure(name, key, value string) error {
	inst, err := s.registry.Resolve(name, "")
	if err != nil {
		return err
	}
	return inst.Configure(key, value)
}

// ConfigValue returns one config value of the named instance.
func (s *System) ConfigValue(name, key string) (string, error) {
	inst, err := s.registry.Resolve(name, "")
	if err != nil {
		return "", err
	}
	return inst.ConfigValue(key)
}

// Settings returns every config setting of the named instance.
func (s *System) Settings(name string) ([]instance.Setting, error) {
	inst, err := s.registry.Resolve(name, "")
	if err != nil {
		return nil, err
	}
	return inst.Config().Dump(), nil
}

// Shell runs an interactive session on the named instance. Returning leaves
// the instance running.
func (s *System) Shell(ctx context.Context, name string, initial []string) error {
	inst, err := s.registry.Resolve(name, "")
	if err != nil {
		return err
	}
	sh := &shell.Shell{Inst: inst}
	return sh.Run(ctx, initial)
}

// Destroy tears the named instance down and frees its name.
func (s *System) Destroy(name string) error {
	return s.registry.Destroy(name)
}

// List returns the names of live instances, optionally filtered by kind.
func (s *System) List(kindFilter string) []string {
	return s.registry.List(kindFilter)
}

// Close destroys every remaining instance.
func (s *System) Close() error {
	return s.registry.Close()
}
