package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lilobooter/imp/internal/deps"
	"github.com/lilobooter/imp/internal/names"
	"github.com/lilobooter/imp/lock"
	"github.com/lilobooter/imp/pump"
	"github.com/lilobooter/imp/pump/native"
)

// Registry owns the set of live instances. It starts empty; Close destroys
// everything still registered. Name reservation is atomic: of two concurrent
// Create calls for one name, exactly one wins.
type Registry struct {
	log               *zap.SugaredLogger
	locker            lock.Lock
	p                 pump.Pump
	checker           deps.Checker
	baseDir           string
	keepAliveInterval time.Duration

	mu        sync.Mutex
	instances map[string]Instance
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l.Sugar() }
}

// WithLock overrides the advisory lock implementation.
func WithLock(l lock.Lock) Option {
	return func(r *Registry) { r.locker = l }
}

// WithPump overrides how child processes are wired to their channels.
func WithPump(p pump.Pump) Option {
	return func(r *Registry) { r.p = p }
}

// WithDepChecker overrides how command presence is probed.
func WithDepChecker(c deps.Checker) Option {
	return func(r *Registry) { r.checker = c }
}

// WithBaseDir places instance working directories under dir instead of the
// system temp directory.
func WithBaseDir(dir string) Option {
	return func(r *Registry) { r.baseDir = dir }
}

// WithKeepAliveInterval overrides the keep-alive polling interval. Shorter
// intervals make teardown faster; tests use this.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(r *Registry) { r.keepAliveInterval = d }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		locker:    lock.Default(),
		p:         &native.Pump{},
		checker:   deps.PathChecker{},
		instances: map[string]Instance{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(fmt.Sprintf("error constructing default logger: %s", err))
		}
		r.log = logger.Sugar()
	}
	r.log = r.log.Named("registry")
	return r
}

// LockAvailable reports whether the registry's advisory lock mechanism is
// usable on this host.
func (r *Registry) LockAvailable() bool {
	return r.locker.Available()
}

// Create registers name, builds the instance's working directory and
// channels, and starts its pump, as one atomic step: any failure leaves no
// registry entry and no directory behind. An empty name defaults to the
// basename of the command.
func (r *Registry) Create(ctx context.Context, name string, cfg Config, argv []string) (Instance, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if name == "" {
		name = filepath.Base(argv[0])
	}
	if err := names.Check(name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidName, err)
	}
	if !r.checker.Exists(argv[0]) {
		return nil, fmt.Errorf("%w: %q", ErrDependencyMissing, argv[0])
	}

	// Reserve the name before doing any real work. A nil entry marks a
	// creation in progress; concurrent creates for the same name lose here.
	r.mu.Lock()
	if _, ok := r.instances[name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	r.instances[name] = nil
	r.mu.Unlock()

	inst, err := r.build(ctx, name, cfg, argv)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.instances, name)
		return nil, err
	}
	r.instances[name] = inst
	return inst, nil
}

func (r *Registry) build(ctx context.Context, name string, cfg Config, argv []string) (*ImpInstance, error) {
	workdir, err := os.MkdirTemp(r.baseDir, "imp-"+name+"-")
	if err != nil {
		return nil, fmt.Errorf("creating workdir: %w", err)
	}

	inst := &ImpInstance{
		name:              name,
		command:           append([]string(nil), argv...),
		workdir:           workdir,
		locker:            r.locker,
		lockAvailable:     r.locker.Available(),
		pump:              r.p,
		keepAliveInterval: r.keepAliveInterval,
		log:               r.log.Named(name),
		cfg:               cfg,
	}
	if err := inst.start(ctx); err != nil {
		os.RemoveAll(workdir)
		return nil, err
	}
	return inst, nil
}

// Resolve returns the named instance. A non-empty expectedKind must match
// the instance's kind tag.
func (r *Registry) Resolve(name, expectedKind string) (Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[name]
	if !ok || inst == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if expectedKind != "" && inst.Kind() != expectedKind {
		return nil, fmt.Errorf("%w: %q is %q, not %q", ErrWrongKind, name, inst.Kind(), expectedKind)
	}
	return inst, nil
}

// Destroy tears the named instance down and frees its name.
func (r *Registry) Destroy(name string) error {
	inst, err := r.Resolve(name, "")
	if err != nil {
		return err
	}
	if err := inst.Destroy(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.instances, name)
	r.mu.Unlock()
	return nil
}

// List returns the names of live instances, filtered by kind when kindFilter
// is non-empty. Order is not significant; it is sorted for stable output.
func (r *Registry) List(kindFilter string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, inst := range r.instances {
		if inst == nil {
			continue
		}
		if kindFilter != "" && inst.Kind() != kindFilter {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close destroys every remaining instance.
func (r *Registry) Close() error {
	var firstErr error
	for _, name := range r.List("") {
		if err := r.Destroy(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
