package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/spokevisor/internal/depgraph"
	"github.com/loykin/spokevisor/internal/restart"
)

// Runtime is the mutable state of one service. It is only touched while the
// registry lock is held.
type Runtime struct {
	State     State
	Error     string
	PID       int
	StartedAt time.Time
	Restarts  restart.Budget
	// SpawnedByUs is set when this supervisor instance launched the service,
	// as opposed to adopting it at boot.
	SpawnedByUs bool
	// Exited is closed when the spawned handle exits. Nil for adopted services.
	Exited <-chan struct{}
	// Generation increases on every Start and Stop so a background task can
	// tell that its transition was superseded.
	Generation uint64
}

// Clone returns a deep copy safe to read without the lock.
func (r *Runtime) Clone() Runtime {
	c := *r
	c.Restarts = r.Restarts.Clone()
	return c
}

// Registry owns the definitions and the per-service runtime. A single mutex
// guards every runtime; it is only held for the duration of a state
// transition, never across I/O.
type Registry struct {
	mu    sync.Mutex
	order []string
	defs  map[string]Definition
	rt    map[string]*Runtime
}

// NewRegistry validates defs and creates a stopped runtime for each. The
// dependency graph must reference known keys only and must be acyclic.
func NewRegistry(defs []Definition, budget restart.Budget) (*Registry, error) {
	r := &Registry{
		defs: make(map[string]Definition, len(defs)),
		rt:   make(map[string]*Runtime, len(defs)),
	}
	var errs []error
	for _, d := range defs {
		if d.Kind == "" {
			d.Kind = KindProcess
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := r.defs[d.Key]; dup {
			errs = append(errs, fmt.Errorf("duplicate service key %q", d.Key))
			continue
		}
		r.order = append(r.order, d.Key)
		r.defs[d.Key] = d
		r.rt[d.Key] = &Runtime{State: StateStopped, Restarts: budget.Clone()}
	}

	adj := make(map[string][]string, len(r.defs))
	for _, k := range r.order {
		d := r.defs[k]
		for _, dep := range d.DependsOn {
			if _, ok := r.defs[dep]; !ok {
				errs = append(errs, fmt.Errorf("service %q depends on unknown service %q", k, dep))
			}
		}
		adj[k] = d.DependsOn
	}
	errs = append(errs, depgraph.DetectCycles(adj)...)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// Keys returns service keys in definition order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// Definition returns the definition for key.
func (r *Registry) Definition(key string) (Definition, bool) {
	d, ok := r.defs[key]
	return d, ok
}

// Definitions returns all definitions in definition order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.defs[k])
	}
	return out
}

// DependsOn returns the declared dependencies of key.
func (r *Registry) DependsOn(key string) []string {
	return r.defs[key].DependsOn
}

// Order returns keys sorted so that dependencies come first.
func (r *Registry) Order() []string {
	return depgraph.Sort(r.order, r.DependsOn)
}

// Tx gives access to runtimes while the registry lock is held.
type Tx struct{ r *Registry }

// Runtime returns the runtime for key, or nil when the key is unknown.
func (tx Tx) Runtime(key string) *Runtime { return tx.r.rt[key] }

// Do runs fn with the registry lock held. fn must not block.
func (r *Registry) Do(fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(Tx{r: r})
}

// Snapshot returns a copy of the runtime for key.
func (r *Registry) Snapshot(key string) (Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.rt[key]
	if !ok {
		return Runtime{}, false
	}
	return rt.Clone(), true
}
