package runner

import (
	"sort"
	"sync"

	"github.com/redbeam/redbeam/errors"
)

// Constructor builds a runner instance for a validated configuration.
// Constructors validate cfg against the runner's schema and return
// ErrConfiguration on failure, so a bad DataSource is rejected at
// construction time rather than at first Run.
type Constructor func(cfg Configuration) (QueryRunner, error)

// Registration binds a backend type name to its constructor and schema.
type Registration struct {
	Name   string
	New    Constructor
	Schema func() Schema
	// Enabled reports whether the runner's backend support is usable in
	// this build. Nil means always enabled. Disabled runners stay
	// constructible via Lookup but are excluded from AvailableTypes.
	Enabled func() bool
}

// Registry is the process-wide mapping from backend type name to runner
// registration. It is populated at startup (runner packages register
// themselves from init, the way database/sql drivers do) and then
// optionally restricted to the deduplicated union of the operator's
// enabled + additional type lists. Registration is append-only; there is
// no runtime unregistration.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
	// active is the operator-selected type set; nil means all registered.
	active map[string]struct{}
}

// NewRegistry creates an empty registry. Most callers use Default.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Default is the process-wide registry runner packages register into.
var Default = NewRegistry()

// Register adds a registration. Panics on a duplicate name: double
// registration is a wiring bug, not a runtime condition.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[reg.Name]; exists {
		panic("runner already registered for type: " + reg.Name)
	}
	r.entries[reg.Name] = reg
}

// Restrict limits the active type set to the deduplicated union of the
// two identifier lists. Identifiers naming no registered runner are
// ignored (the optional backend is simply absent from this build).
func (r *Registry) Restrict(enabled, additional []string) {
	active := make(map[string]struct{}, len(enabled)+len(additional))
	for _, name := range enabled {
		active[name] = struct{}{}
	}
	for _, name := range additional {
		active[name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = active
}

// Lookup returns the registration for a backend type name, or ErrNotFound.
// Lookup succeeds for disabled runners; callers must check Enabled before
// use so misconfiguration surfaces as a clear error instead of a late
// failure.
func (r *Registry) Lookup(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[name]
	if !ok {
		return Registration{}, errors.NewNotFoundError("query runner type %q", name)
	}
	return reg, nil
}

// IsEnabled reports whether a registered runner type is enabled. Unknown
// types are not enabled.
func (r *Registry) IsEnabled(name string) bool {
	reg, err := r.Lookup(name)
	if err != nil {
		return false
	}
	return reg.Enabled == nil || reg.Enabled()
}

// AvailableTypes lists the enabled, active backend type names, sorted.
// Disabled runners self-report via their Enabled hook and are excluded.
func (r *Registry) AvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, reg := range r.entries {
		if r.active != nil {
			if _, ok := r.active[name]; !ok {
				continue
			}
		}
		if reg.Enabled != nil && !reg.Enabled() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds a registration to the default registry.
func Register(reg Registration) { Default.Register(reg) }

// Lookup resolves a type name against the default registry.
func Lookup(name string) (Registration, error) { return Default.Lookup(name) }
