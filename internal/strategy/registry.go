package strategy

import (
	"sort"
	"sync"

	"github.com/alimogh/trdk/internal/domain"
)

// Factory builds a strategy instance from its configured name and raw
// string parameters. Factories validate parameters and fail fast with a
// ConfigError on anything contradictory or missing.
type Factory func(name string, params map[string]string, env Env) (Strategy, error)

// Registry maps strategy type names (the `class` field of the wiring
// configuration) to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a type name.
func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	r.factories[typeName] = f
	r.mu.Unlock()
}

// Create instantiates a strategy of the given type.
func (r *Registry) Create(typeName, instanceName string, params map[string]string, env Env) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewConfigError("unknown strategy class %q", typeName)
	}
	return f(instanceName, params, env)
}

// Types returns the sorted registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
