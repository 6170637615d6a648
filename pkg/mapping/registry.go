package mapping

import (
	"fmt"
	"sync"
)

// Registry holds built engines keyed by specification name, for the HTTP
// surface. Engines are immutable once registered, so concurrent MapSource
// calls against a registered engine are safe.
type Registry struct {
	provider ScriptEvalProvider

	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry creates a registry whose engines share the given sandbox
// provider.
func NewRegistry(provider ScriptEvalProvider) *Registry {
	return &Registry{
		provider: provider,
		engines:  make(map[string]*Engine),
	}
}

// Register builds an engine from the specification and stores it under name,
// replacing any previous registration.
func (r *Registry) Register(name string, spec *Spec) error {
	engine, err := NewBuilder().
		WithSpecification(spec).
		RegisterScriptEvalProvider(r.provider).
		Build()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.engines[name] = engine
	r.mu.Unlock()
	return nil
}

// Lookup returns the engine registered under name.
func (r *Registry) Lookup(name string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("no mapping specification registered under %q", name)
	}
	return engine, nil
}

// Names returns the registered specification names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	return names
}
