package retry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry maps policy names to policies. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// Register validates p, with defaults applied, and stores it under its name.
func (r *Registry) Register(p Policy) error {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[p.Name]; exists {
		return fmt.Errorf("retry policy %s already registered", p.Name)
	}
	r.policies[p.Name] = p
	return nil
}

// Get returns the policy registered under name.
func (r *Registry) Get(name string) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, false
	}
	return &p, true
}

// Names returns the registered policy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.policies)
	slices.Sort(names)
	return names
}
