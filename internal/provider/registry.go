package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownProvider is returned when no provider is registered under a name.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrDuplicateProvider is returned when a name is registered twice.
	ErrDuplicateProvider = errors.New("provider already registered")
)

// Registry maps provider names to providers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under its own Name().
func (r *Registry) Register(p Provider) error {
	return r.RegisterAs(p.Name(), p)
}

// RegisterAs adds p under the given name.
func (r *Registry) RegisterAs(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("register provider: empty name")
	}
	if p == nil {
		return fmt.Errorf("register provider %q: nil provider", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateProvider, name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
