package network

import (
	"sort"
	"sync"
)

// Registry holds the configured networks by name.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Network
}

// NewRegistry creates a registry populated with the given networks.
func NewRegistry(networks ...*Network) *Registry {
	r := &Registry{
		entries: make(map[string]*Network, len(networks)),
	}
	for _, n := range networks {
		r.Register(n)
	}
	return r
}

// Register adds or replaces a network.
func (r *Registry) Register(n *Network) {
	if n == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[n.Name] = n
}

// Get retrieves a network by name. Returns nil if not found.
func (r *Registry) Get(name string) *Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Names returns all registered network names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all networks ordered by name.
func (r *Registry) All() []*Network {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Network, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name])
	}
	return out
}
