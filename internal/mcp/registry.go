package mcp

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrNotFound is returned by Registry.Describe for unknown tool names.
var ErrNotFound = errors.New("capability not found")

// Capability is one tool advertised by the MCP server.
type Capability struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Registry caches the server's tool list in the order the server
// returned it. It is replaced wholesale on each discovery and is safe
// for concurrent readers.
type Registry struct {
	mu     sync.RWMutex
	order  []Capability
	byName map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// List returns a copy of all capabilities in discovery order.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, len(r.order))
	for i, c := range r.order {
		out[i] = c
		out[i].Schema = maps.Clone(c.Schema)
	}
	return out
}

// Describe returns the capability with the given name.
func (r *Registry) Describe(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return Capability{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	c := r.order[i]
	c.Schema = maps.Clone(c.Schema)
	return c, nil
}

// Names returns the tool names in discovery order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	for i, c := range r.order {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of cached capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// replace swaps in a fresh capability list. A later duplicate name
// overwrites the earlier entry in place.
func (r *Registry) replace(caps []Capability) {
	order := make([]Capability, 0, len(caps))
	byName := make(map[string]int, len(caps))
	for _, c := range caps {
		if i, dup := byName[c.Name]; dup {
			order[i] = c
			continue
		}
		byName[c.Name] = len(order)
		order = append(order, c)
	}

	r.mu.Lock()
	r.order = order
	r.byName = byName
	r.mu.Unlock()
}

// clear empties the registry.
func (r *Registry) clear() {
	r.replace(nil)
}
