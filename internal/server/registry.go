package server

import "sync"

// Registry is the concurrent set of connected clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[*Client]bool)}
}

// Add registers c.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c] = true
	r.mu.Unlock()
}

// Remove unregisters c and reports whether it was present. Only the first
// of several concurrent removals of the same client returns true.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	return true
}

// Snapshot returns the clients registered at the time of the call.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
