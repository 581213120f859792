// Package handlers implements the Handler Registry & Step Handlers
// (Component G): a process-scoped name-to-function registry plus the
// concrete forward/compensation handlers for every step named in
// orchestration/definitions, per spec.md §4.G.
package handlers

import (
	"sync"

	"github.com/dotmac/ispsaga/orchestration/saga"
)

// Registry is a concurrency-safe map from handler name to forward or
// compensation function, its maps guarded by a sync.RWMutex.
type Registry struct {
	mu            sync.RWMutex
	forward       map[string]saga.ForwardHandler
	compensation  map[string]saga.CompensationHandler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		forward:      make(map[string]saga.ForwardHandler),
		compensation: make(map[string]saga.CompensationHandler),
	}
}

var _ saga.Registry = (*Registry)(nil)

// Register adds a forward handler under name. Re-registering the same
// name replaces the previous handler, so bootstrap code can be re-run
// idempotently.
func (r *Registry) Register(name string, h saga.ForwardHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward[name] = h
}

// RegisterCompensation adds a compensation handler under name.
func (r *Registry) RegisterCompensation(name string, h saga.CompensationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensation[name] = h
}

// Resolve looks up a forward handler by name. A missing handler is a step
// failure the orchestrator records, not a panic (spec.md §4.G).
func (r *Registry) Resolve(name string) (saga.ForwardHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.forward[name]
	return h, ok
}

// ResolveCompensation looks up a compensation handler by name.
func (r *Registry) ResolveCompensation(name string) (saga.CompensationHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.compensation[name]
	return h, ok
}
