// Package module defines the detection module contract and the registry
// that routes invocations to installed modules.
package module

import (
	"context"
	"sort"
	"sync"

	"github.com/cloudtrim/cloudtrim/types"
)

// Module is the contract every detection module implements. Detect
// never returns an error: failures surface inside the output's errors
// list and status field.
type Module interface {
	ID() string
	Describe() types.ModuleDefinition
	Detect(ctx context.Context, input types.ModuleInput) types.ModuleOutput
}

// Registry holds installed modules keyed by ID. Instances are injected
// at wiring time; there is no global registry.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register installs a module, replacing any previous one with the same ID.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.ID()] = m
}

// Get returns the module registered under id.
func (r *Registry) Get(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// List returns the definitions of every installed module, sorted by ID.
func (r *Registry) List() []types.ModuleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ModuleDefinition, 0, len(r.modules))
	for _, m := range r.modules {
		defs = append(defs, m.Describe())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ModuleID < defs[j].ModuleID })
	return defs
}
