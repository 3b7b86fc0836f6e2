// Package plugin holds the custom visual-logic extension point. A diagram may
// ship a companion binding that fully replaces the default effect dispatch.
package plugin

import (
	"strings"
	"sync"

	"github.com/synoptic-visualizer/backend/internal/models"
)

// Binding is the contract a diagram companion implements. When a binding is
// active it is solely responsible for all visual effects for every update.
// Callbacks may panic; callers isolate each invocation.
type Binding interface {
	// Initialize is called once when the diagram finishes loading.
	Initialize(root *models.DiagramDocument)
	// Update receives every dispatched value. value is the parsed payload
	// when structured, otherwise the raw payload text.
	Update(sourceID, topicID string, value any, root *models.DiagramDocument)
	// Reset restores any plugin-managed visual state to its baseline.
	// Called before snapshot replay and on diagram switch.
	Reset(root *models.DiagramDocument)
}

// Registry maps diagram names to their companion bindings.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// Global registry instance
var globalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// GetGlobalRegistry returns the singleton registry.
func GetGlobalRegistry() *Registry {
	return globalRegistry
}

// Register associates a binding with a diagram name. The name is matched
// against the diagram file name with its extension stripped.
func (r *Registry) Register(diagramName string, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[normalizeName(diagramName)] = b
}

// Lookup finds the binding for a diagram. A missing binding is not an error:
// the engine falls back to the default strategy.
func (r *Registry) Lookup(diagramName string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[normalizeName(diagramName)]
	return b, ok
}

func normalizeName(name string) string {
	name = strings.ToLower(name)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}
