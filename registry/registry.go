// Package registry provides the process-type registry for Strata. It maps
// type names used in model definitions to metadata (operands, outputs,
// config fields) and to the factory that instantiates the process.
package registry

import (
	"fmt"
	"sync"

	"github.com/petal-labs/strata/core"
)

// Factory creates a process for the named component from its config.
type Factory func(component string, config map[string]any) (core.Process, error)

// ProcessTypeDef describes a registered process type.
type ProcessTypeDef struct {
	Type           string        `json:"type"`
	Category       string        `json:"category"` // "source", "transform", "sink"
	DisplayName    string        `json:"display_name"`
	Description    string        `json:"description"`
	Ports          PortSchema    `json:"ports"`
	Config         []ConfigField `json:"config,omitempty"`
	PipeCompatible bool          `json:"pipe_compatible"`
	Sink           bool          `json:"sink"`
	Factory        Factory       `json:"-"`
}

// PortSchema defines the operands and outputs of a process type.
type PortSchema struct {
	Inputs  []PortDef `json:"inputs"`
	Outputs []PortDef `json:"outputs"`

	// Variadic reports whether any number of operands is accepted.
	Variadic bool `json:"variadic,omitempty"`
}

// PortDef describes a single operand or output.
type PortDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // "number", "string", "array", "any"
	Required bool   `json:"required"`
}

// ConfigField describes one key of a process type's config map.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "number", "string", "bool", "array", "object", "any"
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the singleton registry instance. On first call it
// initializes the registry and auto-registers all built-in process types.
func Global() *Registry {
	globalOnce.Do(func() {
		global = New()
		registerBuiltins(global)
	})
	return global
}

// Registry holds all known process types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]ProcessTypeDef
	order []string // preserves registration order
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		types: make(map[string]ProcessTypeDef),
	}
}

// NewWithBuiltins returns a registry holding only the built-in types.
// Tests and embedders use it to extend the built-ins without touching
// the global instance.
func NewWithBuiltins() *Registry {
	r := New()
	registerBuiltins(r)
	return r
}

// Register adds a process type definition. If a type with the same name
// already exists it is overwritten.
func (r *Registry) Register(def ProcessTypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.Type]; !exists {
		r.order = append(r.order, def.Type)
	}
	r.types[def.Type] = def
}

// Get returns a process type definition by type name.
func (r *Registry) Get(typeName string) (ProcessTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[typeName]
	return def, ok
}

// Has returns true if the type name is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[typeName]
	return ok
}

// All returns all registered process types in registration order.
func (r *Registry) All() []ProcessTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ProcessTypeDef, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// Len returns the number of registered process types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// Create instantiates a process of the given type for component.
// The config is checked against the type's fields first.
func (r *Registry) Create(typeName, component string, config map[string]any) (core.Process, error) {
	def, ok := r.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown process type %q", typeName)
	}
	if def.Factory == nil {
		return nil, fmt.Errorf("process type %q has no factory", typeName)
	}
	if problems := def.CheckConfig(config); len(problems) > 0 {
		return nil, fmt.Errorf("process type %q: %s", typeName, problems[0])
	}
	proc, err := def.Factory(component, config)
	if err != nil {
		return nil, fmt.Errorf("creating %q process: %w", typeName, err)
	}
	return proc, nil
}
