// Package graph holds the declarative form of a Strata model: a tree of
// component definitions that can be validated, serialized as YAML or JSON
// and built into a live model.Controller.
package graph

import "fmt"

// Component kinds accepted in a ComponentDef.
const (
	KindProcess     = "process"
	KindSequential  = "sequential"
	KindConditional = "conditional"
	KindData        = "data"
	KindDataRef     = "data_ref"
)

// ModelDefinition is the serializable description of a model.
type ModelDefinition struct {
	ID       string            `json:"id"`
	Version  string            `json:"version,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Root names the component a run executes. Defaults to the first
	// top-level component.
	Root string `json:"root,omitempty"`

	Components []ComponentDef `json:"components"`
}

// ComponentDef describes one component and, for aggregates, its children.
type ComponentDef struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	UserID      string `json:"user_id,omitempty"`
	Description string `json:"description,omitempty"`

	// TimeLevel defaults to the host's level (0 at the top).
	TimeLevel *int `json:"time_level,omitempty"`

	// Inputs holds one input-set per host step. Each reference is
	// "Name" or "Name:outputIndex".
	Inputs            [][]string `json:"inputs,omitempty"`
	ParameterHandling string     `json:"parameter_handling,omitempty"`

	// Process fields.
	Type   string         `json:"type,omitempty"`
	Config map[string]any `json:"config,omitempty"`

	// Aggregate fields.
	Iterations          *int           `json:"iterations,omitempty"`
	IterationExpression string         `json:"iteration_expression,omitempty"`
	Condition           string         `json:"condition,omitempty"`
	MaxIterations       int            `json:"max_iterations,omitempty"`
	Children            []ComponentDef `json:"children,omitempty"`

	// Data fields. Target names the data component a data_ref forwards
	// to; when empty the first input names it.
	Value  any    `json:"value,omitempty"`
	Target string `json:"target,omitempty"`
}

// IsAggregate reports whether the definition describes an aggregate.
func (cd *ComponentDef) IsAggregate() bool {
	return cd.Kind == KindSequential || cd.Kind == KindConditional
}

// RootName returns the component a run should execute.
func (md *ModelDefinition) RootName() string {
	if md.Root != "" {
		return md.Root
	}
	if len(md.Components) > 0 {
		return md.Components[0].Name
	}
	return ""
}

// visit is one component seen during a walk.
type visit struct {
	def   *ComponentDef
	host  *ComponentDef
	path  string
	level int // effective time level
}

// walk visits every component depth-first in declaration order.
func (md *ModelDefinition) walk(fn func(v visit)) {
	var rec func(defs []ComponentDef, host *ComponentDef, prefix string, hostLevel int)
	rec = func(defs []ComponentDef, host *ComponentDef, prefix string, hostLevel int) {
		for i := range defs {
			cd := &defs[i]
			level := hostLevel
			if cd.TimeLevel != nil && *cd.TimeLevel > level {
				level = *cd.TimeLevel
			}
			path := fmt.Sprintf("%s[%d]", prefix, i)
			fn(visit{def: cd, host: host, path: path, level: level})
			rec(cd.Children, cd, path+".children", level)
		}
	}
	rec(md.Components, nil, "components", 0)
}

// Find returns the definition of the named component.
func (md *ModelDefinition) Find(name string) *ComponentDef {
	var found *ComponentDef
	md.walk(func(v visit) {
		if found == nil && v.def.Name == name {
			found = v.def
		}
	})
	return found
}
