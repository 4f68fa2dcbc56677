package loader

import (
	"fmt"

	"github.com/petal-labs/strata/graph"
)

// flatModel is the flat layout: components reference their host by name.
type flatModel struct {
	ID         string            `json:"id"`
	Version    string            `json:"version,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Root       string            `json:"root,omitempty"`
	Components []flatComponent   `json:"components"`
}

type flatComponent struct {
	graph.ComponentDef
	Host string `json:"host,omitempty"`
}

// nest converts the flat layout into a nested ModelDefinition. Children
// keep their declaration order.
func (fm *flatModel) nest() (*graph.ModelDefinition, error) {
	index := make(map[string]int, len(fm.Components))
	for i, fc := range fm.Components {
		if len(fc.Children) > 0 {
			return nil, fmt.Errorf("component %q: children are not allowed in a flat model, use host", fc.Name)
		}
		if _, dup := index[fc.Name]; dup {
			return nil, fmt.Errorf("duplicate component name %q", fc.Name)
		}
		index[fc.Name] = i
	}

	children := make(map[string][]string)
	var roots []string
	for _, fc := range fm.Components {
		if fc.Host == "" {
			roots = append(roots, fc.Name)
			continue
		}
		if _, ok := index[fc.Host]; !ok {
			return nil, fmt.Errorf("component %q: host %q does not exist", fc.Name, fc.Host)
		}
		children[fc.Host] = append(children[fc.Host], fc.Name)
	}

	placed := make(map[string]bool, len(fm.Components))
	var build func(name string) graph.ComponentDef
	build = func(name string) graph.ComponentDef {
		placed[name] = true
		cd := fm.Components[index[name]].ComponentDef
		cd.Children = nil
		for _, child := range children[name] {
			cd.Children = append(cd.Children, build(child))
		}
		return cd
	}

	md := &graph.ModelDefinition{
		ID:       fm.ID,
		Version:  fm.Version,
		Metadata: fm.Metadata,
		Root:     fm.Root,
	}
	for _, name := range roots {
		md.Components = append(md.Components, build(name))
	}
	for _, fc := range fm.Components {
		if !placed[fc.Name] {
			return nil, fmt.Errorf("component %q: host chain forms a cycle", fc.Name)
		}
	}
	return md, nil
}
