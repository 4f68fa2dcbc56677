package graph

import (
	"encoding/json"
	"testing"
)

func intp(n int) *int { return &n }

func TestModelDefinition_JSONRoundTrip(t *testing.T) {
	md := ModelDefinition{
		ID:       "growth",
		Version:  "1.0",
		Metadata: map[string]string{"owner": "hydrology"},
		Root:     "Years",
		Components: []ComponentDef{
			{
				Name:       "Years",
				Kind:       KindSequential,
				Iterations: intp(3),
				Children: []ComponentDef{
					{Name: "Rate", Kind: KindData, Value: 0.5},
					{
						Name:              "Grow",
						Kind:              KindProcess,
						Type:              "expression",
						Config:            map[string]any{"expression": "in0 * 2"},
						Inputs:            [][]string{{"Rate"}},
						ParameterHandling: "use_up",
						TimeLevel:         intp(1),
					},
				},
			},
		},
	}

	data, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got ModelDefinition
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != md.ID || got.Root != md.Root || got.Metadata["owner"] != "hydrology" {
		t.Errorf("header = %+v", got)
	}
	if len(got.Components) != 1 || len(got.Components[0].Children) != 2 {
		t.Fatalf("components = %+v", got.Components)
	}
	years := got.Components[0]
	if years.Iterations == nil || *years.Iterations != 3 {
		t.Errorf("Iterations = %v, want 3", years.Iterations)
	}
	grow := years.Children[1]
	if grow.Type != "expression" || grow.Config["expression"] != "in0 * 2" {
		t.Errorf("Grow = %+v", grow)
	}
	if grow.TimeLevel == nil || *grow.TimeLevel != 1 {
		t.Errorf("TimeLevel = %v, want 1", grow.TimeLevel)
	}
	if len(grow.Inputs) != 1 || grow.Inputs[0][0] != "Rate" {
		t.Errorf("Inputs = %v", grow.Inputs)
	}
	if years.Children[0].Value != 0.5 {
		t.Errorf("Rate value = %v", years.Children[0].Value)
	}
}

func TestModelDefinition_JSONOmitsEmpty(t *testing.T) {
	md := ModelDefinition{
		ID:         "minimal",
		Components: []ComponentDef{{Name: "Buf", Kind: KindData}},
	}

	data, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, key := range []string{"version", "metadata", "root"} {
		if _, ok := raw[key]; ok {
			t.Errorf("%s should be omitted when empty", key)
		}
	}

	comp := raw["components"].([]any)[0].(map[string]any)
	for _, key := range []string{"time_level", "inputs", "iterations", "children", "value", "config"} {
		if _, ok := comp[key]; ok {
			t.Errorf("component %s should be omitted when empty", key)
		}
	}
}

func TestModelDefinition_RootName(t *testing.T) {
	tests := []struct {
		name string
		md   ModelDefinition
		want string
	}{
		{"explicit", ModelDefinition{Root: "B", Components: []ComponentDef{{Name: "A"}, {Name: "B"}}}, "B"},
		{"first top-level", ModelDefinition{Components: []ComponentDef{{Name: "A"}, {Name: "B"}}}, "A"},
		{"empty", ModelDefinition{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.md.RootName(); got != tt.want {
				t.Errorf("RootName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModelDefinition_FindAndWalk(t *testing.T) {
	md := ModelDefinition{Components: []ComponentDef{
		{Name: "Outer", Kind: KindSequential, TimeLevel: intp(1), Children: []ComponentDef{
			{Name: "Inner", Kind: KindSequential, TimeLevel: intp(3), Children: []ComponentDef{
				{Name: "Leaf", Kind: KindData},
			}},
			{Name: "Side", Kind: KindData},
		}},
	}}

	if md.Find("Leaf") == nil || md.Find("Nope") != nil {
		t.Error("Find should locate nested components only")
	}

	levels := map[string]int{}
	paths := map[string]string{}
	md.walk(func(v visit) {
		levels[v.def.Name] = v.level
		paths[v.def.Name] = v.path
	})
	want := map[string]int{"Outer": 1, "Inner": 3, "Leaf": 3, "Side": 1}
	for name, lvl := range want {
		if levels[name] != lvl {
			t.Errorf("%s level = %d, want %d", name, levels[name], lvl)
		}
	}
	if paths["Leaf"] != "components[0].children[0].children[0]" {
		t.Errorf("Leaf path = %q", paths["Leaf"])
	}
}
