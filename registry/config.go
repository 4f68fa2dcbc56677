package registry

import (
	"fmt"
	"slices"

	"github.com/petal-labs/strata/expr"
)

// CheckConfig reports missing required fields and values whose type does
// not match the declared field type. Unknown keys are reported too, since
// they are almost always typos.
func (d ProcessTypeDef) CheckConfig(config map[string]any) []string {
	var problems []string
	for _, f := range d.Config {
		v, ok := config[f.Name]
		if !ok {
			if f.Required {
				problems = append(problems, fmt.Sprintf("missing required config %q", f.Name))
			}
			continue
		}
		if !matchesType(f.Type, v) {
			problems = append(problems, fmt.Sprintf("config %q must be of type %s, got %T", f.Name, f.Type, v))
		}
	}

	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !slices.ContainsFunc(d.Config, func(f ConfigField) bool { return f.Name == k }) {
			problems = append(problems, fmt.Sprintf("unknown config %q", k))
		}
	}
	return problems
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "number":
		_, ok := expr.ToFloat64(v)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "bool":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func stringField(config map[string]any, key, def string) string {
	if s, ok := config[key].(string); ok && s != "" {
		return s
	}
	return def
}

func numberField(config map[string]any, key string, def float64) float64 {
	if f, ok := expr.ToFloat64(config[key]); ok {
		return f
	}
	return def
}
