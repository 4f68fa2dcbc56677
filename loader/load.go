package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/petal-labs/strata/graph"
	"github.com/petal-labs/strata/registry"
)

// LoadModel is the unified entry point: it reads a model file, detects
// its layout, validates it against the global registry and returns the
// nested definition. Validation errors are returned as a
// *graph.DiagnosticError.
func LoadModel(path string) (*graph.ModelDefinition, SchemaKind, error) {
	return LoadModelWithRegistry(path, registry.Global())
}

// LoadModelWithRegistry is LoadModel with an explicit registry.
func LoadModelWithRegistry(path string, reg *registry.Registry) (*graph.ModelDefinition, SchemaKind, error) {
	md, kind, err := ParseFile(path)
	if err != nil {
		return nil, kind, err
	}
	if diags := md.ValidateWithRegistry(reg); graph.HasErrors(diags) {
		return nil, kind, &graph.DiagnosticError{Diagnostics: diags}
	}
	return md, kind, nil
}

// ParseFile reads and decodes a model file without validating it.
func ParseFile(path string) (*graph.ModelDefinition, SchemaKind, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, "", fmt.Errorf("reading file %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes model file content. path only selects YAML or JSON.
func Parse(data []byte, path string) (*graph.ModelDefinition, SchemaKind, error) {
	kind, err := DetectSchema(data, path)
	if err != nil {
		return nil, "", err
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, kind, err
	}

	switch kind {
	case SchemaKindFlat:
		var fm flatModel
		if err := decodeStrict(jsonData, &fm); err != nil {
			return nil, kind, fmt.Errorf("parsing flat model: %w", err)
		}
		md, err := fm.nest()
		if err != nil {
			return nil, kind, fmt.Errorf("parsing flat model: %w", err)
		}
		return md, kind, nil
	default:
		var md graph.ModelDefinition
		if err := decodeStrict(jsonData, &md); err != nil {
			return nil, kind, fmt.Errorf("parsing model definition: %w", err)
		}
		return &md, kind, nil
	}
}

// decodeStrict rejects unknown fields, which are almost always typos in
// hand-written model files.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}
