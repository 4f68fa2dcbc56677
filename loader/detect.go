// Package loader provides format detection and loading for Strata model
// files. It supports nested and flat model layouts in JSON and YAML.
package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaKind identifies the layout of a model file.
type SchemaKind string

const (
	// SchemaKindModel nests children inside their aggregate.
	SchemaKindModel SchemaKind = "model"

	// SchemaKindFlat lists every component at the top level and names the
	// containing aggregate with a "host" field.
	SchemaKindFlat SchemaKind = "flat"
)

// DetectSchema auto-detects the schema kind from file content and path.
//  1. Determine parse format from extension (.yaml/.yml -> YAML, else JSON)
//  2. No "components" list -> error
//  3. Any component with a "host" key -> FLAT
//  4. Else MODEL
func DetectSchema(data []byte, filePath string) (SchemaKind, error) {
	var raw map[string]any
	if isYAML(filePath) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing JSON: %w", err)
		}
	}

	comps, ok := raw["components"].([]any)
	if !ok {
		return "", fmt.Errorf("unable to detect model format: file has no components list")
	}
	for _, c := range comps {
		if m, ok := c.(map[string]any); ok && hasKey(m, "host") {
			return SchemaKindFlat, nil
		}
	}
	return SchemaKindModel, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// hasKey checks if a key exists in a map.
func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes:
// YAML -> map[string]any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	// yaml.v3 uses map[string]any by default, which is JSON-compatible
	return json.Marshal(raw)
}
