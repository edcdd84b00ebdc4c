package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON turns a .yaml/.yml document into JSON so the strict JSON decoder
// can enforce the schema for both formats. Other extensions pass through
// untouched.
func toJSON(path string, doc []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return doc, nil
	}

	var v any
	if err := yaml.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out, err := json.Marshal(keysToStrings(v))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// keysToStrings rewrites yaml's map[any]any nodes so the tree marshals as
// JSON objects.
func keysToStrings(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = keysToStrings(val)
		}
		return out
	case map[string]any:
		for k, val := range x {
			x[k] = keysToStrings(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = keysToStrings(x[i])
		}
		return x
	default:
		return v
	}
}
