package config

import (
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

type format int

const (
	formatTOML format = iota
	formatYAML
)

func formatFor(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatTOML
	}
}

// parse decodes data as TOML, or YAML for .yaml/.yml paths.
func parse(path string, data []byte) (Document, error) {
	var v any
	switch formatFor(path) {
	case formatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
	default:
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("toml unmarshal: %w", err)
		}
		v = m
	}

	if v == nil {
		// An empty file is a valid, empty document.
		return Document{}, nil
	}
	doc, ok := normalize(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config root must be a mapping, got %T", v)
	}
	return doc, nil
}

// render encodes doc for path's format.
func render(path string, doc Document) ([]byte, error) {
	if formatFor(path) == formatYAML {
		b, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("yaml marshal: %w", err)
		}
		return b, nil
	}
	return []byte(Encode(doc)), nil
}

// normalize makes every mapping a map[string]any so the tree can be merged
// and JSON-marshaled.
func normalize(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalize(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	default:
		return in
	}
}
