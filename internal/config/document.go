package config

import "strings"

// Document is the untyped configuration tree: string keys mapping to
// scalars, sequences of scalars, or nested documents.
//
// It only lives at the load/merge/validate boundary. Runtime components read
// the typed Settings view (see Decode).
type Document = map[string]any

// Merge overlays override onto base. Nested mappings merge recursively;
// any other value in override replaces the base value. Neither input is
// modified.
func Merge(base, override Document) Document {
	out := Clone(base)
	for k, v := range override {
		if bm, ok := asMap(out[k]); ok {
			if om, ok := asMap(v); ok {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Clone deep-copies mappings and sequences.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		cp := make([]any, len(x))
		for i := range x {
			cp[i] = cloneValue(x[i])
		}
		return cp
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}

// Lookup navigates a dot-separated path. It returns def when a segment is
// missing or an intermediate value is not a mapping.
func Lookup(doc Document, path string, def any) any {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return def
		}
		v, ok := m[key]
		if !ok {
			return def
		}
		cur = v
	}
	return cur
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok && m != nil
}

// toFloat reports the numeric value of v. Booleans are not numbers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
