package config

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Encode renders doc in the TOML subset tame writes: scalars of a table
// first as `key = value`, then each nested mapping as a `[dotted.path]`
// section. Keys are sorted at every level so output is stable.
func Encode(doc Document) string {
	out := strings.TrimLeft(encodeTable(doc, ""), "\n")
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func encodeTable(m map[string]any, prefix string) string {
	var (
		lines  []string
		tables []string
	)
	for _, k := range sortedKeys(m) {
		if _, ok := asMap(m[k]); ok {
			tables = append(tables, k)
			continue
		}
		lines = append(lines, encodeKey(k)+" = "+encodeValue(m[k]))
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	for _, k := range tables {
		full := encodeKey(k)
		if prefix != "" {
			full = prefix + "." + full
		}
		sub, _ := asMap(m[k])
		b.WriteString("\n[" + full + "]\n")
		b.WriteString(encodeTable(sub, full))
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func encodeKey(k string) string {
	if k == "" {
		return `""`
	}
	for _, r := range k {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return quote(k)
		}
	}
	return k
}

func encodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return `""`
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return quote(x)
	case float32:
		return encodeFloat(float64(x), 32)
	case float64:
		return encodeFloat(x, 64)
	case []any:
		items := make([]string, len(x))
		for i := range x {
			items[i] = encodeValue(x[i])
		}
		return "[" + strings.Join(items, ", ") + "]"
	case []string:
		items := make([]string, len(x))
		for i := range x {
			items[i] = quote(x[i])
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]any:
		items := make([]string, 0, len(x))
		for _, k := range sortedKeys(x) {
			items = append(items, encodeKey(k)+" = "+encodeValue(x[k]))
		}
		return "{" + strings.Join(items, ", ") + "}"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	}
	return fmt.Sprint(v)
}

// encodeFloat always yields a float literal, so 3.0 stays a float on reload.
func encodeFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

var stringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func quote(s string) string { return `"` + stringEscaper.Replace(s) + `"` }
