package config

import (
	"fmt"
	"regexp"

	logx "tame/pkg/logx"
)

// numericFloors maps bare key names, wherever they appear in the tree, to
// their minimum allowed value.
var numericFloors = map[string]float64{
	"idle_threshold_seconds": 0,
	"idle_prompt_timeout":    0,
	"state_debounce_ms":      0,
	"resource_poll_seconds":  1,
	"timeout_ms":             0,
	"volume":                 0,
	"max_size":               1,
	"timeout":                0,
	"verbosity":              0,
}

var (
	patternCategories = []string{"error", "prompt", "completion", "progress"}
	patternLists      = []string{"regexes", "shell_regexes", "weak_regexes"}
)

// Repair clamps out-of-range numbers and drops regexes that don't compile.
// It mutates doc in place.
func Repair(doc Document, log logx.Logger) {
	clampNumeric(doc, "", log)
	validatePatterns(doc, log)
}

func clampNumeric(m map[string]any, prefix string, log logx.Logger) {
	for key, value := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if sub, ok := asMap(value); ok {
			clampNumeric(sub, path, log)
			continue
		}
		floor, tracked := numericFloors[key]
		if !tracked {
			continue
		}
		n, ok := toFloat(value)
		if !ok || n >= floor {
			continue
		}
		log.Warn("config value below minimum; clamping",
			logx.String("key", path),
			logx.Any("value", value),
			logx.Float64("floor", floor),
		)
		m[key] = floorLike(value, floor)
	}
}

// floorLike returns floor in the numeric type of v.
func floorLike(v any, floor float64) any {
	switch v.(type) {
	case int:
		return int(floor)
	case int8:
		return int8(floor)
	case int16:
		return int16(floor)
	case int32:
		return int32(floor)
	case int64:
		return int64(floor)
	case float32:
		return float32(floor)
	default:
		return floor
	}
}

func validatePatterns(doc Document, log logx.Logger) {
	root, ok := asMap(doc["patterns"])
	if !ok {
		return
	}
	for _, category := range patternCategories {
		cat, ok := asMap(root[category])
		if !ok {
			continue
		}
		for _, field := range patternLists {
			raw, ok := cat[field].([]any)
			if !ok {
				continue
			}
			valid := make([]any, 0, len(raw))
			for _, entry := range raw {
				pattern, isString := entry.(string)
				if !isString {
					log.Warn("invalid pattern skipped",
						logx.String("category", category),
						logx.String("field", field),
						logx.String("pattern", fmt.Sprint(entry)),
						logx.String("reason", "not a string"),
					)
					continue
				}
				if _, err := regexp.Compile(pattern); err != nil {
					log.Warn("invalid pattern skipped",
						logx.String("category", category),
						logx.String("field", field),
						logx.String("pattern", pattern),
						logx.String("reason", err.Error()),
					)
					continue
				}
				valid = append(valid, pattern)
			}
			cat[field] = valid
		}
	}
}
