package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseArgs turns key=value pairs into an argument mapping. With coerce set,
// values that parse as JSON (numbers, booleans, null, arrays, objects) keep
// their JSON type and everything else stays a string.
func parseArgs(pairs []string, coerce bool) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, usageError{msg: fmt.Sprintf("argument %q is not of the form key=value", pair)}
		}
		if _, dup := out[key]; dup {
			return nil, usageError{msg: fmt.Sprintf("argument %q given more than once", key)}
		}
		if coerce {
			out[key] = coerceValue(value)
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func coerceValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	if _, isString := v.(string); isString {
		return s
	}
	return v
}
