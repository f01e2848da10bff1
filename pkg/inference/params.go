package inference

import (
	"maps"
	"strconv"
	"strings"
)

// Params is an open mapping of backend options with typed accessors.
type Params map[string]any

// MergeParams layers per-call parameters over configured defaults. Keys in
// call win.
func MergeParams(defaults, call map[string]any) Params {
	out := make(Params, len(defaults)+len(call))
	maps.Copy(out, defaults)
	maps.Copy(out, call)
	return out
}

// String returns the value for key as a string, or def when absent or empty.
func (p Params) String(key, def string) string {
	switch v := p[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case nil:
	default:
		if s, ok := scalarString(v); ok {
			return s
		}
	}
	return def
}

// Float returns the value for key as a float64, or def.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the value for key as an int, or def. Integral floats, as
// produced by JSON decoding, are accepted.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

// Bool returns the value for key as a bool, or def.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func scalarString(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(n), true
	}
	return "", false
}
