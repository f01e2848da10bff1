package config

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
)

// jsonValue converts a decoded YAML value into the shapes a JSON document
// can hold: mapping keys become strings and unusual scalar kinds are widened.
// Non-finite floats are kept as float64 values.
func jsonValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, json.Number,
		float32, float64, int, int8, int32, int64, uint, uint8, uint32, uint64:
		return v
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonValue(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[mapKey(k)] = jsonValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e)
		}
		return out
	case encoding.TextMarshaler:
		if b, err := x.MarshalText(); err == nil {
			return string(b)
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int16:
		return rv.Int()
	case reflect.Uint16, reflect.Uintptr:
		return rv.Uint()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = jsonValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key().Interface())] = jsonValue(iter.Value().Interface())
		}
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return jsonValue(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

func mapKey(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}

// jsonMap is jsonValue for string-keyed mappings.
func jsonMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return jsonValue(m).(map[string]any)
}
