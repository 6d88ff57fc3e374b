package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Validate checks m against the schema and returns the parsed object.
//
// Declared fields are type-checked and coerced where a lossless conversion
// exists (numeric strings to numbers, "true"/"false" to booleans). Missing
// fields receive their default when one is declared; missing required fields
// fail. Undeclared fields pass through unchanged. The input map is never
// mutated.
func (s *Schema) Validate(m map[string]any) (map[string]any, error) {
	if s == nil {
		return clone(m), nil
	}
	if s.Type != TypeObject && s.Type != TypeAny {
		return nil, &ValidationError{Message: fmt.Sprintf("schema of type %s cannot validate an object", s.Type)}
	}
	return s.validateObject("", m)
}

func (s *Schema) validateObject(path string, m map[string]any) (map[string]any, error) {
	out := clone(m)

	for _, name := range s.PropertyNames() {
		prop := s.Properties[name]
		field := join(path, name)

		v, present := out[name]
		if !present || v == nil {
			if prop.Default != nil {
				out[name] = deepCopy(prop.Default)
				continue
			}
			if s.IsRequired(name) && !(present && prop.Nullable) {
				return nil, &ValidationError{Field: field, Message: "required field is missing"}
			}
			continue
		}

		coerced, err := prop.validateValue(field, v)
		if err != nil {
			return nil, err
		}
		out[name] = coerced
	}

	// Required names without a property declaration only need presence.
	for _, name := range s.Required {
		if _, declared := s.Properties[name]; declared {
			continue
		}
		if v, ok := out[name]; !ok || v == nil {
			return nil, &ValidationError{Field: join(path, name), Message: "required field is missing"}
		}
	}

	return out, nil
}

func (s *Schema) validateValue(field string, v any) (any, error) {
	if v == nil {
		if s.Nullable || s.Type == TypeNull || s.Type == TypeAny {
			return nil, nil
		}
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("expected %s, got null", s.Type)}
	}

	var (
		out any
		err error
	)

	switch s.Type {
	case TypeAny:
		out = v
	case TypeString:
		str, ok := v.(string)
		if !ok {
			return nil, typeError(field, v, s.Type)
		}
		out = str
	case TypeNumber:
		out, err = toNumber(field, v)
	case TypeInteger:
		out, err = toInteger(field, v)
	case TypeBoolean:
		out, err = toBool(field, v)
	case TypeArray:
		out, err = s.toArray(field, v)
	case TypeObject:
		obj, ok := toObject(v)
		if !ok {
			return nil, typeError(field, v, s.Type)
		}
		out, err = s.validateObject(field, obj)
	case TypeNull:
		return nil, typeError(field, v, s.Type)
	default:
		return nil, &ValidationError{Field: field, Value: v, Message: fmt.Sprintf("unsupported schema type %q", s.Type)}
	}

	if err != nil {
		return nil, err
	}

	if len(s.Enum) > 0 && !inEnum(out, s.Enum) {
		return nil, &ValidationError{Field: field, Value: v, Message: fmt.Sprintf("value must be one of %v", s.Enum)}
	}

	return out, nil
}

func (s *Schema) toArray(field string, v any) ([]any, error) {
	var items []any
	switch arr := v.(type) {
	case []any:
		items = arr
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, typeError(field, v, TypeArray)
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	out := make([]any, len(items))
	for i, item := range items {
		if s.Items == nil {
			out[i] = item
			continue
		}
		coerced, err := s.Items.validateValue(fmt.Sprintf("%s[%d]", field, i), item)
		if err != nil {
			return nil, err
		}
		out[i] = coerced
	}
	return out, nil
}

func toNumber(field string, v any) (any, error) {
	var f float64
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return n, nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return nil, typeError(field, v, TypeNumber)
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return nil, typeError(field, v, TypeNumber)
		}
	default:
		return nil, typeError(field, v, TypeNumber)
	}

	// NaN and infinities have no JSON encoding.
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &ValidationError{Field: field, Value: v, Message: "number must be finite"}
	}
	if _, ok := v.(float32); ok {
		return v, nil
	}
	return f, nil
}

func toInteger(field string, v any) (any, error) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return n, nil
	case float64:
		return floatToInt(field, v, n)
	case float32:
		return floatToInt(field, v, float64(n))
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, typeError(field, v, TypeInteger)
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, typeError(field, v, TypeInteger)
		}
		return i, nil
	default:
		return nil, typeError(field, v, TypeInteger)
	}
}

// floatToInt accepts integral floats within the int64 range.
func floatToInt(field string, v any, f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, typeError(field, v, TypeInteger)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, &ValidationError{Field: field, Value: v, Message: "integer out of range"}
	}
	return int64(f), nil
}

func toBool(field string, v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, typeError(field, v, TypeBoolean)
}

func toObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case map[string]string:
		out := make(map[string]any, len(obj))
		for k, val := range obj {
			out[k] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// inEnum compares the coerced value against the allowed values. Numbers
// compare by value across Go numeric types; everything else must be deeply
// equal, so the string "1" never matches the number 1.
func inEnum(v any, enum []any) bool {
	vf, vNum := asFloat(v)
	for _, e := range enum {
		if ef, eNum := asFloat(e); vNum && eNum {
			if vf == ef {
				return true
			}
			continue
		}
		if reflect.DeepEqual(v, e) {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func typeError(field string, v any, want Type) error {
	return &ValidationError{
		Field:   field,
		Value:   v,
		Message: fmt.Sprintf("expected %s, got %T", want, v),
	}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// deepCopy copies nested maps and slices so a default value is never shared
// between outputs.
func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
