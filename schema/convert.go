package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// FromJSONSchema interprets a JSON-Schema document (as decoded from JSON or
// YAML) into a Schema. Keywords outside the structural subset (formats,
// patterns, numeric bounds) are ignored; composite keywords (anyOf, oneOf,
// allOf) degrade to TypeAny so validation stays permissive.
func FromJSONSchema(doc map[string]any) (*Schema, error) {
	if doc == nil {
		return Any(), nil
	}
	return fromJSON("", doc)
}

func fromJSON(path string, doc map[string]any) (*Schema, error) {
	s := &Schema{}

	switch t := doc["type"].(type) {
	case nil:
		if _, ok := doc["properties"]; ok {
			s.Type = TypeObject
		}
	case string:
		typ, err := parseType(path, t)
		if err != nil {
			return nil, err
		}
		s.Type = typ
	case []any:
		for _, item := range t {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("schema %s: type list must contain strings", describe(path))
			}
			if name == "null" {
				s.Nullable = true
				continue
			}
			if s.Type != TypeAny {
				// Unions of several non-null types are not narrowed.
				s.Type = TypeAny
				break
			}
			typ, err := parseType(path, name)
			if err != nil {
				return nil, err
			}
			s.Type = typ
		}
	case []string:
		items := make([]any, len(t))
		for i, v := range t {
			items[i] = v
		}
		doc = copyWith(doc, "type", items)
		return fromJSON(path, doc)
	default:
		return nil, fmt.Errorf("schema %s: unsupported type keyword %T", describe(path), t)
	}

	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if _, ok := doc[key]; ok && doc["type"] == nil {
			s.Type = TypeAny
		}
	}

	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if def, ok := doc["default"]; ok {
		s.Default = def
	}
	if n, ok := doc["nullable"].(bool); ok && n {
		s.Nullable = true
	}

	if enum, ok := doc["enum"]; ok {
		values, ok := asList(enum)
		if !ok {
			return nil, fmt.Errorf("schema %s: enum must be a list", describe(path))
		}
		s.Enum = values
	}

	if rawProps, ok := doc["properties"]; ok {
		props, ok := asMap(rawProps)
		if !ok {
			return nil, fmt.Errorf("schema %s: properties must be an object", describe(path))
		}
		s.Properties = make(map[string]*Schema, len(props))
		for name, raw := range props {
			propDoc, ok := asMap(raw)
			if !ok {
				return nil, fmt.Errorf("schema %s: property must be an object", describe(join(path, name)))
			}
			prop, err := fromJSON(join(path, name), propDoc)
			if err != nil {
				return nil, err
			}
			s.Properties[name] = prop
		}
	}

	if rawReq, ok := doc["required"]; ok {
		req, ok := asList(rawReq)
		if !ok {
			return nil, fmt.Errorf("schema %s: required must be a list", describe(path))
		}
		for _, r := range req {
			name, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("schema %s: required entries must be strings", describe(path))
			}
			s.Required = append(s.Required, name)
		}
	}

	if rawItems, ok := doc["items"]; ok {
		itemsDoc, ok := asMap(rawItems)
		if !ok {
			return nil, fmt.Errorf("schema %s: items must be an object", describe(path))
		}
		items, err := fromJSON(path+"[]", itemsDoc)
		if err != nil {
			return nil, err
		}
		s.Items = items
	}

	return s, nil
}

func parseType(path, name string) (Type, error) {
	switch Type(name) {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject, TypeNull:
		return Type(name), nil
	default:
		return TypeAny, fmt.Errorf("schema %s: unknown type %q", describe(path), name)
	}
}

func describe(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func copyWith(doc map[string]any, key string, value any) map[string]any {
	out := clone(doc)
	out[key] = value
	return out
}

// FromStruct derives an object schema from a Go struct using reflection.
// Field names follow the json tag; a description tag documents the field.
// Fields without omitempty that are not pointers are required.
func FromStruct(v any) *Schema {
	t := reflect.TypeOf(v)
	if t == nil {
		return Any()
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return Any()
	}
	return structSchema(t)
}

func structSchema(t reflect.Type) *Schema {
	s := &Schema{Type: TypeObject, Properties: make(map[string]*Schema)}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				fieldName = parts[0]
			}
		}

		prop := typeSchema(field.Type)
		if description := field.Tag.Get("description"); description != "" {
			prop.Description = description
		}
		if field.Type.Kind() == reflect.Ptr {
			prop.Nullable = true
		}
		s.Properties[fieldName] = prop

		if !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr {
			s.Required = append(s.Required, fieldName)
		}
	}

	return s
}

func typeSchema(t reflect.Type) *Schema {
	switch t.Kind() {
	case reflect.String:
		return String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Integer()
	case reflect.Float32, reflect.Float64:
		return Number()
	case reflect.Bool:
		return Boolean()
	case reflect.Slice, reflect.Array:
		return Array(typeSchema(t.Elem()))
	case reflect.Struct:
		return structSchema(t)
	case reflect.Map:
		return Any()
	case reflect.Ptr:
		return typeSchema(t.Elem())
	default:
		return &Schema{}
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}
