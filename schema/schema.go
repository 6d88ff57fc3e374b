// Package schema implements the structural validator used at every agent
// boundary. A Schema declares the fields an object is expected to carry;
// Validate type-checks and coerces those fields in passthrough mode, so keys
// the schema does not declare are preserved untouched.
//
// Schemas come from three places:
//   - Go code, via the constructors (Object, String, Number, ...)
//   - Go structs, via FromStruct (json / description tags)
//   - External JSON-Schema documents, via FromJSONSchema (MCP tool schemas,
//     YAML pipeline files)
package schema

import (
	"errors"
	"fmt"
	"sort"
)

// Type is the JSON type a schema node accepts.
type Type string

const (
	// TypeAny accepts any value.
	TypeAny Type = ""
	// TypeString accepts strings.
	TypeString Type = "string"
	// TypeNumber accepts any numeric value.
	TypeNumber Type = "number"
	// TypeInteger accepts integral numeric values.
	TypeInteger Type = "integer"
	// TypeBoolean accepts booleans.
	TypeBoolean Type = "boolean"
	// TypeArray accepts lists.
	TypeArray Type = "array"
	// TypeObject accepts string keyed maps.
	TypeObject Type = "object"
	// TypeNull accepts only nil.
	TypeNull Type = "null"
)

// ErrValidation is matched (errors.Is) by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports the first field that failed validation.
type ValidationError struct {
	Field   string `json:"field"`   // Dotted path of the offending field
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Schema is a node of a structural schema. The zero value accepts anything.
// Schemas are immutable once handed to an agent; share them freely.
type Schema struct {
	Type        Type
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
	Enum        []any
	Default     any
	Nullable    bool
}

// Any returns an object schema without declared fields. It is the default
// input and output schema of every agent.
func Any() *Schema { return &Schema{Type: TypeObject} }

// Object returns an object schema with the given properties.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

// String returns a string schema.
func String() *Schema { return &Schema{Type: TypeString} }

// Number returns a number schema.
func Number() *Schema { return &Schema{Type: TypeNumber} }

// Integer returns an integer schema.
func Integer() *Schema { return &Schema{Type: TypeInteger} }

// Boolean returns a boolean schema.
func Boolean() *Schema { return &Schema{Type: TypeBoolean} }

// Array returns an array schema whose elements match items (nil = any).
func Array(items *Schema) *Schema { return &Schema{Type: TypeArray, Items: items} }

// WithDescription returns a copy of s carrying the description d.
func (s *Schema) WithDescription(d string) *Schema {
	c := *s
	c.Description = d
	return &c
}

// PropertyNames returns the declared property names in sorted order.
func (s *Schema) PropertyNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRequired reports whether name is listed as required.
func (s *Schema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// JSONSchema renders the schema as a JSON-Schema document, the shape model
// providers expect for tool parameters.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := map[string]any{}
	if s.Type != TypeAny {
		if s.Nullable {
			out["type"] = []any{string(s.Type), "null"}
		} else {
			out["type"] = string(s.Type)
		}
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Type == TypeObject {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
		if len(s.Required) > 0 {
			req := make([]any, len(s.Required))
			for i, r := range s.Required {
				req[i] = r
			}
			out["required"] = req
		}
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if len(s.Enum) > 0 {
		out["enum"] = append([]any(nil), s.Enum...)
	}
	if s.Default != nil {
		out["default"] = s.Default
	}
	return out
}
