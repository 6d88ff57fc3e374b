package util

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/google/uuid"
)

// NewID returns a random identifier for runs and calls.
func NewID() string { return uuid.NewString() }

// bareVar matches mustache style placeholders such as {{product}} or
// {{ $message }}. Go template syntax ({{.x}}, {{upper .x}}) is left alone.
var bareVar = regexp.MustCompile(`\{\{\s*([A-Za-z_$][A-Za-z0-9_$\-]*)\s*\}\}`)

var keywords = map[string]bool{
	"end": true, "else": true, "nil": true, "break": true, "continue": true,
}

// funcs are the helpers available to prompt templates.
var funcs = template.FuncMap{
	"get": func(m map[string]any, key string) any {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
		return ""
	},
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}
		return v
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	},
	"join": func(sep string, items []any) string {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, fmt.Sprint(it))
		}
		return strings.Join(parts, sep)
	},
	"json": toJSON,
}

// RenderTemplate substitutes variables from state into text. Both the
// mustache form ({{name}}) and Go template syntax ({{.name}}, with the
// default/upper/lower/title/join/json helpers) are supported. Missing keys
// render as the empty string.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	text = bareVar.ReplaceAllStringFunc(text, func(m string) string {
		name := bareVar.FindStringSubmatch(m)[1]
		if keywords[name] {
			return m
		}
		return fmt.Sprintf("{{get . %q}}", name)
	})

	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(funcs).Parse(text)
	if err != nil {
		return "", err
	}

	if state == nil {
		state = map[string]any{}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}

	return buf.String(), nil
}
