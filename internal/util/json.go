package util

import (
	"encoding/json"
	"fmt"
	"strings"
)

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToMap converts any JSON-marshalable value into a plain map by a JSON round
// trip, so callers only ever see map[string]any, []any, float64, string,
// bool and nil.
func ToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("value of type %T is not an object: %w", v, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ParseJSONObject extracts a JSON object from model output. Surrounding
// markdown code fences are tolerated.
func ParseJSONObject(text string) (map[string]any, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	return out, true
}
