package bq

import (
	"encoding/json"
	"fmt"
)

// identityKeys are assigned by the server and must not be replayed on create.
var identityKeys = map[string]struct{}{
	"etag":     {},
	"id":       {},
	"selfLink": {},
}

// Scrub returns a deep copy of def without identity keys at any depth.
func Scrub(def map[string]any) map[string]any {
	if def == nil {
		return nil
	}
	return scrubValue(def).(map[string]any)
}

func scrubValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if _, drop := identityKeys[k]; drop {
				continue
			}
			out[k] = scrubValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = scrubValue(child)
		}
		return out
	default:
		return v
	}
}

// ToMap converts a REST resource into its generic JSON form.
func ToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromMap decodes a generic JSON map into a REST resource.
func FromMap(m map[string]any, out any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode resource: %w", err)
	}
	return nil
}
