package domain

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// State is the accumulating field bag threaded through every stage of a
// session. Once a stage has written a field it stays visible to all
// subsequent stages; stages add or overwrite fields, never remove them.
type State map[string]any

// Patch is the set of fields a stage wants merged into the state.
type Patch map[string]any

// NewState creates an empty state.
func NewState() State {
	return make(State)
}

// Merge overlays patch onto base and returns a new state. Keys present in
// patch replace the corresponding keys in base; keys absent from patch are
// retained. Nested values are replaced wholesale (shallow overlay). Neither
// input is mutated, so prior snapshots remain valid for checkpoint history.
func Merge(base State, patch Patch) State {
	next := make(State, len(base)+len(patch))
	for k, v := range base {
		next[k] = v
	}
	for k, v := range patch {
		next[k] = v
	}
	return next
}

// Clone returns a shallow copy of the state.
func Clone(s State) State {
	next := make(State, len(s))
	for k, v := range s {
		next[k] = v
	}
	return next
}

// GetString returns the string stored under key, or def when the key is
// absent or holds a non-string value.
func GetString(s State, key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// GetBool returns the bool stored under key, or def.
func GetBool(s State, key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// GetInt returns the integer stored under key, or def. It tolerates the
// numeric types a JSON round-trip through a checkpoint store produces.
func GetInt(s State, key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetFloat returns the float stored under key, or def.
func GetFloat(s State, key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

// DecodeField decodes the structured value stored under key into out.
// State fields written as typed records degrade to map[string]any after a
// JSON round-trip through a checkpoint store; mapstructure handles both
// shapes so stages never need to care which one they are reading.
func DecodeField(s State, key string, out any) error {
	raw, ok := s[key]
	if !ok {
		return fmt.Errorf("state field %q not present", key)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder for %q: %w", key, err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode state field %q: %w", key, err)
	}
	return nil
}

// HasField reports whether the key is present in the state.
func HasField(s State, key string) bool {
	_, ok := s[key]
	return ok
}
