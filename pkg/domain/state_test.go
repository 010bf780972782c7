package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_Overlay(t *testing.T) {
	base := State{"a": 1, "b": "keep"}
	patch := Patch{"a": 2, "c": true}

	next := Merge(base, patch)

	assert.Equal(t, 2, next["a"])
	assert.Equal(t, "keep", next["b"])
	assert.Equal(t, true, next["c"])

	// Inputs untouched.
	assert.Equal(t, 1, base["a"])
	_, ok := base["c"]
	assert.False(t, ok)
}

func TestMerge_SequentialEqualsCombined(t *testing.T) {
	s := State{"x": "base", "y": 1}
	p1 := Patch{"x": "p1", "z": "p1"}
	p2 := Patch{"z": "p2", "w": 3}

	sequential := Merge(Merge(s, p1), p2)

	combined := make(Patch, len(p1)+len(p2))
	for k, v := range p1 {
		combined[k] = v
	}
	for k, v := range p2 {
		combined[k] = v
	}

	assert.Equal(t, Merge(s, combined), sequential)
}

func TestMerge_NestedReplacedWholesale(t *testing.T) {
	base := State{"cfg": map[string]any{"a": 1, "b": 2}}
	patch := Patch{"cfg": map[string]any{"a": 9}}

	next := Merge(base, patch)

	cfg, ok := next["cfg"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 9, cfg["a"])
	_, ok = cfg["b"]
	assert.False(t, ok, "shallow overlay must not deep-merge nested maps")
}

func TestGetInt_JSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(State{"iteration_count": 3})
	require.NoError(t, err)

	var decoded State
	require.NoError(t, json.Unmarshal(raw, &decoded))

	// JSON turns ints into float64; the accessor must not care.
	assert.Equal(t, 3, GetInt(decoded, "iteration_count", 0))
	assert.Equal(t, 7, GetInt(decoded, "missing", 7))
}

func TestAccessors_Defaults(t *testing.T) {
	s := State{"name": "estimate", "ok": true, "rate": 0.1}

	assert.Equal(t, "estimate", GetString(s, "name", ""))
	assert.Equal(t, "dflt", GetString(s, "missing", "dflt"))
	assert.True(t, GetBool(s, "ok", false))
	assert.False(t, GetBool(s, "missing", false))
	assert.InDelta(t, 0.1, GetFloat(s, "rate", 0), 1e-9)
}

func TestDecodeField_MapAndStruct(t *testing.T) {
	type record struct {
		Action string `json:"action"`
		Value  string `json:"value"`
	}

	s := State{
		"as_map":    map[string]any{"action": "add", "value": "3"},
		"as_struct": record{Action: "remove", Value: "1"},
	}

	var fromMap record
	require.NoError(t, DecodeField(s, "as_map", &fromMap))
	assert.Equal(t, record{Action: "add", Value: "3"}, fromMap)

	var fromStruct record
	require.NoError(t, DecodeField(s, "as_struct", &fromStruct))
	assert.Equal(t, record{Action: "remove", Value: "1"}, fromStruct)

	var missing record
	assert.Error(t, DecodeField(s, "absent", &missing))
}

func TestAsStageError(t *testing.T) {
	se := Dependencyf("timeout")
	assert.Same(t, se, AsStageError(se))

	wrapped := AsStageError(assert.AnError)
	assert.Equal(t, FailureFatal, wrapped.Kind)
}
