package engine

import (
	"math"
	"sort"
)

// VariableSet maps variable names to JSON-safe scalars: string, bool, int64,
// float64, an ISO-8601 timestamp string, or nil for an absent value.
type VariableSet map[string]interface{}

// Compact returns a copy without absent values. The engine treats a missing
// key differently from an explicit null, so payloads always omit.
// NaN and infinite floats are treated as absent.
func (v VariableSet) Compact() VariableSet {
	out := make(VariableSet, len(v))
	for k, val := range v {
		if isAbsent(val) {
			continue
		}
		out[k] = val
	}
	return out
}

// Clone returns a shallow copy of the set.
func (v VariableSet) Clone() VariableSet {
	out := make(VariableSet, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Keys returns the variable names in sorted order.
func (v VariableSet) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isAbsent(val interface{}) bool {
	switch f := val.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(f) || math.IsInf(f, 0)
	case float32:
		return math.IsNaN(float64(f)) || math.IsInf(float64(f), 0)
	}
	return false
}
