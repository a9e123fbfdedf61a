package cache

import (
	"encoding/json"
	"reflect"
)

// fallbackSizeBytes is charged when a value cannot be serialized. The
// estimate only needs to correlate with real payload size and stay
// deterministic for identical inputs.
const fallbackSizeBytes = 256

// estimateSize approximates the in-memory cost of a value as two bytes per
// serialized character, mirroring how the payloads are measured on the
// wire. Unserializable values fall back to a fixed charge.
func estimateSize(value any) int64 {
	data, err := json.Marshal(value)
	if err != nil {
		return fallbackSizeBytes
	}
	return int64(len(data)) * 2
}

// isNilValue reports whether a generic value is a typed or untyped nil.
// Nil values are rejected by Set so a cached nil can never masquerade as
// a miss.
func isNilValue(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
