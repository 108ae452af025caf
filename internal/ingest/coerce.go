package ingest

import (
	"encoding/json"
	"regexp"
	"strconv"
)

var leadingDecimal = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// Coerce converts a decoded JSON value into a storable reading value.
//
// Numbers pass through unchanged. Strings yield their first signed
// decimal, or 0.0 when they contain none. Booleans, objects and arrays
// are kept as-is for structured readings. ok is false for null.
func Coerce(v any) (value any, ok bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case float64, float32, int, int64, int32, uint, uint64, uint32:
		return x, true
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, true
		}
		return 0.0, true
	case string:
		return ParseLeadingFloat(x), true
	default:
		return v, true
	}
}

// ParseLeadingFloat returns the first signed decimal embedded in s, or 0.
// "25.5 celsius" yields 25.5.
func ParseLeadingFloat(s string) float64 {
	m := leadingDecimal.FindString(s)
	if m == "" {
		return 0.0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0.0
	}
	return f
}

// AsFloat reports the numeric value of a coerced reading, if it has one.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint32:
		return float64(x), true
	default:
		return 0, false
	}
}
