package astro

import (
	"encoding/json"
	"strconv"
	"strings"
)

// The upstream small-body feed is loose about numeric fields: the same
// parameter may arrive as a bare number, a numeric string, a string with a
// trailing unit ("0.537 km", "500 m", "0.05 au"), or a quantity wrapper
// ({"value": "0.537", "units": "km"}). One tolerant parser per physical
// unit normalizes all of these; everything else in the system consumes
// plain float64 kilometers, km/s, and magnitudes.

// ParseLengthKm extracts a length from an arbitrary JSON value and
// normalizes it to kilometers. Bare numbers are assumed to be kilometers.
func ParseLengthKm(v any) (float64, bool) {
	value, unit, ok := coerceNumeric(v)
	if !ok {
		return 0, false
	}
	switch unit {
	case "", "km":
		return value, true
	case "m":
		return value / 1000, true
	case "au":
		return value * KmPerAU, true
	default:
		return 0, false
	}
}

// ParseDistanceAU extracts a distance from an arbitrary JSON value and
// normalizes it to astronomical units. Bare numbers are assumed to be AU.
func ParseDistanceAU(v any) (float64, bool) {
	value, unit, ok := coerceNumeric(v)
	if !ok {
		return 0, false
	}
	switch unit {
	case "", "au":
		return value, true
	case "km":
		return value / KmPerAU, true
	default:
		return 0, false
	}
}

// ParseSpeedKmS extracts a speed from an arbitrary JSON value and
// normalizes it to km/s. Bare numbers are assumed to be km/s.
func ParseSpeedKmS(v any) (float64, bool) {
	value, unit, ok := coerceNumeric(v)
	if !ok {
		return 0, false
	}
	switch unit {
	case "", "km/s":
		return value, true
	case "m/s":
		return value / 1000, true
	default:
		return 0, false
	}
}

// ParseMagnitude extracts a unitless magnitude (H, albedo, scale values)
// from an arbitrary JSON value.
func ParseMagnitude(v any) (float64, bool) {
	value, unit, ok := coerceNumeric(v)
	if !ok || (unit != "" && unit != "mag") {
		return 0, false
	}
	return value, true
}

// coerceNumeric reduces an arbitrary decoded JSON value to a number plus a
// lowercased unit hint. It recurses one level into {"value": ...} quantity
// wrappers, picking up a sibling "units"/"unit" key when the inner value
// carries no unit of its own.
func coerceNumeric(v any) (float64, string, bool) {
	switch x := v.(type) {
	case float64:
		return x, "", true
	case float32:
		return float64(x), "", true
	case int:
		return float64(x), "", true
	case int64:
		return float64(x), "", true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, "", false
		}
		return f, "", true
	case string:
		return splitNumericString(x)
	case map[string]any:
		inner, ok := x["value"]
		if !ok {
			return 0, "", false
		}
		value, unit, ok := coerceNumeric(inner)
		if !ok {
			return 0, "", false
		}
		if unit == "" {
			if u, ok := x["units"].(string); ok {
				unit = strings.ToLower(strings.TrimSpace(u))
			} else if u, ok := x["unit"].(string); ok {
				unit = strings.ToLower(strings.TrimSpace(u))
			}
		}
		return value, unit, true
	default:
		return 0, "", false
	}
}

// splitNumericString parses the longest numeric prefix of s and returns
// the remainder as the unit. "0.537 km" and "0.537km" both parse.
func splitNumericString(s string) (float64, string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", false
	}
	for i := len(s); i > 0; i-- {
		f, err := strconv.ParseFloat(strings.TrimSpace(s[:i]), 64)
		if err == nil {
			unit := strings.ToLower(strings.TrimSpace(s[i:]))
			return f, unit, true
		}
	}
	return 0, "", false
}
