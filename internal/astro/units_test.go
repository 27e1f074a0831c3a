package astro

import (
	"math"
	"testing"
)

func TestParseLengthKm(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  float64
		ok    bool
	}{
		{name: "bare number", input: 0.537, want: 0.537, ok: true},
		{name: "numeric string", input: "0.537", want: 0.537, ok: true},
		{name: "km string", input: "0.537 km", want: 0.537, ok: true},
		{name: "km string no space", input: "0.537km", want: 0.537, ok: true},
		{name: "meters string", input: "500 m", want: 0.5, ok: true},
		{name: "au string", input: "0.001 au", want: 0.001 * KmPerAU, ok: true},
		{name: "uppercase unit", input: "500 M", want: 0.5, ok: true},
		{name: "quantity wrapper", input: map[string]any{"value": "0.537", "units": "km"}, want: 0.537, ok: true},
		{name: "wrapper with bare number", input: map[string]any{"value": 0.537}, want: 0.537, ok: true},
		{name: "wrapper meters", input: map[string]any{"value": 500.0, "units": "m"}, want: 0.5, ok: true},
		{name: "scientific notation", input: "5.37e-1 km", want: 0.537, ok: true},
		{name: "unknown unit", input: "0.537 furlongs", ok: false},
		{name: "not numeric", input: "unknown", ok: false},
		{name: "nil", input: nil, ok: false},
		{name: "bool", input: true, ok: false},
		{name: "wrapper without value", input: map[string]any{"units": "km"}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLengthKm(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseLengthKm(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ParseLengthKm(%v) = %g, want %g", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDistanceAU(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  float64
		ok    bool
	}{
		{name: "bare number", input: 0.05, want: 0.05, ok: true},
		{name: "au string", input: "0.05 au", want: 0.05, ok: true},
		{name: "km converts", input: "149597870.7 km", want: 1.0, ok: true},
		{name: "garbage", input: "n/a", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDistanceAU(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseDistanceAU(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ParseDistanceAU(%v) = %g, want %g", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSpeedKmS(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  float64
		ok    bool
	}{
		{name: "bare number", input: 7.42, want: 7.42, ok: true},
		{name: "km/s string", input: "7.42 km/s", want: 7.42, ok: true},
		{name: "m/s string", input: "7420 m/s", want: 7.42, ok: true},
		{name: "unknown unit", input: "7.42 mph", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSpeedKmS(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseSpeedKmS(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ParseSpeedKmS(%v) = %g, want %g", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMagnitude(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  float64
		ok    bool
	}{
		{name: "bare number", input: 19.7, want: 19.7, ok: true},
		{name: "negative string", input: "-0.25", want: -0.25, ok: true},
		{name: "mag suffix", input: "19.7 mag", want: 19.7, ok: true},
		{name: "length unit rejected", input: "19.7 km", ok: false},
		{name: "empty string", input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseMagnitude(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseMagnitude(%v) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseMagnitude(%v) = %g, want %g", tt.input, got, tt.want)
			}
		})
	}
}
