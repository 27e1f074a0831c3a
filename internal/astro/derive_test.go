package astro

import (
	"math"
	"testing"
)

func TestDiameterFromAlbedo(t *testing.T) {
	tests := []struct {
		name    string
		albedo  float64
		h       float64
		want    float64
		wantErr bool
	}{
		{name: "typical pha", albedo: 0.15, h: 18.0, want: 0.8620},
		{name: "bright surface", albedo: 0.25, h: 20.0, want: 0.2658},
		{name: "dark surface", albedo: 0.05, h: 22.0, want: 0.2364},
		{name: "zero albedo", albedo: 0, h: 18.0, wantErr: true},
		{name: "negative albedo", albedo: -0.1, h: 18.0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiameterFromAlbedo(tt.albedo, tt.h)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DiameterFromAlbedo(%g, %g) = %g, want error", tt.albedo, tt.h, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DiameterFromAlbedo(%g, %g) unexpected error: %v", tt.albedo, tt.h, err)
			}
			if math.Abs(got-tt.want) > 1e-3 {
				t.Errorf("DiameterFromAlbedo(%g, %g) = %g, want about %g", tt.albedo, tt.h, got, tt.want)
			}
		})
	}
}

func TestDiameterFromHMatchesDefaultAlbedo(t *testing.T) {
	for _, h := range []float64{-2, 0, 12.5, 18, 22.87, 30} {
		want, err := DiameterFromAlbedo(DefaultAlbedo, h)
		if err != nil {
			t.Fatalf("DiameterFromAlbedo(%g, %g) unexpected error: %v", DefaultAlbedo, h, err)
		}
		if got := DiameterFromH(h); got != want {
			t.Errorf("DiameterFromH(%g) = %g, want %g", h, got, want)
		}
	}
}

func TestImpactEnergyMegatons(t *testing.T) {
	// 100 m body at 20 km/s: mass ~1.047e9 kg, energy ~2.094e17 J.
	got := ImpactEnergyMegatons(0.1, 20)
	if math.Abs(got-50.057) > 0.01 {
		t.Errorf("ImpactEnergyMegatons(0.1, 20) = %g, want about 50.057", got)
	}
	if cat := ImpactCategoryFromEnergy(got); cat != ImpactRegional {
		t.Errorf("ImpactCategoryFromEnergy(%g) = %q, want %q", got, cat, ImpactRegional)
	}
}

func TestImpactEnergyZeroInputs(t *testing.T) {
	tests := []struct {
		name     string
		diameter float64
		velocity float64
	}{
		{name: "zero velocity", diameter: 0.5, velocity: 0},
		{name: "zero diameter", diameter: 0, velocity: 20},
		{name: "negative diameter", diameter: -1, velocity: 20},
		{name: "negative velocity", diameter: 0.5, velocity: -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ImpactEnergyMegatons(tt.diameter, tt.velocity); got != 0 {
				t.Errorf("ImpactEnergyMegatons(%g, %g) = %g, want 0", tt.diameter, tt.velocity, got)
			}
		})
	}
}

func TestImpactCategoryFromEnergy(t *testing.T) {
	tests := []struct {
		energy float64
		want   ImpactCategory
	}{
		{0, ImpactLocal},
		{0.99, ImpactLocal},
		{1, ImpactRegional},
		{99.9, ImpactRegional},
		{100, ImpactGlobal},
		{50000, ImpactGlobal},
	}
	for _, tt := range tests {
		if got := ImpactCategoryFromEnergy(tt.energy); got != tt.want {
			t.Errorf("ImpactCategoryFromEnergy(%g) = %q, want %q", tt.energy, got, tt.want)
		}
	}
}

func TestThreatLevelFromScales(t *testing.T) {
	tests := []struct {
		name  string
		tsMax int
		psMax float64
		want  string
	}{
		{name: "torino 0 deep negative palermo", tsMax: 0, psMax: -3, want: ThreatLevelZero},
		{name: "torino 0 shallow palermo", tsMax: 0, psMax: -1, want: ThreatLevelVeryLow},
		{name: "torino 0 palermo boundary", tsMax: 0, psMax: -2, want: ThreatLevelVeryLow},
		{name: "torino 1", tsMax: 1, psMax: 0, want: ThreatLevelLow},
		{name: "torino 4", tsMax: 4, psMax: 0, want: ThreatLevelLow},
		{name: "torino 5", tsMax: 5, psMax: 0, want: ThreatLevelMedium},
		{name: "torino 6", tsMax: 6, psMax: 0, want: ThreatLevelElevated},
		{name: "torino 7", tsMax: 7, psMax: 0, want: ThreatLevelHigh},
		{name: "torino 8", tsMax: 8, psMax: 0, want: ThreatLevelCritical},
		{name: "torino 10", tsMax: 10, psMax: 0, want: ThreatLevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ThreatLevelFromScales(tt.tsMax, tt.psMax); got != tt.want {
				t.Errorf("ThreatLevelFromScales(%d, %g) = %q, want %q", tt.tsMax, tt.psMax, got, tt.want)
			}
		})
	}
}
