package astro

import (
	"fmt"
	"math"
)

// DiameterFromAlbedo estimates a diameter in kilometers from geometric
// albedo and absolute magnitude using the standard photometric relation
//
//	D = 1329 / sqrt(albedo) * 10^(-H/5)
//
// It fails when albedo is not positive.
func DiameterFromAlbedo(albedo, h float64) (float64, error) {
	if albedo <= 0 {
		return 0, fmt.Errorf("albedo must be positive (got %g)", albedo)
	}
	return 1329.0 / math.Sqrt(albedo) * math.Pow(10, -0.2*h), nil
}

// DiameterFromH estimates a diameter in kilometers from absolute
// magnitude alone, assuming the default albedo.
func DiameterFromH(h float64) float64 {
	d, _ := DiameterFromAlbedo(DefaultAlbedo, h)
	return d
}

// ImpactEnergyMegatons estimates the kinetic energy released by an
// impactor of the given diameter (km) arriving at the given velocity
// (km/s), in megatons of TNT. The body is modeled as a sphere of density
// 2000 kg/m3. Non-positive diameter or velocity yields zero.
func ImpactEnergyMegatons(diameterKm, velocityKmS float64) float64 {
	if diameterKm <= 0 || velocityKmS <= 0 {
		return 0
	}
	radiusM := diameterKm * 1000 / 2
	volumeM3 := 4.0 / 3.0 * math.Pi * math.Pow(radiusM, 3)
	massKg := asteroidDensityKgM3 * volumeM3
	velocityMS := velocityKmS * 1000
	joules := 0.5 * massKg * velocityMS * velocityMS
	return joules / joulesPerMegaton
}

// ImpactCategoryFromEnergy buckets an impact energy: below 1 Mt local,
// below 100 Mt regional, otherwise global.
func ImpactCategoryFromEnergy(energyMt float64) ImpactCategory {
	switch {
	case energyMt < 1:
		return ImpactLocal
	case energyMt < 100:
		return ImpactRegional
	default:
		return ImpactGlobal
	}
}

// ThreatLevelFromScales maps the Torino-scale peak (with the Palermo-scale
// peak as tie-breaker at Torino 0) to a level name.
func ThreatLevelFromScales(tsMax int, psMax float64) string {
	switch {
	case tsMax <= 0:
		if psMax < -2 {
			return ThreatLevelZero
		}
		return ThreatLevelVeryLow
	case tsMax <= 4:
		return ThreatLevelLow
	case tsMax == 5:
		return ThreatLevelMedium
	case tsMax == 6:
		return ThreatLevelElevated
	case tsMax == 7:
		return ThreatLevelHigh
	default:
		return ThreatLevelCritical
	}
}
