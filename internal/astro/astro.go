// Package astro defines the catalog's domain entities (Asteroid,
// CloseApproach, ThreatAssessment) and the pure derivations that tie them
// together: diameter from absolute magnitude and albedo, impact energy from
// diameter and velocity, and threat level from the Torino and Palermo
// scales.
//
// All functions here are deterministic and side-effect free. Timestamps on
// entities are UTC; normalization happens at the feed and store boundaries,
// never here.
package astro

// Physical and catalog constants.
const (
	// KmPerAU converts astronomical units to kilometers.
	KmPerAU = 149597870.7

	// PHAMOIDThresholdAU classifies a body as potentially hazardous when
	// its Earth MOID falls below it.
	PHAMOIDThresholdAU = 0.05

	// DefaultAlbedo is assumed when the upstream value is missing or
	// outside (0, 1].
	DefaultAlbedo = 0.15

	// DefaultAbsoluteMagnitude stands in for a missing H value.
	DefaultAbsoluteMagnitude = 18.0

	// asteroidDensityKgM3 is the bulk density assumed for energy
	// estimates (stony asteroid).
	asteroidDensityKgM3 = 2000.0

	// joulesPerMegaton converts kinetic energy to megatons of TNT.
	joulesPerMegaton = 4.184e15
)

// Field length limits enforced before any row reaches the store.
const (
	MaxDesignationLen = 50
	MaxNameLen        = 100
	MaxDataSourceLen  = 50
	MaxBatchIDLen     = 50
)
