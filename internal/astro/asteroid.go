package astro

import (
	"fmt"
	"time"
)

// DiameterSource records how an asteroid's diameter was obtained.
type DiameterSource string

const (
	// DiameterMeasured means the value was directly observed (radar,
	// thermal IR, occultation).
	DiameterMeasured DiameterSource = "measured"
	// DiameterComputed means upstream reported a value derived from
	// assumed physical parameters.
	DiameterComputed DiameterSource = "computed"
	// DiameterCalculated means we derived it locally from H and albedo.
	DiameterCalculated DiameterSource = "calculated"
)

// IsValid reports whether s is one of the three recognized sources.
func (s DiameterSource) IsValid() bool {
	switch s {
	case DiameterMeasured, DiameterComputed, DiameterCalculated:
		return true
	}
	return false
}

// Asteroid is a tracked small body. Designation is the upstream primary
// designation and the natural key for upserts.
type Asteroid struct {
	ID                  int64          `db:"id" json:"id"`
	Designation         string         `db:"designation" json:"designation"`
	Name                *string        `db:"name" json:"name,omitempty"`
	PerihelionAU        *float64       `db:"perihelion_au" json:"perihelion_au,omitempty"`
	AphelionAU          *float64       `db:"aphelion_au" json:"aphelion_au,omitempty"`
	EarthMOIDAU         *float64       `db:"earth_moid_au" json:"earth_moid_au,omitempty"`
	AbsoluteMagnitude   float64        `db:"absolute_magnitude" json:"absolute_magnitude"`
	EstimatedDiameterKm float64        `db:"estimated_diameter_km" json:"estimated_diameter_km"`
	AccurateDiameter    bool           `db:"accurate_diameter" json:"accurate_diameter"`
	Albedo              float64        `db:"albedo" json:"albedo"`
	DiameterSource      DiameterSource `db:"diameter_source" json:"diameter_source"`
	OrbitID             *string        `db:"orbit_id" json:"orbit_id,omitempty"`
	OrbitClass          *string        `db:"orbit_class" json:"orbit_class,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// IsPHA reports whether the asteroid qualifies as potentially hazardous:
// a known Earth MOID strictly below 0.05 AU. Unknown MOID is never
// hazardous.
func (a *Asteroid) IsPHA() bool {
	return a.EarthMOIDAU != nil && *a.EarthMOIDAU < PHAMOIDThresholdAU
}

// Normalize repairs fields that upstream data leaves missing or out of
// range, so every constructed Asteroid satisfies the catalog invariants:
// albedo in (0, 1], positive diameter, recognized diameter source.
func (a *Asteroid) Normalize() {
	if a.Albedo <= 0 || a.Albedo > 1 {
		a.Albedo = DefaultAlbedo
	}
	if !a.DiameterSource.IsValid() {
		a.DiameterSource = DiameterCalculated
	}
	if a.EstimatedDiameterKm <= 0 {
		h := a.AbsoluteMagnitude
		if h == 0 {
			h = DefaultAbsoluteMagnitude
			a.AbsoluteMagnitude = h
		}
		// Albedo is in range here, so the derivation cannot fail.
		d, _ := DiameterFromAlbedo(a.Albedo, h)
		a.EstimatedDiameterKm = d
		a.AccurateDiameter = false
		a.DiameterSource = DiameterCalculated
	}
}

// Validate checks the invariants the store also enforces, so violations
// surface as errors before SQL rather than as constraint failures.
func (a *Asteroid) Validate() error {
	if a.Designation == "" {
		return fmt.Errorf("designation is required")
	}
	if len(a.Designation) > MaxDesignationLen {
		return fmt.Errorf("designation must be %d characters or less (got %d)", MaxDesignationLen, len(a.Designation))
	}
	if a.Name != nil && len(*a.Name) > MaxNameLen {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxNameLen, len(*a.Name))
	}
	if a.EstimatedDiameterKm <= 0 {
		return fmt.Errorf("estimated_diameter_km must be positive (got %g)", a.EstimatedDiameterKm)
	}
	if a.Albedo <= 0 || a.Albedo > 1 {
		return fmt.Errorf("albedo must be in (0, 1] (got %g)", a.Albedo)
	}
	if !a.DiameterSource.IsValid() {
		return fmt.Errorf("invalid diameter source: %s", a.DiameterSource)
	}
	if a.PerihelionAU != nil && *a.PerihelionAU <= 0 {
		return fmt.Errorf("perihelion_au must be positive when set (got %g)", *a.PerihelionAU)
	}
	if a.AphelionAU != nil && *a.AphelionAU < 0 {
		return fmt.Errorf("aphelion_au cannot be negative (got %g)", *a.AphelionAU)
	}
	if a.PerihelionAU != nil && a.AphelionAU != nil && *a.AphelionAU <= *a.PerihelionAU {
		return fmt.Errorf("aphelion_au (%g) must exceed perihelion_au (%g)", *a.AphelionAU, *a.PerihelionAU)
	}
	if a.EarthMOIDAU != nil && *a.EarthMOIDAU < 0 {
		return fmt.Errorf("earth_moid_au cannot be negative (got %g)", *a.EarthMOIDAU)
	}
	return nil
}
