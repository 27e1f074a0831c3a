package query

import (
	"github.com/perigee-sky/perigee/internal/astro"
	"github.com/perigee-sky/perigee/internal/timeutil"
)

// AsteroidDTO is the outbound asteroid shape. Timestamps are RFC 3339
// strings in UTC.
type AsteroidDTO struct {
	ID                  int64    `json:"id"`
	Designation         string   `json:"designation"`
	Name                *string  `json:"name,omitempty"`
	PerihelionAU        *float64 `json:"perihelion_au,omitempty"`
	AphelionAU          *float64 `json:"aphelion_au,omitempty"`
	EarthMOIDAU         *float64 `json:"earth_moid_au,omitempty"`
	AbsoluteMagnitude   float64  `json:"absolute_magnitude"`
	EstimatedDiameterKm float64  `json:"estimated_diameter_km"`
	AccurateDiameter    bool     `json:"accurate_diameter"`
	Albedo              float64  `json:"albedo"`
	DiameterSource      string   `json:"diameter_source"`
	OrbitID             *string  `json:"orbit_id,omitempty"`
	OrbitClass          *string  `json:"orbit_class,omitempty"`
	PotentiallyHazardous bool    `json:"potentially_hazardous"`
	CreatedAt           string   `json:"created_at"`
	UpdatedAt           string   `json:"updated_at"`
}

func asteroidDTO(a *astro.Asteroid) AsteroidDTO {
	return AsteroidDTO{
		ID:                   a.ID,
		Designation:          a.Designation,
		Name:                 a.Name,
		PerihelionAU:         a.PerihelionAU,
		AphelionAU:           a.AphelionAU,
		EarthMOIDAU:          a.EarthMOIDAU,
		AbsoluteMagnitude:    a.AbsoluteMagnitude,
		EstimatedDiameterKm:  a.EstimatedDiameterKm,
		AccurateDiameter:     a.AccurateDiameter,
		Albedo:               a.Albedo,
		DiameterSource:       string(a.DiameterSource),
		OrbitID:              a.OrbitID,
		OrbitClass:           a.OrbitClass,
		PotentiallyHazardous: a.IsPHA(),
		CreatedAt:            timeutil.AtBoundary(a.CreatedAt),
		UpdatedAt:            timeutil.AtBoundary(a.UpdatedAt),
	}
}

// ApproachDTO is the outbound close-approach shape.
type ApproachDTO struct {
	ID                  int64   `json:"id"`
	AsteroidID          int64   `json:"asteroid_id"`
	AsteroidDesignation string  `json:"asteroid_designation"`
	AsteroidName        *string `json:"asteroid_name,omitempty"`
	ApproachTime        string  `json:"approach_time"`
	DistanceAU          float64 `json:"distance_au"`
	DistanceKm          float64 `json:"distance_km"`
	DistanceLunar       float64 `json:"distance_lunar"`
	VelocityKmS         float64 `json:"velocity_km_s"`
	DataSource          string  `json:"data_source"`
}

// kmPerLunarDistance converts kilometers to lunar distances for display.
const kmPerLunarDistance = 384400.0

func approachDTO(c *astro.CloseApproach) ApproachDTO {
	return ApproachDTO{
		ID:                  c.ID,
		AsteroidID:          c.AsteroidID,
		AsteroidDesignation: c.AsteroidDesignation,
		AsteroidName:        c.AsteroidName,
		ApproachTime:        timeutil.AtBoundary(c.ApproachTime),
		DistanceAU:          c.DistanceAU,
		DistanceKm:          c.DistanceKm,
		DistanceLunar:       c.DistanceKm / kmPerLunarDistance,
		VelocityKmS:         c.VelocityKmS,
		DataSource:          c.DataSource,
	}
}

// ThreatDTO is the outbound threat-assessment shape.
type ThreatDTO struct {
	ID             int64   `json:"id"`
	AsteroidID     int64   `json:"asteroid_id"`
	Designation    string  `json:"designation"`
	Fullname       string  `json:"fullname"`
	IP             float64 `json:"ip"`
	TSMax          int     `json:"ts_max"`
	PSMax          float64 `json:"ps_max"`
	Diameter       float64 `json:"diameter"`
	VInf           float64 `json:"v_inf"`
	H              float64 `json:"h"`
	NImp           int     `json:"n_imp"`
	ImpactYears    []int   `json:"impact_years,omitempty"`
	LastObs        string  `json:"last_obs,omitempty"`
	ThreatLevel    string  `json:"threat_level"`
	EnergyMegatons float64 `json:"energy_megatons"`
	ImpactCategory string  `json:"impact_category"`
	UpdatedAt      string  `json:"updated_at"`
}

func threatDTO(t *astro.ThreatAssessment) ThreatDTO {
	return ThreatDTO{
		ID:             t.ID,
		AsteroidID:     t.AsteroidID,
		Designation:    t.Designation,
		Fullname:       t.Fullname,
		IP:             t.IP,
		TSMax:          t.TSMax,
		PSMax:          t.PSMax,
		Diameter:       t.Diameter,
		VInf:           t.VInf,
		H:              t.H,
		NImp:           t.NImp,
		ImpactYears:    t.ImpactYears,
		LastObs:        t.LastObs,
		ThreatLevel:    t.ThreatLevel,
		EnergyMegatons: t.EnergyMegatons,
		ImpactCategory: string(t.ImpactCategory),
		UpdatedAt:      timeutil.AtBoundary(t.UpdatedAt),
	}
}

// Stats is the catalog summary.
type Stats struct {
	Asteroids   int64  `json:"asteroids"`
	Approaches  int64  `json:"approaches"`
	Threats     int64  `json:"threats"`
	GeneratedAt string `json:"generated_at"`
}
