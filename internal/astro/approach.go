package astro

import (
	"fmt"
	"time"
)

// DefaultApproachDataSource labels rows ingested from the close-approach
// feed.
const DefaultApproachDataSource = "CloseApproach feed"

// CloseApproach is a predicted near-Earth encounter. (AsteroidID,
// ApproachTime) is the natural key; AsteroidDesignation is denormalized so
// query paths avoid a join. Records coming off the feed carry a zero
// AsteroidID until the ingest pipeline resolves the designation.
type CloseApproach struct {
	ID                  int64     `db:"id" json:"id"`
	AsteroidID          int64     `db:"asteroid_id" json:"asteroid_id"`
	ApproachTime        time.Time `db:"approach_time" json:"approach_time"`
	DistanceAU          float64   `db:"distance_au" json:"distance_au"`
	DistanceKm          float64   `db:"distance_km" json:"distance_km"`
	VelocityKmS         float64   `db:"velocity_km_s" json:"velocity_km_s"`
	AsteroidDesignation string    `db:"asteroid_designation" json:"asteroid_designation"`
	AsteroidName        *string   `db:"asteroid_name" json:"asteroid_name,omitempty"`
	DataSource          string    `db:"data_source" json:"data_source"`
	CalculationBatchID  *string   `db:"calculation_batch_id" json:"calculation_batch_id,omitempty"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// Normalize fills derivable fields: kilometers from AU when the feed
// supplied only the AU distance, and the default data source label.
func (c *CloseApproach) Normalize() {
	if c.DistanceKm == 0 && c.DistanceAU > 0 {
		c.DistanceKm = c.DistanceAU * KmPerAU
	}
	if c.DataSource == "" {
		c.DataSource = DefaultApproachDataSource
	}
	c.ApproachTime = c.ApproachTime.UTC()
}

// Validate checks the invariants the store also enforces.
func (c *CloseApproach) Validate() error {
	if c.AsteroidID <= 0 {
		return fmt.Errorf("asteroid_id is required")
	}
	if c.ApproachTime.IsZero() {
		return fmt.Errorf("approach_time is required")
	}
	if c.DistanceAU < 0 {
		return fmt.Errorf("distance_au cannot be negative (got %g)", c.DistanceAU)
	}
	if c.DistanceKm < 0 {
		return fmt.Errorf("distance_km cannot be negative (got %g)", c.DistanceKm)
	}
	if c.VelocityKmS < 0 {
		return fmt.Errorf("velocity_km_s cannot be negative (got %g)", c.VelocityKmS)
	}
	if c.AsteroidDesignation == "" {
		return fmt.Errorf("asteroid_designation is required")
	}
	if len(c.AsteroidDesignation) > MaxDesignationLen {
		return fmt.Errorf("asteroid_designation must be %d characters or less (got %d)", MaxDesignationLen, len(c.AsteroidDesignation))
	}
	if c.AsteroidName != nil && len(*c.AsteroidName) > MaxNameLen {
		return fmt.Errorf("asteroid_name must be %d characters or less (got %d)", MaxNameLen, len(*c.AsteroidName))
	}
	if c.DataSource == "" {
		return fmt.Errorf("data_source is required")
	}
	if len(c.DataSource) > MaxDataSourceLen {
		return fmt.Errorf("data_source must be %d characters or less (got %d)", MaxDataSourceLen, len(c.DataSource))
	}
	if c.CalculationBatchID != nil && len(*c.CalculationBatchID) > MaxBatchIDLen {
		return fmt.Errorf("calculation_batch_id must be %d characters or less (got %d)", MaxBatchIDLen, len(*c.CalculationBatchID))
	}
	return nil
}
