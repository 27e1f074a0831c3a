package store

import (
	"context"
	"fmt"
	"time"

	"github.com/perigee-sky/perigee/internal/astro"
	"github.com/perigee-sky/perigee/internal/timeutil"
)

// lookupChunkSize bounds IN-list sizes for batched key resolution.
const lookupChunkSize = 500

func columnSet(cols []string) map[string]bool {
	set := make(map[string]bool, len(cols)+1)
	set["id"] = true
	for _, c := range cols {
		set[c] = true
	}
	return set
}

var asteroidColumns = []string{
	"designation", "name", "perihelion_au", "aphelion_au", "earth_moid_au",
	"absolute_magnitude", "estimated_diameter_km", "accurate_diameter",
	"albedo", "diameter_source", "orbit_id", "orbit_class",
	"created_at", "updated_at",
}

func asteroidMeta() *meta[astro.Asteroid] {
	return &meta[astro.Asteroid]{
		table:      "asteroids",
		columns:    asteroidColumns,
		conflict:   []string{"designation"},
		filterable: columnSet(asteroidColumns),
		values: func(a *astro.Asteroid) map[string]any {
			return map[string]any{
				"designation":           a.Designation,
				"name":                  a.Name,
				"perihelion_au":         a.PerihelionAU,
				"aphelion_au":           a.AphelionAU,
				"earth_moid_au":         a.EarthMOIDAU,
				"absolute_magnitude":    a.AbsoluteMagnitude,
				"estimated_diameter_km": a.EstimatedDiameterKm,
				"accurate_diameter":     a.AccurateDiameter,
				"albedo":                a.Albedo,
				"diameter_source":       a.DiameterSource,
				"orbit_id":              a.OrbitID,
				"orbit_class":           a.OrbitClass,
				"created_at":            a.CreatedAt,
				"updated_at":            a.UpdatedAt,
			}
		},
		conflictKey: func(a *astro.Asteroid) string { return a.Designation },
		setID:       func(a *astro.Asteroid, id int64) { a.ID = id },
		stamp: func(a *astro.Asteroid, created, updated time.Time) {
			a.CreatedAt, a.UpdatedAt = created, updated
		},
		validate: func(a *astro.Asteroid) error { return a.Validate() },
	}
}

var approachColumns = []string{
	"asteroid_id", "approach_time", "distance_au", "distance_km",
	"velocity_km_s", "asteroid_designation", "asteroid_name",
	"data_source", "calculation_batch_id", "created_at", "updated_at",
}

func approachMeta() *meta[astro.CloseApproach] {
	return &meta[astro.CloseApproach]{
		table:      "close_approaches",
		columns:    approachColumns,
		conflict:   []string{"asteroid_id", "approach_time"},
		filterable: columnSet(approachColumns),
		values: func(c *astro.CloseApproach) map[string]any {
			return map[string]any{
				"asteroid_id":          c.AsteroidID,
				"approach_time":        timeutil.ToUTC(c.ApproachTime),
				"distance_au":          c.DistanceAU,
				"distance_km":          c.DistanceKm,
				"velocity_km_s":        c.VelocityKmS,
				"asteroid_designation": c.AsteroidDesignation,
				"asteroid_name":        c.AsteroidName,
				"data_source":          c.DataSource,
				"calculation_batch_id": c.CalculationBatchID,
				"created_at":           c.CreatedAt,
				"updated_at":           c.UpdatedAt,
			}
		},
		conflictKey: func(c *astro.CloseApproach) string {
			return fmt.Sprintf("%d|%s", c.AsteroidID, timeutil.ToUTC(c.ApproachTime).Format(time.RFC3339))
		},
		setID: func(c *astro.CloseApproach, id int64) { c.ID = id },
		stamp: func(c *astro.CloseApproach, created, updated time.Time) {
			c.CreatedAt, c.UpdatedAt = created, updated
		},
		validate: func(c *astro.CloseApproach) error { return c.Validate() },
	}
}

var threatColumns = []string{
	"asteroid_id", "designation", "fullname", "ip", "ts_max", "ps_max",
	"diameter", "v_inf", "h", "n_imp", "impact_years", "last_obs",
	"threat_level", "energy_megatons", "impact_category",
	"created_at", "updated_at",
}

func threatMeta() *meta[astro.ThreatAssessment] {
	return &meta[astro.ThreatAssessment]{
		table:      "threat_assessments",
		columns:    threatColumns,
		conflict:   []string{"asteroid_id"},
		filterable: columnSet(threatColumns),
		values: func(t *astro.ThreatAssessment) map[string]any {
			return map[string]any{
				"asteroid_id":     t.AsteroidID,
				"designation":     t.Designation,
				"fullname":        t.Fullname,
				"ip":              t.IP,
				"ts_max":          t.TSMax,
				"ps_max":          t.PSMax,
				"diameter":        t.Diameter,
				"v_inf":           t.VInf,
				"h":               t.H,
				"n_imp":           t.NImp,
				"impact_years":    t.ImpactYears,
				"last_obs":        t.LastObs,
				"threat_level":    t.ThreatLevel,
				"energy_megatons": t.EnergyMegatons,
				"impact_category": t.ImpactCategory,
				"created_at":      t.CreatedAt,
				"updated_at":      t.UpdatedAt,
			}
		},
		conflictKey: func(t *astro.ThreatAssessment) string { return fmt.Sprint(t.AsteroidID) },
		setID:       func(t *astro.ThreatAssessment, id int64) { t.ID = id },
		stamp: func(t *astro.ThreatAssessment, created, updated time.Time) {
			t.CreatedAt, t.UpdatedAt = created, updated
		},
		validate: func(t *astro.ThreatAssessment) error { return t.Validate() },
	}
}

// AsteroidRepo persists Asteroid rows.
type AsteroidRepo struct {
	*Repo[astro.Asteroid]
}

// GetByDesignation fetches one asteroid by its natural key.
func (r *AsteroidRepo) GetByDesignation(ctx context.Context, designation string) (*astro.Asteroid, error) {
	return r.FindByFields(ctx, map[string]any{"designation": designation})
}

// ResolveDesignations maps designations to asteroid ids in one batched
// lookup, chunked to keep IN lists bounded. Unknown designations are
// simply absent from the result.
func (r *AsteroidRepo) ResolveDesignations(ctx context.Context, designations []string) (map[string]int64, error) {
	s, err := r.sess()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(designations))
	for start := 0; start < len(designations); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(designations))
		chunk := designations[start:end]

		args := make([]any, len(chunk))
		for i, d := range chunk {
			args[i] = d
		}
		query := fmt.Sprintf("SELECT id, designation FROM asteroids WHERE designation IN (%s)",
			placeholders(len(chunk)))
		rows, err := s.tx.QueryContext(ctx, s.rebind(query), args...)
		if err != nil {
			return nil, fmt.Errorf("resolving designations: %w", err)
		}
		for rows.Next() {
			var id int64
			var des string
			if err := rows.Scan(&id, &des); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning designation row: %w", err)
			}
			ids[des] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("resolving designations: %w", err)
		}
		rows.Close()
	}
	return ids, nil
}

// ApproachRepo persists CloseApproach rows.
type ApproachRepo struct {
	*Repo[astro.CloseApproach]
}

// DeleteEarlierThan prunes approaches before cutoff and reports the count.
func (r *ApproachRepo) DeleteEarlierThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.BulkDelete(ctx, map[string]any{"approach_time__lt": cutoff})
}

// DeleteLaterThan prunes approaches after cutoff and reports the count.
func (r *ApproachRepo) DeleteLaterThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.BulkDelete(ctx, map[string]any{"approach_time__gt": cutoff})
}

// ThreatRepo persists ThreatAssessment rows.
type ThreatRepo struct {
	*Repo[astro.ThreatAssessment]
}

// GetByDesignation fetches one assessment by designation.
func (r *ThreatRepo) GetByDesignation(ctx context.Context, designation string) (*astro.ThreatAssessment, error) {
	return r.FindByFields(ctx, map[string]any{"designation": designation})
}

// ExistingAsteroidIDs reports which of the given asteroid ids already
// carry an assessment.
func (r *ThreatRepo) ExistingAsteroidIDs(ctx context.Context, asteroidIDs []int64) (map[int64]bool, error) {
	s, err := r.sess()
	if err != nil {
		return nil, err
	}
	existing := make(map[int64]bool, len(asteroidIDs))
	for start := 0; start < len(asteroidIDs); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(asteroidIDs))
		chunk := asteroidIDs[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf("SELECT asteroid_id FROM threat_assessments WHERE asteroid_id IN (%s)",
			placeholders(len(chunk)))
		rows, err := s.tx.QueryContext(ctx, s.rebind(query), args...)
		if err != nil {
			return nil, fmt.Errorf("resolving existing assessments: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning assessment row: %w", err)
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("resolving existing assessments: %w", err)
		}
		rows.Close()
	}
	return existing, nil
}
