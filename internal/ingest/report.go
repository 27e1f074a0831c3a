package ingest

import "time"

// Run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AsteroidStats summarizes stages 1-3.
type AsteroidStats struct {
	// Total is the number of records the small-body list yielded.
	Total int `json:"total"`
	// PHACount is how many of them passed the hazard filter.
	PHACount int `json:"pha_count"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
}

// ApproachStats summarizes stages 4-6.
type ApproachStats struct {
	// Computed is the number of approach records produced by the
	// ephemeris fan-out, before designation resolution.
	Computed int `json:"computed"`
	// Saved is the number of rows written by the approach upsert.
	Saved int `json:"saved"`
	// WithThreats is the number of saved approaches whose asteroid
	// carries a threat assessment after stage 6.
	WithThreats int `json:"with_threats"`
}

// PruneStats summarizes stage 7.
type PruneStats struct {
	Past   int64 `json:"past"`
	Future int64 `json:"future"`
}

// Report is the structured result of one ingestion run.
type Report struct {
	UpdateID string `json:"update_id"`
	Status   string `json:"status"`
	// Error carries the single failure message on an aborted run.
	Error string `json:"error,omitempty"`

	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`

	Asteroids  AsteroidStats `json:"asteroids"`
	Approaches ApproachStats `json:"approaches"`
	Pruned     PruneStats    `json:"pruned"`

	// ParseErrors counts malformed upstream rows skipped during the run.
	ParseErrors int `json:"parse_errors"`

	AsteroidsPerSecond float64 `json:"asteroids_per_second"`
}

// finish stamps the terminal fields. Duration-derived rates guard
// against a zero-length run under a frozen test clock.
func (r *Report) finish(now time.Time) {
	r.FinishedAt = now.UTC()
	d := r.FinishedAt.Sub(r.StartedAt)
	r.DurationSeconds = d.Seconds()
	if d > 0 {
		r.AsteroidsPerSecond = float64(r.Asteroids.Total) / d.Seconds()
	}
}
