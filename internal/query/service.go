// Package query holds the read side of the catalog: thin services that
// open a unit of work, run repository queries, and convert rows into
// plain DTOs with RFC 3339 UTC timestamps. No business logic lives here
// beyond pagination, field selection, and an optional Redis read-through
// cache.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/perigee-sky/perigee/internal/astro"
	"github.com/perigee-sky/perigee/internal/store"
)

// DefaultPageSize caps list results when the caller gives no limit.
const DefaultPageSize = 50

// Service answers catalog read queries. Safe for concurrent use.
type Service struct {
	db     *store.DB
	cache  *Cache
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds the read service. cache may be nil; reads then always
// hit the database.
func NewService(db *store.DB, cache *Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, cache: cache, logger: logger, now: time.Now}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ListOptions shapes a catalog listing.
type ListOptions struct {
	// Filters uses the repository condition grammar (field or
	// field__op keys).
	Filters map[string]any
	// Search, when set, overrides Filters with a case-insensitive
	// substring match over designation and name.
	Search    string
	Skip      int
	Limit     int
	OrderBy   string
	OrderDesc bool
}

func (o *ListOptions) normalize() {
	if o.Limit <= 0 {
		o.Limit = DefaultPageSize
	}
	if o.Skip < 0 {
		o.Skip = 0
	}
}

// ListAsteroids pages through the catalog.
func (s *Service) ListAsteroids(ctx context.Context, opts ListOptions) ([]AsteroidDTO, error) {
	opts.normalize()

	var rows []astro.Asteroid
	err := store.RunInUnitOfWork(ctx, s.db, func(uow *store.UnitOfWork) error {
		var err error
		if opts.Search != "" {
			rows, err = uow.Asteroids().Search(ctx, opts.Search,
				[]string{"designation", "name"}, opts.Skip, opts.Limit)
		} else {
			rows, err = uow.Asteroids().Filter(ctx, opts.Filters,
				opts.Skip, opts.Limit, opts.OrderBy, opts.OrderDesc)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing asteroids: %w", err)
	}

	out := make([]AsteroidDTO, len(rows))
	for i := range rows {
		out[i] = asteroidDTO(&rows[i])
	}
	return out, nil
}

// GetAsteroid fetches one asteroid by designation. A missing asteroid
// returns (nil, nil), not an error.
func (s *Service) GetAsteroid(ctx context.Context, designation string) (*AsteroidDTO, error) {
	return cached(ctx, s.cache, "asteroid:"+designation, func() (*AsteroidDTO, error) {
		var dto *AsteroidDTO
		err := store.RunInUnitOfWork(ctx, s.db, func(uow *store.UnitOfWork) error {
			a, err := uow.Asteroids().GetByDesignation(ctx, designation)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			d := asteroidDTO(a)
			dto = &d
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("fetching asteroid %s: %w", designation, err)
		}
		return dto, nil
	})
}

// UpcomingApproaches returns approaches inside the window [now, now+within],
// nearest first.
func (s *Service) UpcomingApproaches(ctx context.Context, within time.Duration, limit int) ([]ApproachDTO, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	now := s.now().UTC()
	conditions := map[string]any{
		"approach_time__ge": now,
		"approach_time__le": now.Add(within),
	}

	var rows []astro.CloseApproach
	err := store.RunInUnitOfWork(ctx, s.db, func(uow *store.UnitOfWork) error {
		var err error
		rows, err = uow.Approaches().Filter(ctx, conditions, 0, limit, "approach_time", false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing upcoming approaches: %w", err)
	}

	out := make([]ApproachDTO, len(rows))
	for i := range rows {
		out[i] = approachDTO(&rows[i])
	}
	return out, nil
}

// ApproachesForAsteroid returns every stored approach of one asteroid in
// time order. An unknown designation returns an empty slice.
func (s *Service) ApproachesForAsteroid(ctx context.Context, designation string) ([]ApproachDTO, error) {
	var rows []astro.CloseApproach
	err := store.RunInUnitOfWork(ctx, s.db, func(uow *store.UnitOfWork) error {
		var err error
		rows, err = uow.Approaches().Filter(ctx,
			map[string]any{"asteroid_designation": designation},
			0, 0, "approach_time", false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing approaches for %s: %w", designation, err)
	}

	out := make([]ApproachDTO, len(rows))
	for i := range rows {
		out[i] = approachDTO(&rows[i])
	}
	return out, nil
}

// threatLevels orders the derived threat levels from benign to critical,
// for minimum-level filtering.
var threatLevels = []string{
	astro.ThreatLevelZero,
	astro.ThreatLevelVeryLow,
	astro.ThreatLevelLow,
	astro.ThreatLevelMedium,
	astro.ThreatLevelElevated,
	astro.ThreatLevelHigh,
	astro.ThreatLevelCritical,
}

// levelsAtOrAbove lists the levels ranking at least min. An unknown min
// means no filtering.
func levelsAtOrAbove(min string) []string {
	for i, level := range threatLevels {
		if level == min {
			return threatLevels[i:]
		}
	}
	return nil
}

// ListThreats pages through assessments, most hazardous first (Palermo
// scale descending). minLevel, when recognized, drops everything below it.
func (s *Service) ListThreats(ctx context.Context, minLevel string, skip, limit int) ([]ThreatDTO, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var conditions map[string]any
	if levels := levelsAtOrAbove(minLevel); levels != nil {
		conditions = map[string]any{"threat_level__in": levels}
	}

	var rows []astro.ThreatAssessment
	err := store.RunInUnitOfWork(ctx, s.db, func(uow *store.UnitOfWork) error {
		var err error
		rows, err = uow.Threats().Filter(ctx, conditions, skip, limit, "ps_max", true)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing threats: %w", err)
	}

	out := make([]ThreatDTO, len(rows))
	for i := range rows {
		out[i] = threatDTO(&rows[i])
	}
	return out, nil
}

// GetThreatByDesignation fetches one assessment. A missing assessment
// returns (nil, nil).
func (s *Service) GetThreatByDesignation(ctx context.Context, designation string) (*ThreatDTO, error) {
	return cached(ctx, s.cache, "threat:"+designation, func() (*ThreatDTO, error) {
		var dto *ThreatDTO
		err := store.RunInUnitOfWork(ctx, s.db, func(uow *store.UnitOfWork) error {
			t, err := uow.Threats().GetByDesignation(ctx, designation)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			d := threatDTO(t)
			dto = &d
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("fetching threat %s: %w", designation, err)
		}
		return dto, nil
	})
}

// CatalogStats reports row counts across the catalog.
func (s *Service) CatalogStats(ctx context.Context) (*Stats, error) {
	return cached(ctx, s.cache, "stats", func() (*Stats, error) {
		stats := &Stats{}
		err := store.RunInUnitOfWork(ctx, s.db, func(uow *store.UnitOfWork) error {
			var err error
			if stats.Asteroids, err = uow.Asteroids().Count(ctx); err != nil {
				return err
			}
			if stats.Approaches, err = uow.Approaches().Count(ctx); err != nil {
				return err
			}
			stats.Threats, err = uow.Threats().Count(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("computing catalog stats: %w", err)
		}
		stats.GeneratedAt = s.now().UTC().Format(time.RFC3339)
		return stats, nil
	})
}
