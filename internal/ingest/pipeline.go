// Package ingest drives the daily catalog update: fetch the hazardous
// small-body list, filter to potentially hazardous asteroids, upsert them,
// fan out per-asteroid ephemeris lookups, upsert the resulting close
// approaches, attach threat assessments, and prune stale approach rows.
//
// One Pipeline serves the whole process lifetime. Runs are single-flight:
// a second Run while one is in progress fails fast with ErrRunInProgress.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perigee-sky/perigee/internal/astro"
	"github.com/perigee-sky/perigee/internal/config"
	"github.com/perigee-sky/perigee/internal/feeds"
	"github.com/perigee-sky/perigee/internal/store"
	"github.com/perigee-sky/perigee/internal/telemetry"
	"github.com/perigee-sky/perigee/internal/timeutil"
)

// ErrRunInProgress reports that an update is already running; runs are
// never overlapped.
var ErrRunInProgress = errors.New("ingest: update already in progress")

// runIDLayout formats the run id timestamp (UTC, second precision).
const runIDLayout = "20060102T150405Z"

// Clients bundles the three upstream feed clients the pipeline needs.
type Clients struct {
	SmallBody     *feeds.SmallBodyClient
	CloseApproach *feeds.CloseApproachClient
	ImpactRisk    *feeds.ImpactRiskClient
}

// Pipeline executes ingestion runs against one catalog database.
type Pipeline struct {
	db      *store.DB
	clients Clients
	logger  *zap.Logger
	metrics *telemetry.PipelineMetrics
	now     func() time.Time

	// running enforces single-flight; optsMu guards live re-tuning by
	// the daemon between runs.
	running sync.Mutex
	optsMu  sync.RWMutex
	opts    config.IngestConfig
}

// New builds a pipeline. The clients and database are owned by the
// caller; the pipeline only borrows them per run.
func New(db *store.DB, clients Clients, opts config.IngestConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		db:      db,
		clients: clients,
		logger:  logger,
		metrics: telemetry.NewPipelineMetrics(),
		now:     time.Now,
		opts:    opts,
	}
}

// SetOptions replaces the tunables for subsequent runs. The run in
// progress, if any, keeps its snapshot.
func (p *Pipeline) SetOptions(opts config.IngestConfig) {
	p.optsMu.Lock()
	p.opts = opts
	p.optsMu.Unlock()
}

// SetClock overrides the pipeline clock. Test hook.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Run executes one full update and returns its report. The report
// carries the outcome; the error return is non-nil only for
// ErrRunInProgress. A failure in stages 1-6 aborts the run with an
// error report; pruning runs in independent transactions and never
// undoes earlier stages.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if !p.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()

	p.optsMu.RLock()
	opts := p.opts
	p.optsMu.RUnlock()

	start := p.now().UTC()
	report := &Report{
		UpdateID:  "update_" + start.Format(runIDLayout),
		Status:    StatusSuccess,
		StartedAt: start,
	}
	logger := p.logger.With(zap.String("run_id", report.UpdateID))
	logger.Info("ingestion run started")

	ctx, span := p.metrics.StartRun(ctx, report.UpdateID)
	err := p.run(ctx, logger, opts, report)
	if err != nil {
		report.Status = StatusError
		report.Error = err.Error()
	}
	report.finish(p.now())
	p.metrics.EndRun(ctx, span, report.Status, err)

	if err != nil {
		logger.Error("ingestion run failed",
			zap.String("error", report.Error),
			zap.Float64("duration_s", report.DurationSeconds))
	} else {
		logger.Info("ingestion run finished",
			zap.Int("asteroids_total", report.Asteroids.Total),
			zap.Int("pha_count", report.Asteroids.PHACount),
			zap.Int("asteroids_created", report.Asteroids.Created),
			zap.Int("asteroids_updated", report.Asteroids.Updated),
			zap.Int("approaches_saved", report.Approaches.Saved),
			zap.Int64("pruned_past", report.Pruned.Past),
			zap.Int64("pruned_future", report.Pruned.Future),
			zap.Int("parse_errors", report.ParseErrors),
			zap.Float64("duration_s", report.DurationSeconds))
	}
	return report, nil
}

// run drives stages 1-7. Stage 8 (the report) is assembled by Run.
func (p *Pipeline) run(ctx context.Context, logger *zap.Logger, opts config.IngestConfig, report *Report) error {
	// Stage 1: fetch the hazardous small-body list.
	var records []astro.Asteroid
	err := p.stage(ctx, "fetch_smallbody", func(ctx context.Context) error {
		session := p.clients.SmallBody.Acquire()
		defer session.Close()
		var err error
		records, err = session.FetchHazardous(ctx, opts.ListLimit)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetching small-body list: %w", err)
	}
	report.Asteroids.Total = len(records)
	p.metrics.Fetched(ctx, "smallbody", len(records))
	if len(records) == 0 {
		logger.Info("small-body list empty, nothing to ingest")
		return nil
	}

	// Stage 2: keep the potentially hazardous ones.
	pha := records[:0:0]
	for _, a := range records {
		if a.IsPHA() {
			pha = append(pha, a)
		}
	}
	report.Asteroids.PHACount = len(pha)
	if len(pha) == 0 {
		logger.Info("no potentially hazardous asteroids in list",
			zap.Int("total", len(records)))
		return nil
	}

	// Stage 3: upsert asteroids.
	err = p.stage(ctx, "upsert_asteroids", func(ctx context.Context) error {
		return store.RunInUnitOfWork(ctx, p.db, func(uow *store.UnitOfWork) error {
			result, err := uow.Asteroids().BulkUpsert(ctx, pha, store.ConflictUpdate)
			if err != nil {
				return err
			}
			report.Asteroids.Created = result.Created
			report.Asteroids.Updated = result.Updated
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("upserting asteroids: %w", err)
	}
	p.metrics.Upserted(ctx, "asteroids", "created", report.Asteroids.Created)
	p.metrics.Upserted(ctx, "asteroids", "updated", report.Asteroids.Updated)

	// Stage 4: per-asteroid ephemeris fan-out, capped per run.
	targets := pha
	if len(targets) > opts.MaxAsteroidsPerRun {
		targets = targets[:opts.MaxAsteroidsPerRun]
	}
	var approaches []astro.CloseApproach
	err = p.stage(ctx, "compute_approaches", func(ctx context.Context) error {
		var err error
		approaches, err = p.computeApproaches(ctx, logger, opts, targets, report)
		return err
	})
	if err != nil {
		return fmt.Errorf("computing approaches: %w", err)
	}
	report.Approaches.Computed = len(approaches)
	p.metrics.Fetched(ctx, "closeapproach", len(approaches))

	// Stage 5: resolve designations and upsert approaches.
	var resolved []astro.CloseApproach
	if len(approaches) > 0 {
		err = p.stage(ctx, "upsert_approaches", func(ctx context.Context) error {
			var err error
			resolved, err = p.saveApproaches(ctx, logger, report, approaches)
			return err
		})
		if err != nil {
			return fmt.Errorf("upserting approaches: %w", err)
		}
	}

	// Stage 6: attach threat assessments.
	if len(resolved) > 0 {
		err = p.stage(ctx, "upsert_threats", func(ctx context.Context) error {
			return p.saveThreats(ctx, logger, opts, report, pha, resolved)
		})
		if err != nil {
			return fmt.Errorf("upserting threats: %w", err)
		}
	}

	// Stage 7: prune, each horizon in its own transaction so a failed
	// prune never rolls back the ingested data.
	p.prune(ctx, logger, opts, report)
	return nil
}

// stage wraps one pipeline stage in a span and duration metric.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.metrics.StartStage(ctx, name)
	start := time.Now()
	err := fn(ctx)
	p.metrics.StageDone(ctx, span, name, time.Since(start).Seconds())
	return err
}

// workerOutput is one worker's accumulated stage 4 result.
type workerOutput struct {
	approaches  []astro.CloseApproach
	parseErrors int
	failed      int
}

// computeApproaches fans the ephemeris lookups out over a bounded worker
// pool. Each worker holds one feed session, honors the minimum inter-call
// delay, and degrades per-asteroid failures to a skip; only cancellation
// aborts the stage.
func (p *Pipeline) computeApproaches(ctx context.Context, logger *zap.Logger, opts config.IngestConfig, targets []astro.Asteroid, report *Report) ([]astro.CloseApproach, error) {
	now := p.now().UTC()
	window := feeds.Window{
		Start: now,
		End:   now.AddDate(0, 0, opts.ApproachWindowDays),
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	jobs := make(chan string)
	results := make(chan workerOutput, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			session := p.clients.CloseApproach.Acquire()
			defer session.Close()

			var out workerOutput
			first := true
			for designation := range jobs {
				if !first {
					if err := timeutil.Sleep(gctx, opts.WorkerDelay); err != nil {
						return err
					}
				}
				first = false

				fetch, err := session.FetchApproaches(gctx, []string{designation}, window, opts.MaxDistanceAU)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("approach lookup failed, skipping asteroid",
						zap.String("designation", designation),
						zap.String("kind", string(feeds.KindOf(err))),
						zap.Error(err))
					out.failed++
					continue
				}
				out.parseErrors += fetch.ParseErrors
				out.approaches = append(out.approaches, fetch.ByDesignation[designation]...)
			}
			results <- out
			return nil
		})
	}

	go func() {
		defer close(jobs)
		for _, a := range targets {
			select {
			case jobs <- a.Designation:
			case <-gctx.Done():
				return
			}
		}
	}()

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	var approaches []astro.CloseApproach
	failed := 0
	for out := range results {
		approaches = append(approaches, out.approaches...)
		report.ParseErrors += out.parseErrors
		p.metrics.ParseErrors(ctx, "closeapproach", out.parseErrors)
		failed += out.failed
	}
	if failed > 0 {
		logger.Warn("some approach lookups failed",
			zap.Int("failed", failed),
			zap.Int("targets", len(targets)))
	}
	return approaches, nil
}

// saveApproaches resolves designations to asteroid ids, stamps the batch
// id, and upserts in one transaction. Approaches whose asteroid is
// unknown are skipped, not fabricated.
func (p *Pipeline) saveApproaches(ctx context.Context, logger *zap.Logger, report *Report, approaches []astro.CloseApproach) ([]astro.CloseApproach, error) {
	designations := make([]string, 0, len(approaches))
	seen := make(map[string]bool, len(approaches))
	for _, c := range approaches {
		if !seen[c.AsteroidDesignation] {
			seen[c.AsteroidDesignation] = true
			designations = append(designations, c.AsteroidDesignation)
		}
	}

	batchID := report.UpdateID
	var resolved []astro.CloseApproach
	skipped := 0

	err := store.RunInUnitOfWork(ctx, p.db, func(uow *store.UnitOfWork) error {
		ids, err := uow.Asteroids().ResolveDesignations(ctx, designations)
		if err != nil {
			return err
		}

		resolved = make([]astro.CloseApproach, 0, len(approaches))
		for _, c := range approaches {
			id, ok := ids[c.AsteroidDesignation]
			if !ok {
				skipped++
				continue
			}
			c.AsteroidID = id
			c.CalculationBatchID = &batchID
			resolved = append(resolved, c)
		}

		result, err := uow.Approaches().BulkUpsert(ctx, resolved, store.ConflictUpdate)
		if err != nil {
			return err
		}
		report.Approaches.Saved = result.Created + result.Updated
		p.metrics.Upserted(ctx, "close_approaches", "created", result.Created)
		p.metrics.Upserted(ctx, "close_approaches", "updated", result.Updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		logger.Warn("skipped approaches for unknown asteroids", zap.Int("skipped", skipped))
	}
	return resolved, nil
}

// saveThreats gives every approached asteroid a threat assessment. The
// impact-risk feed is fetched once per run; asteroids it does not monitor
// get a locally derived record (energy from diameter and approach
// velocity, zero impact probability). The feed being down degrades to
// local derivation for everyone.
func (p *Pipeline) saveThreats(ctx context.Context, logger *zap.Logger, opts config.IngestConfig, report *Report, pha []astro.Asteroid, resolved []astro.CloseApproach) error {
	monitored := p.fetchThreatIndex(ctx, logger)

	byDesignation := make(map[string]*astro.Asteroid, len(pha))
	for i := range pha {
		byDesignation[pha[i].Designation] = &pha[i]
	}

	// One candidate per asteroid, carrying the fastest observed approach.
	type candidate struct {
		designation string
		velocity    float64
	}
	candidates := make(map[int64]*candidate)
	order := make([]int64, 0, len(resolved))
	for _, c := range resolved {
		if cur, ok := candidates[c.AsteroidID]; ok {
			if c.VelocityKmS > cur.velocity {
				cur.velocity = c.VelocityKmS
			}
			continue
		}
		candidates[c.AsteroidID] = &candidate{designation: c.AsteroidDesignation, velocity: c.VelocityKmS}
		order = append(order, c.AsteroidID)
	}

	return store.RunInUnitOfWork(ctx, p.db, func(uow *store.UnitOfWork) error {
		existing, err := uow.Threats().ExistingAsteroidIDs(ctx, order)
		if err != nil {
			return err
		}

		threats := make([]astro.ThreatAssessment, 0, len(order))
		covered := make(map[int64]bool, len(order))
		for _, id := range order {
			if existing[id] {
				covered[id] = true
				continue
			}
			cand := candidates[id]
			threat := p.buildThreat(id, cand.designation, cand.velocity, monitored, byDesignation)
			threats = append(threats, threat)
			covered[id] = true
		}

		chunk := opts.ThreatChunkSize
		if chunk <= 0 {
			chunk = 100
		}
		upserted := 0
		for start := 0; start < len(threats); start += chunk {
			end := min(start+chunk, len(threats))
			result, err := uow.Threats().BulkUpsert(ctx, threats[start:end], store.ConflictUpdate)
			if err != nil {
				return err
			}
			upserted += result.Created + result.Updated
		}
		p.metrics.Upserted(ctx, "threat_assessments", "created", upserted)

		for _, c := range resolved {
			if covered[c.AsteroidID] {
				report.Approaches.WithThreats++
			}
		}
		logger.Info("threat assessments attached",
			zap.Int("new", len(threats)),
			zap.Int("already_assessed", len(order)-len(threats)))
		return nil
	})
}

// fetchThreatIndex pulls the monitored-object list once and indexes it by
// designation. A feed failure is not fatal; the caller derives locally.
func (p *Pipeline) fetchThreatIndex(ctx context.Context, logger *zap.Logger) map[string]astro.ThreatAssessment {
	session := p.clients.ImpactRisk.Acquire()
	defer session.Close()

	records, err := session.FetchAll(ctx)
	if err != nil {
		logger.Warn("impact-risk feed unavailable, deriving threats locally",
			zap.String("kind", string(feeds.KindOf(err))),
			zap.Error(err))
		return nil
	}
	p.metrics.Fetched(ctx, "impactrisk", len(records))

	index := make(map[string]astro.ThreatAssessment, len(records))
	for _, rec := range records {
		index[rec.Designation] = rec
	}
	return index
}

// buildThreat produces the assessment for one asteroid: the monitored
// record when the feed has one, otherwise a local derivation from the
// asteroid's physical parameters and its fastest approach.
func (p *Pipeline) buildThreat(asteroidID int64, designation string, velocity float64, monitored map[string]astro.ThreatAssessment, byDesignation map[string]*astro.Asteroid) astro.ThreatAssessment {
	if rec, ok := monitored[designation]; ok {
		rec.AsteroidID = asteroidID
		rec.Normalize()
		return rec
	}

	threat := astro.ThreatAssessment{
		AsteroidID:  asteroidID,
		Designation: designation,
		VInf:        velocity,
	}
	if a, ok := byDesignation[designation]; ok {
		threat.Diameter = a.EstimatedDiameterKm
		threat.H = a.AbsoluteMagnitude
		if a.Name != nil {
			threat.Fullname = *a.Name
		}
	}
	threat.Normalize()
	return threat
}

// prune removes approaches outside the retention window. The two
// horizons commit independently; a failure is logged and the run stays
// successful, the next run will retry the prune.
func (p *Pipeline) prune(ctx context.Context, logger *zap.Logger, opts config.IngestConfig, report *Report) {
	now := p.now().UTC()

	err := store.RunInUnitOfWork(ctx, p.db, func(uow *store.UnitOfWork) error {
		n, err := uow.Approaches().DeleteEarlierThan(ctx, now.Add(-opts.PrunePastAfter))
		if err != nil {
			return err
		}
		report.Pruned.Past = n
		return nil
	})
	if err != nil {
		logger.Error("pruning past approaches failed", zap.Error(err))
	}

	err = store.RunInUnitOfWork(ctx, p.db, func(uow *store.UnitOfWork) error {
		n, err := uow.Approaches().DeleteLaterThan(ctx, now.Add(opts.PruneFutureAfter))
		if err != nil {
			return err
		}
		report.Pruned.Future = n
		return nil
	})
	if err != nil {
		logger.Error("pruning far-future approaches failed", zap.Error(err))
	}

	p.metrics.Pruned(ctx, "past", report.Pruned.Past)
	p.metrics.Pruned(ctx, "future", report.Pruned.Future)
}
