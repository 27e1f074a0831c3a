package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/perigee-sky/perigee/internal/config"
)

// runner is the slice of Pipeline the scheduler drives.
type runner interface {
	Run(ctx context.Context) (*Report, error)
	SetOptions(opts config.IngestConfig)
}

// Scheduler runs the pipeline on a fixed interval. Runs never overlap:
// the pipeline's single-flight guard makes a tick that lands mid-run a
// logged skip. When a config path is given and watching is enabled, the
// scheduler re-reads the tunables whenever the file changes, so caps and
// worker counts adjust without a restart.
type Scheduler struct {
	pipeline   runner
	cfg        config.DaemonConfig
	configPath string
	logger     *zap.Logger
}

// NewScheduler builds a scheduler around the pipeline. configPath may be
// empty; the config watch is then disabled regardless of cfg.WatchConfig.
func NewScheduler(pipeline *Pipeline, cfg config.DaemonConfig, configPath string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		pipeline:   pipeline,
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Run blocks until ctx is canceled, executing the pipeline on the
// configured interval (and immediately first, when RunOnStart is set).
// Returns nil on a clean shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("run_on_start", s.cfg.RunOnStart))

	if s.cfg.WatchConfig && s.configPath != "" {
		stop, err := s.watchConfig(ctx)
		if err != nil {
			s.logger.Warn("config watch unavailable", zap.Error(err))
		} else {
			defer stop()
		}
	}

	if s.cfg.RunOnStart {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes one run and logs its outcome. Scheduler-level errors
// never stop the loop; the next tick tries again.
func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.pipeline.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("previous run still in progress, skipping tick")
	case err != nil:
		s.logger.Error("scheduled run failed to start", zap.Error(err))
	case report.Status != StatusSuccess:
		s.logger.Error("scheduled run failed",
			zap.String("run_id", report.UpdateID),
			zap.String("error", report.Error))
	default:
		s.logger.Info("scheduled run completed",
			zap.String("run_id", report.UpdateID),
			zap.Float64("duration_s", report.DurationSeconds))
	}
}

// watchConfig reloads the ingest tunables when the config file changes.
// Watching the directory rather than the file survives the
// rename-and-replace dance editors and config managers do.
func (s *Scheduler) watchConfig(ctx context.Context) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(s.configPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	target := filepath.Clean(s.configPath)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				s.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("config watch error", zap.Error(err))
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}

// reload re-reads the config file and applies the ingest tunables. A
// broken file keeps the previous settings.
func (s *Scheduler) reload() {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Warn("config reload failed, keeping previous settings",
			zap.String("path", s.configPath),
			zap.Error(err))
		return
	}
	s.pipeline.SetOptions(cfg.Ingest)
	s.logger.Info("config reloaded",
		zap.String("path", s.configPath),
		zap.Int("workers", cfg.Ingest.Workers),
		zap.Int("max_asteroids_per_run", cfg.Ingest.MaxAsteroidsPerRun))
}
