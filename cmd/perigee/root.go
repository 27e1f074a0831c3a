package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/perigee-sky/perigee/internal/config"
	"github.com/perigee-sky/perigee/internal/feeds"
	"github.com/perigee-sky/perigee/internal/ingest"
	"github.com/perigee-sky/perigee/internal/query"
	"github.com/perigee-sky/perigee/internal/store"
	"github.com/perigee-sky/perigee/internal/telemetry"
)

// Version and Build are stamped by the release process.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	configPath string
	jsonOutput bool
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "perigee",
	Short: "perigee - near-Earth asteroid catalog",
	Long: `Perigee maintains a catalog of potentially hazardous asteroids:
it ingests the small-body, close-approach and impact-risk feeds daily,
stores the merged records, and answers queries about upcoming
encounters and impact threats.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = buildLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		if err := telemetry.Init(cmd.Context(), "perigee", Version); err != nil {
			logger.Warn("telemetry init failed, continuing without", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("perigee version %s (%s)\n", Version, Build)
			return nil
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./perigee.yaml, ~/.perigee/perigee.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().Bool("version", false, "print version and exit")
}

// buildLogger constructs the process logger: console encoding to stderr,
// level from config with --verbose forcing debug.
func buildLogger(level string) (*zap.Logger, error) {
	zapLevel := zapcore.InfoLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if verbose {
		zapLevel = zapcore.DebugLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zcfg.Encoding = "console"
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zcfg.Build()
}

// openCatalog connects to the configured database.
func openCatalog(ctx context.Context) (*store.DB, error) {
	return store.Open(ctx, cfg.DatabaseURL, logger)
}

// feedOptions translates one feed's config block into client options.
func feedOptions(fc config.FeedConfig) feeds.Options {
	return feeds.Options{
		BaseURL:          fc.BaseURL,
		Logger:           logger,
		Timeout:          fc.Timeout,
		MaxConcurrent:    fc.MaxConcurrent,
		QueueSize:        fc.QueueSize,
		FailureThreshold: fc.FailureThreshold,
		RecoveryTimeout:  fc.RecoveryTimeout,
		RetryAttempts:    fc.RetryAttempts,
		RetryMinWait:     fc.RetryMinWait,
		RetryMaxWait:     fc.RetryMaxWait,
	}
}

// buildPipeline wires the feed clients and the store into a pipeline.
func buildPipeline(db *store.DB) *ingest.Pipeline {
	smallBodyOpts := feedOptions(cfg.SmallBody)
	smallBodyOpts.ListLimit = cfg.Ingest.ListLimit
	smallBodyOpts.DetailBatchSize = cfg.Ingest.DetailBatchSize
	smallBodyOpts.DetailBatchDelay = cfg.Ingest.DetailBatchDelay

	clients := ingest.Clients{
		SmallBody:     feeds.NewSmallBodyClient(smallBodyOpts),
		CloseApproach: feeds.NewCloseApproachClient(feedOptions(cfg.CloseApproach)),
		ImpactRisk:    feeds.NewImpactRiskClient(feedOptions(cfg.ImpactRisk)),
	}
	return ingest.New(db, clients, cfg.Ingest, logger)
}

// buildQueryService wires the read service, with the Redis cache when
// one is configured.
func buildQueryService(db *store.DB) *query.Service {
	var cache *query.Cache
	if cfg.RedisAddr != "" {
		cache = query.NewCache(cfg.RedisAddr, cfg.CacheTTL, logger)
	}
	return query.NewService(db, cache, logger)
}
