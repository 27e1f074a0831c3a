package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/perigee-sky/perigee/internal/config"
)

// fileFeed mirrors config.FeedConfig with durations as strings so the
// generated file reads "30s" instead of nanosecond counts.
type fileFeed struct {
	BaseURL          string `yaml:"base_url"`
	Timeout          string `yaml:"timeout"`
	MaxConcurrent    int64  `yaml:"max_concurrent"`
	QueueSize        int64  `yaml:"queue_size"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
	RecoveryTimeout  string `yaml:"recovery_timeout"`
	RetryAttempts    int    `yaml:"retry_attempts"`
	RetryMinWait     string `yaml:"retry_min_wait"`
	RetryMaxWait     string `yaml:"retry_max_wait"`
}

type fileConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`
	CacheTTL    string `yaml:"cache_ttl"`
	LogLevel    string `yaml:"log_level"`

	SmallBody     fileFeed `yaml:"smallbody"`
	CloseApproach fileFeed `yaml:"closeapproach"`
	ImpactRisk    fileFeed `yaml:"impactrisk"`

	Ingest struct {
		ListLimit          int     `yaml:"list_limit"`
		DetailBatchSize    int     `yaml:"detail_batch_size"`
		DetailBatchDelay   string  `yaml:"detail_batch_delay"`
		MaxAsteroidsPerRun int     `yaml:"max_asteroids_per_run"`
		Workers            int     `yaml:"workers"`
		WorkerDelay        string  `yaml:"worker_delay"`
		ApproachWindowDays int     `yaml:"approach_window_days"`
		MaxDistanceAU      float64 `yaml:"max_distance_au"`
		ThreatChunkSize    int     `yaml:"threat_chunk_size"`
		PrunePastAfter     string  `yaml:"prune_past_after"`
		PruneFutureAfter   string  `yaml:"prune_future_after"`
	} `yaml:"ingest"`

	Daemon struct {
		Interval     string `yaml:"interval"`
		RunOnStart   bool   `yaml:"run_on_start"`
		WatchConfig  bool   `yaml:"watch_config"`
		ShutdownWait string `yaml:"shutdown_wait"`
	} `yaml:"daemon"`
}

func fileFeedFrom(fc config.FeedConfig) fileFeed {
	return fileFeed{
		BaseURL:          fc.BaseURL,
		Timeout:          fc.Timeout.String(),
		MaxConcurrent:    fc.MaxConcurrent,
		QueueSize:        fc.QueueSize,
		FailureThreshold: fc.FailureThreshold,
		RecoveryTimeout:  fc.RecoveryTimeout.String(),
		RetryAttempts:    fc.RetryAttempts,
		RetryMinWait:     fc.RetryMinWait.String(),
		RetryMaxWait:     fc.RetryMaxWait.String(),
	}
}

func fileConfigFrom(c *config.Config) fileConfig {
	var out fileConfig
	out.DatabaseURL = c.DatabaseURL
	out.RedisAddr = c.RedisAddr
	out.CacheTTL = c.CacheTTL.String()
	out.LogLevel = c.LogLevel

	out.SmallBody = fileFeedFrom(c.SmallBody)
	out.CloseApproach = fileFeedFrom(c.CloseApproach)
	out.ImpactRisk = fileFeedFrom(c.ImpactRisk)

	out.Ingest.ListLimit = c.Ingest.ListLimit
	out.Ingest.DetailBatchSize = c.Ingest.DetailBatchSize
	out.Ingest.DetailBatchDelay = c.Ingest.DetailBatchDelay.String()
	out.Ingest.MaxAsteroidsPerRun = c.Ingest.MaxAsteroidsPerRun
	out.Ingest.Workers = c.Ingest.Workers
	out.Ingest.WorkerDelay = c.Ingest.WorkerDelay.String()
	out.Ingest.ApproachWindowDays = c.Ingest.ApproachWindowDays
	out.Ingest.MaxDistanceAU = c.Ingest.MaxDistanceAU
	out.Ingest.ThreatChunkSize = c.Ingest.ThreatChunkSize
	out.Ingest.PrunePastAfter = c.Ingest.PrunePastAfter.String()
	out.Ingest.PruneFutureAfter = roundDays(c.Ingest.PruneFutureAfter)

	out.Daemon.Interval = c.Daemon.Interval.String()
	out.Daemon.RunOnStart = c.Daemon.RunOnStart
	out.Daemon.WatchConfig = c.Daemon.WatchConfig
	out.Daemon.ShutdownWait = c.Daemon.ShutdownWait.String()
	return out
}

// roundDays keeps long horizons readable as whole-hour strings.
func roundDays(d time.Duration) string {
	return d.Round(time.Hour).String()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(fileConfigFrom(cfg))
		}
		data, err := yaml.Marshal(fileConfigFrom(cfg))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file populated with the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultFileName
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		data, err := yaml.Marshal(fileConfigFrom(cfg))
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
