package main

import (
	"github.com/spf13/cobra"

	"github.com/perigee-sky/perigee/internal/ingest"
)

var daemonNoInitial bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run catalog updates on a schedule",
	Long: `Runs the update pipeline immediately and then on the configured
interval (default 24h) until interrupted. Runs never overlap. When the
config file changes, ingestion tunables are re-read between runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}

		daemonCfg := cfg.Daemon
		if daemonNoInitial {
			daemonCfg.RunOnStart = false
		}
		scheduler := ingest.NewScheduler(buildPipeline(db), daemonCfg, configPath, logger)
		return scheduler.Run(ctx)
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonNoInitial, "no-initial", false, "wait for the first interval instead of running immediately")
	rootCmd.AddCommand(daemonCmd)
}
