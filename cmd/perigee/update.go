package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perigee-sky/perigee/internal/ingest"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run the daily catalog update once",
	Long: `Fetches the hazardous small-body list, updates the asteroid catalog,
computes upcoming close approaches and threat assessments, and prunes
stale approach records. Prints a run report and exits non-zero when the
run fails.`,
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

		report, err := buildPipeline(db).Run(ctx)
		if err != nil {
			return err
		}
		if err := renderReport(report); err != nil {
			return err
		}
		if report.Status != ingest.StatusSuccess {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("update failed: %s", report.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}
