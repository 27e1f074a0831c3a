package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perigee-sky/perigee/internal/query"
)

var (
	threatMinLevel string
	threatLimit    int
	threatSkip     int
)

var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "Browse impact threat assessments",
}

var threatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assessments, most hazardous first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		threats, err := buildQueryService(db).ListThreats(cmd.Context(), threatMinLevel, threatSkip, threatLimit)
		if err != nil {
			return err
		}
		return renderThreats(threats)
	},
}

var threatsShowCmd = &cobra.Command{
	Use:   "show <designation>",
	Short: "Show one assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		threat, err := buildQueryService(db).GetThreatByDesignation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if threat == nil {
			return fmt.Errorf("no threat assessment for %q", args[0])
		}
		if jsonOutput {
			return printJSON(threat)
		}
		return renderThreats([]query.ThreatDTO{*threat})
	},
}

func init() {
	threatsListCmd.Flags().StringVar(&threatMinLevel, "min-level", "", "lowest level to include (zero, very low, low, medium, elevated, high, critical)")
	threatsListCmd.Flags().IntVar(&threatLimit, "limit", query.DefaultPageSize, "maximum rows")
	threatsListCmd.Flags().IntVar(&threatSkip, "skip", 0, "rows to skip")

	threatsCmd.AddCommand(threatsListCmd, threatsShowCmd)
	rootCmd.AddCommand(threatsCmd)
}
