package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	approachDays  int
	approachLimit int
)

var approachesCmd = &cobra.Command{
	Use:   "approaches",
	Short: "Browse close approaches",
}

var approachesUpcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List upcoming close approaches, nearest in time first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		within := time.Duration(approachDays) * 24 * time.Hour
		approaches, err := buildQueryService(db).UpcomingApproaches(cmd.Context(), within, approachLimit)
		if err != nil {
			return err
		}
		return renderApproaches(approaches)
	},
}

var approachesListCmd = &cobra.Command{
	Use:   "list <designation>",
	Short: "List stored approaches of one asteroid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		approaches, err := buildQueryService(db).ApproachesForAsteroid(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return renderApproaches(approaches)
	},
}

func init() {
	approachesUpcomingCmd.Flags().IntVar(&approachDays, "days", 60, "window length in days")
	approachesUpcomingCmd.Flags().IntVar(&approachLimit, "limit", 0, "maximum rows (0 = default page size)")

	approachesCmd.AddCommand(approachesUpcomingCmd, approachesListCmd)
	rootCmd.AddCommand(approachesCmd)
}
