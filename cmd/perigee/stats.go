package main

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog row counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := buildQueryService(db).CatalogStats(cmd.Context())
		if err != nil {
			return err
		}
		return renderStats(stats)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Migrate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, migrateCmd)
}
