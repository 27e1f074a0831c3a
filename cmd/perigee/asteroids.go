package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perigee-sky/perigee/internal/astro"
	"github.com/perigee-sky/perigee/internal/query"
)

var (
	asteroidSearch    string
	asteroidLimit     int
	asteroidSkip      int
	asteroidSort      string
	asteroidDesc      bool
	asteroidHazardous bool
)

var asteroidsCmd = &cobra.Command{
	Use:   "asteroids",
	Short: "Browse the asteroid catalog",
}

var asteroidsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged asteroids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		opts := query.ListOptions{
			Search:    asteroidSearch,
			Skip:      asteroidSkip,
			Limit:     asteroidLimit,
			OrderBy:   asteroidSort,
			OrderDesc: asteroidDesc,
		}
		if asteroidHazardous {
			opts.Filters = map[string]any{"earth_moid_au__lt": astro.PHAMOIDThresholdAU}
		}

		asteroids, err := buildQueryService(db).ListAsteroids(cmd.Context(), opts)
		if err != nil {
			return err
		}
		return renderAsteroids(asteroids)
	},
}

var asteroidsShowCmd = &cobra.Command{
	Use:   "show <designation>",
	Short: "Show one asteroid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		asteroid, err := buildQueryService(db).GetAsteroid(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asteroid == nil {
			return fmt.Errorf("asteroid %q not in catalog", args[0])
		}
		if jsonOutput {
			return printJSON(asteroid)
		}
		return renderAsteroids([]query.AsteroidDTO{*asteroid})
	},
}

func init() {
	asteroidsListCmd.Flags().StringVar(&asteroidSearch, "search", "", "substring match on designation or name")
	asteroidsListCmd.Flags().IntVar(&asteroidLimit, "limit", query.DefaultPageSize, "maximum rows")
	asteroidsListCmd.Flags().IntVar(&asteroidSkip, "skip", 0, "rows to skip")
	asteroidsListCmd.Flags().StringVar(&asteroidSort, "sort", "", "order column (e.g. earth_moid_au)")
	asteroidsListCmd.Flags().BoolVar(&asteroidDesc, "desc", false, "descending order")
	asteroidsListCmd.Flags().BoolVar(&asteroidHazardous, "hazardous", false, "only potentially hazardous asteroids")

	asteroidsCmd.AddCommand(asteroidsListCmd, asteroidsShowCmd)
	rootCmd.AddCommand(asteroidsCmd)
}
