package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ans-consolidator/internal/db"
	"github.com/sells-group/ans-consolidator/internal/pipeline"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the enriched table into Postgres",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Database.URL == "" {
			return eris.New("database.url is required (ANS_DATABASE_URL)")
		}

		pool, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		loader := db.NewLoader(pool, cfg.Consolidate.BatchSize)
		if err := loader.Migrate(ctx); err != nil {
			return err
		}

		runID, _ := cmd.Flags().GetString("run-id")
		run := pipeline.NewRun(runID, nil, cfg.Storage)
		stats, err := loader.LoadEnriched(ctx, run.EnrichedPath(), runID)
		if err != nil {
			return eris.Wrap(err, "load")
		}
		fmt.Printf("Loaded %d expense rows and %d operators\n", stats.Expenses, stats.Operators)
		return nil
	},
}

func init() {
	loadCmd.Flags().String("run-id", "", "run ID stored with every loaded row")
	rootCmd.AddCommand(loadCmd)
}
