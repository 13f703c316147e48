package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ans-consolidator/internal/pipeline"
	"github.com/sells-group/ans-consolidator/internal/report"
)

// -- consolidate --

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Build and validate the consolidated table, then flag conflicting names",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		periods, err := resolvePeriods(cmd, time.Now())
		if err != nil {
			return err
		}

		rl, err := openRunLog(ctx)
		if err != nil {
			return err
		}
		defer rl.Close() //nolint:errcheck

		eng := newEngine(rl)
		run, err := eng.Start(ctx, periods)
		if err != nil {
			return err
		}

		out := &pipeline.Outcome{Run: run}
		err = func() error {
			var err error
			if out.Consolidate, err = eng.Consolidate(ctx, run); err != nil {
				return err
			}
			if out.Dedupe, err = eng.Dedupe(ctx, run); err != nil {
				return err
			}
			out.Summary = &report.Summary{RunID: run.ID, GeneratedAt: time.Now().UTC(), Periods: run.Periods}
			return out.Summary.CountStatuses(run.ConsolidatedPath(), cfg.Consolidate.ChunkSize)
		}()
		if err != nil {
			if failErr := rl.Fail(ctx, run.ID, err.Error()); failErr != nil {
				zap.L().Warn("failed to record run failure", zap.Error(failErr))
			}
			return eris.Wrap(err, "consolidate")
		}
		if err := eng.Complete(ctx, run, out); err != nil {
			return err
		}

		fmt.Printf("Consolidated table: %s\n", run.ConsolidatedPath())
		return out.Summary.WriteText(os.Stdout)
	},
}

// -- dedupe --

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Flag identifiers reported under more than one name (idempotent)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		run, err := adhocRun()
		if err != nil {
			return err
		}
		res, err := newEngine(nil).Dedupe(cmd.Context(), run)
		if err != nil {
			return eris.Wrap(err, "dedupe")
		}
		fmt.Printf("Rows: %d, identifiers: %d, flagged identifiers: %d, rows rewritten: %d\n",
			res.Rows, res.Identifiers, res.Flagged, res.Rewritten)
		return nil
	},
}

// -- enrich --

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Join the consolidated table with the operator registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if path, _ := cmd.Flags().GetString("registry"); path != "" {
			cfg.Registry.Path = path
		}
		run, err := adhocRun()
		if err != nil {
			return err
		}
		stats, err := newEngine(nil).Enrich(cmd.Context(), run)
		if err != nil {
			return eris.Wrap(err, "enrich")
		}
		fmt.Printf("Enriched table: %s\n", run.EnrichedPath())
		fmt.Printf("Rows: %d, matched: %d, unmatched: %d, names filled: %d (%.1f%% match rate)\n",
			stats.Rows, stats.Enriched, stats.Unmatched, stats.NamesBackfilled, 100*stats.MatchRate())
		return nil
	},
}

// -- aggregate --

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate the enriched table per operator and region",
	RunE: func(cmd *cobra.Command, _ []string) error {
		run, err := adhocRun()
		if err != nil {
			return err
		}
		res, err := newEngine(nil).Aggregate(cmd.Context(), run)
		if err != nil {
			return eris.Wrap(err, "aggregate")
		}
		fmt.Printf("Aggregated: %s (%d groups from %d of %d rows)\n",
			run.AggregatedPath(), len(res.Groups), res.Included, res.Rows)
		return nil
	},
}

func init() {
	addPeriodFlags(consolidateCmd)
	enrichCmd.Flags().String("registry", "", "local registry file (overrides registry.path)")

	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(aggregateCmd)
}
