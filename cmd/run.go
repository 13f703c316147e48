package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline for a set of quarters",
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

		out, err := newEngine(rl).Execute(ctx, periods)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", out.Run.ID),
			zap.String("bundle", out.Bundle),
		)
		return out.Summary.WriteText(os.Stdout)
	},
}

func init() {
	addPeriodFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
