package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ans-consolidator/internal/config"
	"github.com/sells-group/ans-consolidator/internal/fetcher"
	"github.com/sells-group/ans-consolidator/internal/ledger"
	"github.com/sells-group/ans-consolidator/internal/pipeline"
	"github.com/sells-group/ans-consolidator/internal/runlog"
)

// newFetcher routes http(s) and ftp URLs to their fetchers.
func newFetcher(c *config.Config) fetcher.Fetcher {
	timeout := time.Duration(c.Source.TimeoutSecs) * time.Second
	h := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.Source.UserAgent,
		Timeout:    timeout,
		MaxRetries: c.Source.MaxRetries,
		RatePerSec: c.Source.RatePerSec,
	})
	f := fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout})
	return fetcher.NewSchemeFetcher(h, f)
}

// newSource picks local archives when archive_dir is set, else the remote index.
func newSource(c *config.Config, f fetcher.Fetcher) pipeline.ArchiveSource {
	if c.Source.ArchiveDir != "" {
		return &pipeline.DirSource{Dir: c.Source.ArchiveDir, Keywords: c.Source.Keywords}
	}
	return &pipeline.IndexSource{
		Fetcher:  f,
		IndexURL: c.Source.IndexURL,
		Keywords: c.Source.Keywords,
		DestDir:  c.Storage.WorkDir,
	}
}

// openRunLog opens and migrates the run log.
func openRunLog(ctx context.Context) (*runlog.Log, error) {
	l, err := runlog.Open(cfg.RunLog.Path)
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		_ = l.Close()
		return nil, eris.Wrap(err, "migrate run log")
	}
	return l, nil
}

// newEngine builds an engine. With rec nil nothing is written to the run log.
func newEngine(rec pipeline.Recorder) *pipeline.Engine {
	f := newFetcher(cfg)
	return pipeline.New(cfg, newSource(cfg, f), f, rec)
}

// resolvePeriods reads --quarters, falling back to the latest --latest quarters.
func resolvePeriods(cmd *cobra.Command, now time.Time) ([]ledger.Period, error) {
	quarters, _ := cmd.Flags().GetString("quarters")
	if quarters != "" {
		return pipeline.ParseQuarters(quarters)
	}
	latest, _ := cmd.Flags().GetInt("latest")
	if latest <= 0 {
		latest = cfg.Pipeline.Quarters
	}
	return pipeline.LatestQuarters(now, latest), nil
}

// adhocRun is a run context over the configured directories with no run log entry.
func adhocRun() (*pipeline.Run, error) {
	run := pipeline.NewRun("", nil, cfg.Storage)
	if err := run.Prepare(); err != nil {
		return nil, err
	}
	return run, nil
}

func addPeriodFlags(cmd *cobra.Command) {
	cmd.Flags().String("quarters", "", "comma-separated quarters to process (e.g. 2024Q1,2024Q2)")
	cmd.Flags().Int("latest", 0, "process the latest N closed quarters (default pipeline.quarters)")
}
