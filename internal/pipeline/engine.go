package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ans-consolidator/internal/aggregate"
	"github.com/sells-group/ans-consolidator/internal/config"
	"github.com/sells-group/ans-consolidator/internal/enrich"
	"github.com/sells-group/ans-consolidator/internal/fetcher"
	"github.com/sells-group/ans-consolidator/internal/ledger"
	"github.com/sells-group/ans-consolidator/internal/report"
	"github.com/sells-group/ans-consolidator/internal/runlog"
)

// Recorder persists run and file outcomes. *runlog.Log implements it.
type Recorder interface {
	Start(ctx context.Context, quarters []string) (*runlog.Run, error)
	RecordFile(ctx context.Context, runID string, f runlog.FileEntry) error
	Complete(ctx context.Context, runID string, result *runlog.Result) error
	Fail(ctx context.Context, runID, errMsg string) error
}

// ConsolidateStats counts what ingestion did.
type ConsolidateStats struct {
	Archives        int
	ArchiveErrors   int
	Files           int
	FilesRejected   int
	EntriesRejected int
	Rows            int
	Accepted        int
	Dropped         int
}

// Outcome collects every stage result of a run.
type Outcome struct {
	Run         *Run
	Consolidate *ConsolidateStats
	Dedupe      *ledger.DedupeResult
	Enrichment  *enrich.Stats
	Aggregate   *aggregate.Result
	Summary     *report.Summary
	Bundle      string
}

// Engine runs the pipeline stages.
type Engine struct {
	cfg       *config.Config
	source    ArchiveSource
	fetcher   fetcher.Fetcher
	recorder  Recorder
	extractor *fetcher.Extractor
	validator ledger.Validator
}

// New creates an Engine. f is used for the registry download and may be nil
// when cfg.Registry.Path is set. rec may be nil.
func New(cfg *config.Config, src ArchiveSource, f fetcher.Fetcher, rec Recorder) *Engine {
	return &Engine{
		cfg:       cfg,
		source:    src,
		fetcher:   f,
		recorder:  rec,
		extractor: &fetcher.Extractor{MaxBytes: cfg.Extract.MaxBytes},
	}
}

// Start opens a run for periods and prepares its directories.
func (e *Engine) Start(ctx context.Context, periods []ledger.Period) (*Run, error) {
	run := NewRun("", periods, e.cfg.Storage)
	if err := run.Prepare(); err != nil {
		return nil, err
	}
	if e.recorder != nil {
		r, err := e.recorder.Start(ctx, run.Quarters())
		if err != nil {
			return nil, err
		}
		run.ID = r.ID
		run.StartedAt = r.StartedAt
	}
	return run, nil
}

// Execute runs every stage for periods and records the outcome.
func (e *Engine) Execute(ctx context.Context, periods []ledger.Period) (*Outcome, error) {
	run, err := e.Start(ctx, periods)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", run.ID))
	log.Info("pipeline: starting run", zap.Strings("quarters", run.Quarters()))

	out := &Outcome{Run: run}
	if err := e.execute(ctx, run, out); err != nil {
		log.Error("pipeline: run failed", zap.Error(err))
		e.fail(ctx, run, err)
		return out, err
	}

	if err := e.Complete(ctx, run, out); err != nil {
		return out, err
	}
	log.Info("pipeline: run complete",
		zap.Int("rows", out.Summary.Total),
		zap.Int("valid", out.Summary.Valid),
		zap.String("bundle", out.Bundle),
		zap.Duration("elapsed", time.Since(run.StartedAt)),
	)
	return out, nil
}

func (e *Engine) execute(ctx context.Context, run *Run, out *Outcome) error {
	var err error
	if out.Consolidate, err = e.Consolidate(ctx, run); err != nil {
		return err
	}
	if out.Dedupe, err = e.Dedupe(ctx, run); err != nil {
		return err
	}
	if out.Enrichment, err = e.Enrich(ctx, run); err != nil {
		return err
	}
	if out.Aggregate, err = e.Aggregate(ctx, run); err != nil {
		return err
	}
	return e.Deliver(ctx, run, out)
}

// Complete stores the run result in the recorder.
func (e *Engine) Complete(ctx context.Context, run *Run, out *Outcome) error {
	if e.recorder == nil || run.ID == "" {
		return nil
	}
	res := &runlog.Result{
		ConsolidatedCSV: run.ConsolidatedPath(),
		Bundle:          out.Bundle,
	}
	if s := out.Summary; s != nil {
		res.Rows = s.Total
		res.Valid = s.Valid
		res.Flagged = s.ByStatus[ledger.StatusMultipleNames]
		res.StatusCounts = make(map[string]int, len(s.ByStatus))
		for st, n := range s.ByStatus {
			res.StatusCounts[string(st)] = n
		}
	}
	if out.Enrichment != nil {
		res.Enriched = out.Enrichment.Enriched
	}
	if out.Aggregate != nil {
		res.Groups = len(out.Aggregate.Groups)
	}
	return e.recorder.Complete(ctx, run.ID, res)
}

func (e *Engine) fail(ctx context.Context, run *Run, cause error) {
	if e.recorder == nil || run.ID == "" {
		return
	}
	if err := e.recorder.Fail(context.WithoutCancel(ctx), run.ID, cause.Error()); err != nil {
		zap.L().Warn("pipeline: failed to record failure", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (e *Engine) record(ctx context.Context, run *Run, entry runlog.FileEntry) {
	if e.recorder == nil || run.ID == "" {
		return
	}
	if err := e.recorder.RecordFile(ctx, run.ID, entry); err != nil {
		zap.L().Warn("pipeline: failed to record file",
			zap.String("run_id", run.ID),
			zap.String("file", entry.File),
			zap.Error(err),
		)
	}
}

func (e *Engine) table(run *Run) *ledger.TableWriter {
	return run.Table(e.cfg.Consolidate.BatchSize)
}

type archiveJob struct {
	period ledger.Period
	path   string
}

// Consolidate fetches every archive of the run's periods and appends their
// validated records to a fresh consolidated table. Archive and file level
// failures are logged and skipped; a table write failure aborts the stage.
func (e *Engine) Consolidate(ctx context.Context, run *Run) (*ConsolidateStats, error) {
	log := zap.L().With(zap.String("component", "pipeline.consolidate"), zap.String("run_id", run.ID))

	w := e.table(run)
	if err := w.Reset(); err != nil {
		return nil, err
	}

	stats := &ConsolidateStats{}
	var jobs []archiveJob
	for _, p := range run.Periods {
		paths, err := e.source.Fetch(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return stats, eris.Wrap(ctx.Err(), "pipeline: cancelled")
			}
			log.Warn("pipeline: quarter unavailable", zap.String("period", p.String()), zap.Error(err))
			e.record(ctx, run, runlog.FileEntry{
				Quarter: p.String(),
				Status:  runlog.FileStatusArchiveError,
				Error:   err.Error(),
			})
			stats.ArchiveErrors++
			continue
		}
		for _, path := range paths {
			jobs = append(jobs, archiveJob{period: p, path: path})
		}
	}
	stats.Archives = len(jobs)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.cfg.Pipeline.Workers))
	for _, job := range jobs {
		g.Go(func() error {
			return e.processArchive(gCtx, run, w, job, stats, &mu)
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	log.Info("pipeline: consolidation complete",
		zap.Int("archives", stats.Archives),
		zap.Int("archive_errors", stats.ArchiveErrors),
		zap.Int("files", stats.Files),
		zap.Int("files_rejected", stats.FilesRejected),
		zap.Int("accepted", stats.Accepted),
		zap.Int("dropped", stats.Dropped),
	)
	return stats, nil
}

func (e *Engine) processArchive(ctx context.Context, run *Run, w *ledger.TableWriter, job archiveJob, stats *ConsolidateStats, mu *sync.Mutex) error {
	name := filepath.Base(job.path)
	log := zap.L().With(
		zap.String("component", "pipeline.consolidate"),
		zap.String("archive", name),
		zap.String("period", job.period.String()),
	)
	defer func() {
		if err := e.source.Release(job.path); err != nil {
			log.Warn("pipeline: release archive", zap.Error(err))
		}
	}()

	scratch, err := os.MkdirTemp(run.TempDir, "extract-*")
	if err != nil {
		return eris.Wrap(err, "pipeline: create scratch dir")
	}
	defer os.RemoveAll(scratch) //nolint:errcheck

	res, err := e.extractor.Extract(job.path, scratch)
	if res != nil {
		for _, entry := range res.Rejected {
			e.record(ctx, run, runlog.FileEntry{
				Archive: name,
				File:    entry,
				Quarter: job.period.String(),
				Status:  runlog.FileStatusRejectedEntry,
				Error:   "unsafe path",
			})
		}
		mu.Lock()
		stats.EntriesRejected += len(res.Rejected)
		mu.Unlock()
	}
	if err != nil {
		if errors.Is(err, fetcher.ErrArchiveIntegrity) || errors.Is(err, fetcher.ErrSizeLimitExceeded) {
			log.Warn("pipeline: skipping archive", zap.Error(err))
			e.record(ctx, run, runlog.FileEntry{
				Archive: name,
				Quarter: job.period.String(),
				Status:  runlog.FileStatusArchiveError,
				Error:   err.Error(),
			})
			mu.Lock()
			stats.ArchiveErrors++
			mu.Unlock()
			return nil
		}
		return err
	}

	norm := ledger.NewNormalizer(job.period)
	for _, path := range res.Files {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: cancelled")
		}
		if !fetcher.IsTabular(path) {
			continue
		}
		rel, _ := filepath.Rel(scratch, path)
		if err := e.processFile(ctx, run, w, norm, name, rel, path, stats, mu); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processFile(ctx context.Context, run *Run, w *ledger.TableWriter, norm *ledger.Normalizer,
	archive, rel, path string, stats *ConsolidateStats, mu *sync.Mutex) error {
	log := zap.L().With(zap.String("component", "pipeline.consolidate"), zap.String("file", rel))

	entry := runlog.FileEntry{Archive: archive, File: rel, Quarter: norm.Period.String()}
	records, fr, err := norm.ReadFile(ctx, path)
	if fr != nil {
		entry.Rows = fr.Rows
		entry.Dropped = fr.Dropped
		entry.Skipped = fr.Skipped
	}
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "pipeline: cancelled")
		}
		entry.Status = runlog.FileStatusUnparseable
		if errors.Is(err, ledger.ErrSchemaMissingField) {
			entry.Status = runlog.FileStatusSchemaMissing
		}
		entry.Error = err.Error()
		log.Warn("pipeline: file rejected", zap.String("status", string(entry.Status)), zap.Error(err))
		e.record(ctx, run, entry)
		mu.Lock()
		stats.FilesRejected++
		mu.Unlock()
		return nil
	}

	e.validator.ValidateAll(records)
	if err := w.Append(records); err != nil {
		return err
	}

	entry.Status = runlog.FileStatusLoaded
	entry.Accepted = len(records)
	e.record(ctx, run, entry)

	mu.Lock()
	stats.Files++
	stats.Rows += entry.Rows
	stats.Accepted += entry.Accepted
	stats.Dropped += entry.Dropped
	mu.Unlock()
	return nil
}

// Dedupe runs the duplicate-identifier pass over the consolidated table.
func (e *Engine) Dedupe(ctx context.Context, run *Run) (*ledger.DedupeResult, error) {
	return ledger.NewDeduplicator(e.table(run), e.cfg.Consolidate.ChunkSize).Run(ctx)
}

// Enrich joins the consolidated table with the operator registry. A missing
// or unreadable registry degrades to an empty one so every row is kept as
// unmatched.
func (e *Engine) Enrich(ctx context.Context, run *Run) (*enrich.Stats, error) {
	reg, err := e.loadRegistry(ctx, run)
	if err != nil {
		return nil, err
	}
	return enrich.NewJoiner(reg, e.cfg.Consolidate.ChunkSize).Join(ctx, run.ConsolidatedPath(), run.EnrichedPath())
}

func (e *Engine) loadRegistry(ctx context.Context, run *Run) (*enrich.Registry, error) {
	log := zap.L().With(zap.String("component", "pipeline.enrich"))

	path := e.cfg.Registry.Path
	if path == "" && e.cfg.Registry.URL != "" && e.fetcher != nil {
		p, err := FetchRegistry(ctx, e.fetcher, e.cfg.Registry.URL, run.WorkDir)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "pipeline: cancelled")
			}
			log.Warn("pipeline: registry unavailable, continuing without enrichment", zap.Error(err))
			return enrich.NewRegistry(nil), nil
		}
		path = p
	}
	if path == "" {
		log.Warn("pipeline: no registry configured, continuing without enrichment")
		return enrich.NewRegistry(nil), nil
	}

	reg, err := enrich.LoadRegistry(ctx, path)
	if err != nil {
		if errors.Is(err, ledger.ErrSchemaMissingField) || errors.Is(err, fetcher.ErrParseExhausted) {
			log.Warn("pipeline: registry unreadable, continuing without enrichment", zap.Error(err))
			return enrich.NewRegistry(nil), nil
		}
		return nil, err
	}
	return reg, nil
}

// Aggregate groups the enriched table and writes the CSV and parquet outputs.
func (e *Engine) Aggregate(ctx context.Context, run *Run) (*aggregate.Result, error) {
	res, err := aggregate.New().Run(ctx, run.EnrichedPath())
	if err != nil {
		return nil, err
	}
	if err := aggregate.WriteCSV(run.AggregatedPath(), res.Groups); err != nil {
		return nil, err
	}
	if err := aggregate.WriteParquet(run.AggregatedParquetPath(), res.Groups); err != nil {
		return nil, err
	}
	return res, nil
}

// Deliver writes the summary, bundles the artifacts and publishes them when
// an output bucket is configured.
func (e *Engine) Deliver(ctx context.Context, run *Run, out *Outcome) error {
	sum := &report.Summary{
		RunID:       run.ID,
		GeneratedAt: time.Now().UTC(),
		Periods:     run.Periods,
		Enrichment:  out.Enrichment,
	}
	if out.Aggregate != nil {
		sum.Groups = out.Aggregate.Groups
	}
	if err := sum.CountStatuses(run.ConsolidatedPath(), e.cfg.Consolidate.ChunkSize); err != nil {
		return err
	}
	if err := sum.WriteFile(run.SummaryPath()); err != nil {
		return err
	}
	out.Summary = sum

	files := []string{run.ConsolidatedPath(), run.EnrichedPath(), run.AggregatedPath(), run.AggregatedParquetPath(), run.SummaryPath()}
	manifest := &report.Manifest{RunID: run.ID, GeneratedAt: sum.GeneratedAt, Quarters: run.Quarters()}
	if err := report.Bundle(run.BundlePath(), files, manifest); err != nil {
		return err
	}
	out.Bundle = run.BundlePath()

	if url := e.cfg.Output.PublishURL; url != "" {
		prefix := run.ID
		if prefix == "" {
			prefix = "adhoc"
		}
		if err := report.Publish(ctx, url, prefix, append(files, out.Bundle)); err != nil {
			return err
		}
	}
	return nil
}
