// Package pipeline wires extraction, consolidation, duplicate detection,
// enrichment and aggregation into one run.
package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ans-consolidator/internal/config"
	"github.com/sells-group/ans-consolidator/internal/ledger"
)

// Artifact file names under the output directory.
const (
	ConsolidatedFile      = "consolidated_expenses.csv"
	EnrichedFile          = "enriched_expenses.csv"
	AggregatedFile        = "aggregated_expenses.csv"
	AggregatedParquetFile = "aggregated_expenses.parquet"
	SummaryFile           = "summary.txt"
)

// Run is the explicit context of one pipeline invocation. Every stage reads
// its paths and periods from here.
type Run struct {
	ID        string
	Periods   []ledger.Period
	StartedAt time.Time

	WorkDir   string
	OutputDir string
	TempDir   string

	tableMu sync.Mutex
	table   *ledger.TableWriter
}

// NewRun builds a run context from the storage config.
func NewRun(id string, periods []ledger.Period, st config.StorageConfig) *Run {
	return &Run{
		ID:        id,
		Periods:   periods,
		StartedAt: time.Now().UTC(),
		WorkDir:   st.WorkDir,
		OutputDir: st.OutputDir,
		TempDir:   st.TempDir,
	}
}

// Prepare creates the run's directories.
func (r *Run) Prepare() error {
	for _, dir := range []string{r.WorkDir, r.OutputDir, r.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "pipeline: create %s", dir)
		}
	}
	return nil
}

// Quarters renders the periods as strings.
func (r *Run) Quarters() []string {
	out := make([]string, len(r.Periods))
	for i, p := range r.Periods {
		out[i] = p.String()
	}
	return out
}

// Table returns the single writer that owns the run's consolidated table.
// Every stage appends and rewrites through it so they share one lock.
// batchSize only applies on the first call.
func (r *Run) Table(batchSize int) *ledger.TableWriter {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()
	if r.table == nil {
		r.table = ledger.NewTableWriter(r.ConsolidatedPath(), batchSize)
	}
	return r.table
}

// ConsolidatedPath is the consolidated table.
func (r *Run) ConsolidatedPath() string { return filepath.Join(r.OutputDir, ConsolidatedFile) }

// EnrichedPath is the enriched table.
func (r *Run) EnrichedPath() string { return filepath.Join(r.OutputDir, EnrichedFile) }

// AggregatedPath is the aggregated CSV.
func (r *Run) AggregatedPath() string { return filepath.Join(r.OutputDir, AggregatedFile) }

// AggregatedParquetPath is the aggregated parquet file.
func (r *Run) AggregatedParquetPath() string {
	return filepath.Join(r.OutputDir, AggregatedParquetFile)
}

// SummaryPath is the text summary.
func (r *Run) SummaryPath() string { return filepath.Join(r.OutputDir, SummaryFile) }

// BundlePath is the delivery zip, named after the short run ID.
func (r *Run) BundlePath() string {
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "adhoc"
	}
	return filepath.Join(r.OutputDir, "ans_expenses_"+id+".zip")
}

// LatestQuarters returns the n most recent closed quarters before now,
// oldest first.
func LatestQuarters(now time.Time, n int) []ledger.Period {
	if n <= 0 {
		return nil
	}
	cur := ledger.Period{Year: now.Year(), Quarter: (int(now.Month())-1)/3 + 1}
	out := make([]ledger.Period, n)
	p := cur.Prev()
	for i := n - 1; i >= 0; i-- {
		out[i] = p
		p = p.Prev()
	}
	return out
}

// ParseQuarters parses a comma-separated list such as "2024Q1,2024Q2" and
// returns the periods sorted, without duplicates.
func ParseQuarters(s string) ([]ledger.Period, error) {
	seen := make(map[ledger.Period]struct{})
	var out []ledger.Period
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := ledger.ParsePeriod(part)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, eris.Wrap(config.ErrConfiguration, "pipeline: no quarters given")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
