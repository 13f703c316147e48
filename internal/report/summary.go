// Package report renders the run summary and packages the delivery bundle.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/ans-consolidator/internal/aggregate"
	"github.com/sells-group/ans-consolidator/internal/enrich"
	"github.com/sells-group/ans-consolidator/internal/ledger"
)

// TopGroups is how many aggregate groups the summary lists.
const TopGroups = 10

// Summary is the human-readable account of one run.
type Summary struct {
	RunID       string
	GeneratedAt time.Time
	Periods     []ledger.Period

	Total       int
	Valid       int
	ByStatus    map[ledger.Status]int
	TotalAmount decimal.Decimal

	Enrichment *enrich.Stats
	Groups     []aggregate.Group
}

// Problems is the number of rows whose status is not clean.
func (s *Summary) Problems() int { return s.Total - s.Valid }

// CountStatuses streams the consolidated table and fills the status counts.
func (s *Summary) CountStatuses(consolidatedPath string, chunkSize int) error {
	if s.ByStatus == nil {
		s.ByStatus = make(map[ledger.Status]int)
	}
	return ledger.EachRecord(consolidatedPath, chunkSize, func(r ledger.Record) error {
		s.Total++
		s.ByStatus[r.Status]++
		if r.Status.Valid() {
			s.Valid++
		}
		if r.Amount.Valid {
			s.TotalAmount = s.TotalAmount.Add(r.Amount.Decimal)
		}
		return nil
	})
}

// WriteText renders the summary as plain text.
func (s *Summary) WriteText(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }

	p("ANS EXPENSE CONSOLIDATION SUMMARY\n")
	p("Run:\t%s\n", s.RunID)
	p("Generated:\t%s\n", s.GeneratedAt.UTC().Format(time.RFC3339))
	if len(s.Periods) > 0 {
		periods := ""
		for i, per := range s.Periods {
			if i > 0 {
				periods += ", "
			}
			periods += per.String()
		}
		p("Quarters:\t%s\n", periods)
	}
	p("\n")
	p("Total records:\t%d\n", s.Total)
	p("Valid records:\t%d\n", s.Valid)
	p("Records with problems:\t%d\n", s.Problems())
	p("Total amount:\t%s\n", s.TotalAmount.StringFixed(2))
	p("\nBy validation status:\n")
	for _, st := range ledger.Statuses {
		if n := s.ByStatus[st]; n > 0 {
			p("  %s\t%d\n", st, n)
		}
	}

	if e := s.Enrichment; e != nil {
		p("\nRegistry enrichment:\n")
		p("  Matched:\t%d\n", e.Enriched)
		p("  Unmatched:\t%d\n", e.Unmatched)
		p("  Names filled from registry:\t%d\n", e.NamesBackfilled)
		p("  Match rate:\t%.1f%%\n", 100*e.MatchRate())
	}

	if len(s.Groups) > 0 {
		p("\nTop operators by total expense:\n")
		p("  LEGAL NAME\tREGION\tTOTAL\tMEAN\tSTDDEV\tCOUNT\n")
		for i, g := range s.Groups {
			if i == TopGroups {
				break
			}
			p("  %s\t%s\t%s\t%s\t%s\t%d\n", g.LegalName, g.RegionCode,
				g.Total.StringFixed(2), g.Mean.StringFixed(2), g.StdDev.StringFixed(2), g.Count)
		}
	}

	p("\nRows with problems are kept and marked; filter on validation_status.\n")
	return w.Flush()
}

// WriteFile replaces path with the text summary.
func (s *Summary) WriteFile(path string) error {
	out, err := ledger.CreateAtomic(path)
	if err != nil {
		return err
	}
	defer out.Abort()
	if err := s.WriteText(out); err != nil {
		return err
	}
	return out.Commit()
}
