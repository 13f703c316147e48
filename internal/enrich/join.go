package enrich

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ans-consolidator/internal/ledger"
)

// Status is the outcome of the registry join for one row.
type Status string

// Join outcomes.
const (
	StatusEnriched        Status = "ENRICHED"
	StatusNoRegistryMatch Status = "NO_REGISTRY_MATCH"
)

// Record is a consolidated row plus its registry attributes.
type Record struct {
	ledger.Record
	RegistryCode     string
	Modality         string
	RegionCode       string
	EnrichmentStatus Status
}

// Columns is the enriched table header.
var Columns = append(append([]string{}, ledger.Columns...),
	"registry_code", "modality", "region_code", "enrichment_status")

const (
	colRegistryCode = ledger.ColStatus + 1 + iota
	colModality
	colRegionCode
	colEnrichmentStatus
)

// Strings renders r as an enriched table row.
func (r Record) Strings() []string {
	return append(r.Record.Strings(), r.RegistryCode, r.Modality, r.RegionCode, string(r.EnrichmentStatus))
}

// ParseRecord reads an enriched table row.
func ParseRecord(row []string) (Record, error) {
	if len(row) != len(Columns) {
		return Record{}, eris.Errorf("enrich: row has %d columns, want %d", len(row), len(Columns))
	}
	base, err := ledger.ParseRecord(row[:len(ledger.Columns)])
	if err != nil {
		return Record{}, err
	}
	st := Status(row[colEnrichmentStatus])
	if st != StatusEnriched && st != StatusNoRegistryMatch {
		return Record{}, eris.Errorf("enrich: unknown enrichment status %q", st)
	}
	return Record{
		Record:           base,
		RegistryCode:     row[colRegistryCode],
		Modality:         row[colModality],
		RegionCode:       row[colRegionCode],
		EnrichmentStatus: st,
	}, nil
}

// Stats summarizes one join.
type Stats struct {
	Rows            int
	Enriched        int
	Unmatched       int
	NamesBackfilled int
}

// MatchRate is the share of rows that found a registry entry.
func (s Stats) MatchRate() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.Enriched) / float64(s.Rows)
}

// Joiner left-joins consolidated records with a Registry.
type Joiner struct {
	Registry  *Registry
	ChunkSize int
}

// NewJoiner returns a Joiner over reg.
func NewJoiner(reg *Registry, chunkSize int) *Joiner {
	return &Joiner{Registry: reg, ChunkSize: chunkSize}
}

// Enrich attaches registry attributes to one record. The legal name is only
// replaced when the record's own name is a placeholder.
func (j *Joiner) Enrich(rec ledger.Record) (Record, bool) {
	out := Record{
		Record:           rec,
		RegistryCode:     RegistryCodeMissing,
		Modality:         ModalityNotInformed,
		RegionCode:       RegionUnknown,
		EnrichmentStatus: StatusNoRegistryMatch,
	}
	reg, ok := j.Registry.Lookup(rec.Identifier)
	if !ok {
		return out, false
	}

	out.EnrichmentStatus = StatusEnriched
	if reg.RegistryCode != "" {
		out.RegistryCode = reg.RegistryCode
	}
	if reg.Modality != "" {
		out.Modality = reg.Modality
	}
	if reg.RegionCode != "" {
		out.RegionCode = reg.RegionCode
	}
	backfilled := false
	if ledger.IsPlaceholderName(rec.LegalName) && !ledger.IsPlaceholderName(reg.LegalName) {
		out.LegalName = reg.LegalName
		backfilled = true
	}
	return out, backfilled
}

// Join streams the consolidated table at src and writes the enriched table
// to dst, replacing dst atomically.
func (j *Joiner) Join(ctx context.Context, src, dst string) (*Stats, error) {
	log := zap.L().With(zap.String("component", "enrich.join"))

	out, err := ledger.CreateAtomic(dst)
	if err != nil {
		return nil, err
	}
	defer out.Abort()

	cw := csv.NewWriter(out)
	if err := cw.Write(Columns); err != nil {
		return nil, eris.Wrap(err, "enrich: write header")
	}

	stats := &Stats{}
	cr := ledger.NewChunkReader(src, j.ChunkSize)
	defer cr.Close() //nolint:errcheck
	for {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "enrich: cancelled")
		}
		rows, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		for _, row := range rows {
			rec, err := ledger.ParseRecord(row)
			if err != nil {
				return stats, err
			}
			enriched, backfilled := j.Enrich(rec)
			stats.Rows++
			if enriched.EnrichmentStatus == StatusEnriched {
				stats.Enriched++
			} else {
				stats.Unmatched++
			}
			if backfilled {
				stats.NamesBackfilled++
			}
			if err := cw.Write(enriched.Strings()); err != nil {
				return stats, eris.Wrap(err, "enrich: write row")
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, eris.Wrap(err, "enrich: flush")
	}
	if err := out.Commit(); err != nil {
		return stats, err
	}

	log.Info("enrichment complete",
		zap.Int("rows", stats.Rows),
		zap.Int("enriched", stats.Enriched),
		zap.Int("unmatched", stats.Unmatched),
		zap.Int("names_backfilled", stats.NamesBackfilled),
	)
	return stats, nil
}

// EachRecord streams the enriched table at path through fn.
func EachRecord(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "enrich: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Columns)
	r.ReuseRecord = true
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return eris.Wrapf(err, "enrich: read header %s", path)
	}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "enrich: read %s", path)
		}
		rec, err := ParseRecord(row)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
