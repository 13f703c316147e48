package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// nameSummary tracks the names seen for one identifier without storing all of them.
type nameSummary struct {
	first string
	multi bool
}

// DedupeResult reports what a duplicate pass did.
type DedupeResult struct {
	Rows        int
	Identifiers int
	Flagged     int
	Rewritten   int
	// Replaced is true when the table file was swapped for a rewritten copy.
	Replaced bool
}

// Deduplicator marks every row whose identifier appears with more than one
// distinct legal name anywhere in the table.
type Deduplicator struct {
	table     *TableWriter
	chunkSize int
}

// NewDeduplicator returns a Deduplicator over the table owned by w.
func NewDeduplicator(w *TableWriter, chunkSize int) *Deduplicator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Deduplicator{table: w, chunkSize: chunkSize}
}

// Run executes both passes under the table lock. Pass 2 is skipped when no
// identifier is flagged, and the table is left byte-identical when no row
// changes.
func (d *Deduplicator) Run(ctx context.Context) (*DedupeResult, error) {
	var res *DedupeResult
	err := d.table.Exclusive(func() error {
		var err error
		res, err = d.run(ctx)
		return err
	})
	return res, err
}

func (d *Deduplicator) run(ctx context.Context) (*DedupeResult, error) {
	log := zap.L().With(zap.String("component", "ledger.dedupe"), zap.String("table", d.table.Path()))
	cr := NewChunkReader(d.table.Path(), d.chunkSize)
	defer cr.Close() //nolint:errcheck

	res := &DedupeResult{}
	flagged, err := d.scan(ctx, cr, res)
	if err != nil {
		return res, err
	}
	res.Flagged = len(flagged)
	if len(flagged) == 0 {
		log.Info("no identifiers with conflicting names", zap.Int("rows", res.Rows))
		return res, nil
	}

	if err := cr.Reset(); err != nil {
		return res, err
	}
	if err := d.rewrite(ctx, cr, flagged, res); err != nil {
		return res, err
	}

	log.Info("duplicate pass complete",
		zap.Int("rows", res.Rows),
		zap.Int("identifiers", res.Identifiers),
		zap.Int("flagged", res.Flagged),
		zap.Int("rewritten", res.Rewritten),
		zap.Bool("replaced", res.Replaced),
	)
	return res, nil
}

// scan is pass 1: build identifier → name summary and return the flagged set.
func (d *Deduplicator) scan(ctx context.Context, cr *ChunkReader, res *DedupeResult) (map[string]struct{}, error) {
	names := make(map[string]*nameSummary)
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "dedupe: scan cancelled")
		}
		rows, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			res.Rows++
			id := row[ColIdentifier]
			name := strings.TrimSpace(row[ColLegalName])
			s, ok := names[id]
			if !ok {
				s = &nameSummary{}
				names[id] = s
			}
			if IsPlaceholderName(name) || s.multi {
				continue
			}
			if s.first == "" {
				s.first = name
			} else if s.first != name {
				s.multi = true
			}
		}
	}

	res.Identifiers = len(names)
	flagged := make(map[string]struct{})
	for id, s := range names {
		if s.multi {
			flagged[id] = struct{}{}
		}
	}
	return flagged, nil
}

// rewrite is pass 2: copy the table, overriding the status of flagged rows,
// and swap the copy in only if a row changed.
func (d *Deduplicator) rewrite(ctx context.Context, cr *ChunkReader, flagged map[string]struct{}, res *DedupeResult) (err error) {
	header, err := cr.Header()
	if err != nil {
		return err
	}

	out, err := CreateAtomic(d.table.Path())
	if err != nil {
		return err
	}
	defer out.Abort()

	cw := csv.NewWriter(out)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "dedupe: write header")
	}
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "dedupe: rewrite cancelled")
		}
		rows, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		for _, row := range rows {
			if _, ok := flagged[row[ColIdentifier]]; ok && row[ColStatus] != string(StatusMultipleNames) {
				row[ColStatus] = string(StatusMultipleNames)
				res.Rewritten++
			}
		}
		if err := cw.WriteAll(rows); err != nil {
			return eris.Wrap(err, "dedupe: write rows")
		}
	}

	if res.Rewritten == 0 {
		return nil
	}
	if err := out.Commit(); err != nil {
		return eris.Wrap(err, "dedupe: replace table")
	}
	res.Replaced = true
	return nil
}
