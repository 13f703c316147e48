// Package fetcher downloads regulator archives and turns their contents into rows:
// HTTP/FTP transport, secure ZIP extraction, and format-sniffing CSV/XLSX reading.
package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV scanner.
type CSVOptions struct {
	Delimiter rune // default ','
	TrimSpace bool

	// LazyQuotes tolerates stray quotes inside fields, as found in hand-edited
	// regulator exports.
	LazyQuotes bool

	// OnBadRow, when set, is called for each unparseable line and the line is
	// skipped. When nil the first parse error ends the scan.
	OnBadRow func(line int, err error)
}

// ScanCSV reads delimited records from r and calls fn for each one with its
// starting line number. Rows may vary in width. A non-nil error from fn stops the scan and is returned unchanged.
func ScanCSV(ctx context.Context, r io.Reader, opts CSVOptions, fn func(line int, rec []string) error) error {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}

		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if opts.OnBadRow != nil && errors.As(err, &perr) {
				opts.OnBadRow(perr.StartLine, err)
				continue
			}
			return eris.Wrap(err, "csv: read row")
		}

		if opts.TrimSpace {
			for i, field := range rec {
				rec[i] = strings.TrimSpace(field)
			}
		}

		line, _ := reader.FieldPos(0)
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}
