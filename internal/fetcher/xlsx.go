package fetcher

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX scanner.
type XLSXOptions struct {
	// SheetName picks a sheet by name. Empty means the first sheet with data.
	SheetName string
}

// ScanXLSX calls fn for each data-bearing row of a workbook. Rows before the
// header (the first row with at least two filled cells, such as report
// titles) and fully blank rows are skipped. Cells are trimmed and trailing
// empty cells dropped.
func ScanXLSX(ctx context.Context, path string, opts XLSXOptions, fn func(rec []string) error) error {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := pickSheet(f, opts)
	if err != nil {
		return err
	}

	headerSeen := false
	for _, row := range sheet.Rows {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "xlsx: context cancelled")
		}
		if row == nil {
			continue
		}
		rec, filled := rowValues(row)
		if filled == 0 || (!headerSeen && filled < 2) {
			continue
		}
		headerSeen = true
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	for _, sheet := range f.Sheets {
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			if _, filled := rowValues(row); filled > 0 {
				return sheet, nil
			}
		}
	}
	return nil, eris.Wrap(ErrParseExhausted, "xlsx: workbook has no data")
}

// rowValues returns the trimmed cell values without trailing blanks and the
// number of non-empty cells.
func rowValues(row *xlsx.Row) ([]string, int) {
	cells := make([]string, len(row.Cells))
	filled, last := 0, -1
	for j, cell := range row.Cells {
		if cell == nil {
			continue
		}
		cells[j] = strings.TrimSpace(cell.String())
		if cells[j] != "" {
			filled++
			last = j
		}
	}
	return cells[:last+1], filled
}
