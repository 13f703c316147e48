package aggregate

import (
	"encoding/csv"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ans-consolidator/internal/ledger"
)

// Columns is the aggregated table header.
var Columns = []string{"legal_name", "region_code", "total_amount", "mean_amount", "stddev_amount", "count"}

// Row is the parquet layout of a Group. Amounts are rounded to cents.
type Row struct {
	LegalName    string  `parquet:"legal_name"`
	RegionCode   string  `parquet:"region_code"`
	TotalAmount  float64 `parquet:"total_amount"`
	MeanAmount   float64 `parquet:"mean_amount"`
	StdDevAmount float64 `parquet:"stddev_amount"`
	Count        int64   `parquet:"count"`
}

func (g Group) row() Row {
	return Row{
		LegalName:    g.LegalName,
		RegionCode:   g.RegionCode,
		TotalAmount:  g.Total.Round(2).InexactFloat64(),
		MeanAmount:   g.Mean.Round(2).InexactFloat64(),
		StdDevAmount: g.StdDev.Round(2).InexactFloat64(),
		Count:        int64(g.Count),
	}
}

func (g Group) strings() []string {
	return []string{
		g.LegalName,
		g.RegionCode,
		g.Total.StringFixed(2),
		g.Mean.StringFixed(2),
		g.StdDev.StringFixed(2),
		strconv.Itoa(g.Count),
	}
}

// WriteCSV replaces path with the groups as CSV, in order.
func WriteCSV(path string, groups []Group) error {
	out, err := ledger.CreateAtomic(path)
	if err != nil {
		return err
	}
	defer out.Abort()

	cw := csv.NewWriter(out)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "aggregate: write header")
	}
	for _, g := range groups {
		if err := cw.Write(g.strings()); err != nil {
			return eris.Wrap(err, "aggregate: write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "aggregate: flush csv")
	}
	return out.Commit()
}

// WriteParquet replaces path with the groups as a parquet file, in order.
func WriteParquet(path string, groups []Group) error {
	out, err := ledger.CreateAtomic(path)
	if err != nil {
		return err
	}
	defer out.Abort()

	rows := make([]Row, len(groups))
	for i, g := range groups {
		rows[i] = g.row()
	}

	pw := parquet.NewGenericWriter[Row](out)
	if _, err := pw.Write(rows); err != nil {
		return eris.Wrap(err, "aggregate: write parquet rows")
	}
	if err := pw.Close(); err != nil {
		return eris.Wrap(err, "aggregate: close parquet writer")
	}
	return out.Commit()
}

// ReadParquet loads rows written by WriteParquet.
func ReadParquet(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: read parquet %s", path)
	}
	return rows, nil
}
