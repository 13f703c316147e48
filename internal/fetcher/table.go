package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format is the encoding/delimiter combination a table was read with.
type Format struct {
	Encoding  string
	Delimiter rune
}

// RawRow is one source row: values aligned to the file's header.
type RawRow struct {
	Header []string
	Values []string
}

// Get returns the value in column i, or "" when out of range.
func (r RawRow) Get(i int) string {
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}

// Table describes a file after it has been read.
type Table struct {
	Path    string
	Format  Format
	Header  []string
	Rows    int
	Skipped int
}

type namedEncoding struct {
	name string
	enc  encoding.Encoding
}

// Candidate order is fixed so identical bytes always resolve the same way.
var (
	tableEncodings = []namedEncoding{
		{name: "utf-8", enc: unicode.UTF8BOM},
		{name: "iso-8859-1", enc: charmap.ISO8859_1},
		{name: "windows-1252", enc: charmap.Windows1252},
	}
	tableDelimiters = []rune{';', ',', '\t', '|'}
)

const formatXLSX = "xlsx"

// SniffFormat picks the first encoding/delimiter combination whose header
// parses into more than one column. It returns ErrParseExhausted when none does.
func SniffFormat(path string) (Format, []string, error) {
	if isXLSX(path) {
		return Format{Encoding: formatXLSX}, nil, nil
	}

	for _, ne := range tableEncodings {
		if ne.name == "utf-8" {
			ok, err := validUTF8File(path)
			if err != nil {
				return Format{}, nil, err
			}
			if !ok {
				continue
			}
		}
		for _, delim := range tableDelimiters {
			header, err := readHeader(path, ne.enc, delim)
			if err != nil {
				continue
			}
			if len(header) > 1 {
				return Format{Encoding: ne.name, Delimiter: delim}, header, nil
			}
		}
	}

	return Format{}, nil, eris.Wrapf(ErrParseExhausted, "table: %s", filepath.Base(path))
}

// ReadTable streams the rows of a CSV/TXT/XLSX file to fn after sniffing its
// format. Unparseable lines are skipped and counted. A non-nil error from fn
// stops the read and is returned.
func ReadTable(ctx context.Context, path string, fn func(RawRow) error) (*Table, error) {
	log := zap.L().With(zap.String("component", "fetcher.table"), zap.String("file", filepath.Base(path)))

	format, _, err := SniffFormat(path)
	if err != nil {
		return nil, err
	}

	tbl := &Table{Path: path, Format: format}
	var fnErr error
	record := func(rec []string) error {
		if tbl.Header == nil {
			tbl.Header = rec
			return nil
		}
		tbl.Rows++
		fnErr = fn(RawRow{Header: tbl.Header, Values: alignRow(rec, len(tbl.Header))})
		return fnErr
	}

	if format.Encoding == formatXLSX {
		err = ScanXLSX(ctx, path, XLSXOptions{}, record)
	} else {
		file, openErr := os.Open(path)
		if openErr != nil {
			return nil, eris.Wrap(openErr, "table: open")
		}
		defer file.Close() //nolint:errcheck

		err = ScanCSV(ctx, transform.NewReader(file, encodingByName(format.Encoding).NewDecoder()), CSVOptions{
			Delimiter:  format.Delimiter,
			TrimSpace:  true,
			LazyQuotes: true,
			OnBadRow: func(line int, err error) {
				tbl.Skipped++
				log.Debug("skipping unparseable line", zap.Int("line", line), zap.Error(err))
			},
		}, func(_ int, rec []string) error { return record(rec) })
	}

	if fnErr != nil {
		return tbl, fnErr
	}
	if err != nil {
		return tbl, eris.Wrapf(err, "table: read %s", filepath.Base(path))
	}
	if len(tbl.Header) < 2 {
		return tbl, eris.Wrapf(ErrParseExhausted, "table: %s has no usable header", filepath.Base(path))
	}

	log.Debug("table read",
		zap.String("encoding", format.Encoding),
		zap.String("delimiter", string(format.Delimiter)),
		zap.Int("rows", tbl.Rows),
		zap.Int("skipped", tbl.Skipped),
	)
	return tbl, nil
}

// IsTabular reports whether a file extension is one ReadTable understands.
func IsTabular(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".xlsx":
		return true
	}
	return false
}

func isXLSX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

func encodingByName(name string) encoding.Encoding {
	for _, ne := range tableEncodings {
		if ne.name == name {
			return ne.enc
		}
	}
	return unicode.UTF8BOM
}

// readHeader parses the first record of path with the given encoding and delimiter.
func readHeader(path string, enc encoding.Encoding, delim rune) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "table: open")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(transform.NewReader(f, enc.NewDecoder()))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	return header, nil
}

// validUTF8File reports whether the whole file is valid UTF-8, reading it in
// constant memory.
func validUTF8File(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, eris.Wrap(err, "table: open")
	}
	defer f.Close() //nolint:errcheck

	br := bufio.NewReaderSize(f, 64*1024)
	for {
		r, size, err := br.ReadRune()
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, eris.Wrap(err, "table: read")
		}
		if r == utf8.RuneError && size == 1 {
			return false, nil
		}
	}
}

// alignRow pads or truncates rec to n columns.
func alignRow(rec []string, n int) []string {
	switch {
	case len(rec) == n:
		return rec
	case len(rec) > n:
		return rec[:n]
	default:
		padded := make([]string, n)
		copy(padded, rec)
		return padded
	}
}
