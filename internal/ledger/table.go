package ledger

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of rows written between flushes.
const DefaultBatchSize = 10_000

// TableWriter appends records to the consolidated CSV table. Appends are
// serialized; a failed append leaves the file at its previous size.
type TableWriter struct {
	path      string
	batchSize int

	mu sync.Mutex
	// wrap, when set, wraps the file writer. Tests use it to inject failures.
	wrap func(io.Writer) io.Writer
}

// NewTableWriter returns a writer for the table at path.
func NewTableWriter(path string, batchSize int) *TableWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &TableWriter{path: path, batchSize: batchSize}
}

// Path returns the table location.
func (w *TableWriter) Path() string { return w.path }

// Reset truncates the table to an empty file so the next append writes the header.
func (w *TableWriter) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.Create(w.path)
	if err != nil {
		return eris.Wrapf(ErrConsolidationWrite, "reset %s: %v", w.path, err)
	}
	return f.Close()
}

// Exclusive runs fn while holding the append lock.
func (w *TableWriter) Exclusive(fn func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn()
}

// Append writes records after the existing rows, writing the header first if
// the table is empty. Any failure truncates the file back to its size before
// the call and returns ErrConsolidationWrite.
func (w *TableWriter) Append(records []Record) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(ErrConsolidationWrite, "open %s: %v", w.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return eris.Wrapf(ErrConsolidationWrite, "stat %s: %v", w.path, err)
	}
	start := info.Size()

	defer func() {
		if err != nil {
			if terr := f.Truncate(start); terr != nil {
				zap.L().Error("truncate after failed append",
					zap.String("component", "ledger.table"),
					zap.String("path", w.path),
					zap.Error(terr),
				)
			}
			_ = f.Close()
			err = eris.Wrapf(ErrConsolidationWrite, "append %s: %v", w.path, err)
			return
		}
		if cerr := f.Close(); cerr != nil {
			err = eris.Wrapf(ErrConsolidationWrite, "close %s: %v", w.path, cerr)
		}
	}()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}

	var out io.Writer = f
	if w.wrap != nil {
		out = w.wrap(f)
	}
	cw := csv.NewWriter(out)

	if start == 0 {
		if err := cw.Write(Columns); err != nil {
			return err
		}
	}
	for i, r := range records {
		if err := cw.Write(r.Strings()); err != nil {
			return err
		}
		if (i+1)%w.batchSize == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// ChunkReader pages through the consolidated table a fixed number of rows at a
// time. It can be rewound with Reset to drive a second pass.
type ChunkReader struct {
	path   string
	size   int
	f      *os.File
	r      *csv.Reader
	header []string
}

// DefaultChunkSize is the page size used by the duplicate pass.
const DefaultChunkSize = 50_000

// NewChunkReader returns a reader over the table at path with pages of size rows.
func NewChunkReader(path string, size int) *ChunkReader {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkReader{path: path, size: size}
}

func (c *ChunkReader) open() error {
	f, err := os.Open(c.path)
	if err != nil {
		return eris.Wrapf(err, "chunk: open %s", c.path)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Columns)
	header, err := r.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return eris.Wrapf(err, "chunk: read header %s", c.path)
	}
	c.f, c.r, c.header = f, r, header
	return nil
}

// Header returns the table header, reading it if needed.
func (c *ChunkReader) Header() ([]string, error) {
	if c.f == nil {
		if err := c.open(); err != nil {
			return nil, err
		}
	}
	return c.header, nil
}

// Next returns the next page of rows, or io.EOF once the table is exhausted.
func (c *ChunkReader) Next() ([][]string, error) {
	if c.f == nil {
		if err := c.open(); err != nil {
			return nil, err
		}
	}
	if c.header == nil {
		return nil, io.EOF
	}
	rows := make([][]string, 0, min(c.size, 1024))
	for len(rows) < c.size {
		rec, err := c.r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "chunk: read %s", c.path)
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}
	return rows, nil
}

// Reset rewinds to the first data row.
func (c *ChunkReader) Reset() error {
	if err := c.Close(); err != nil {
		return err
	}
	return c.open()
}

// Close releases the underlying file.
func (c *ChunkReader) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f, c.r, c.header = nil, nil, nil
	return err
}

// EachRecord streams the table at path through fn one record at a time.
func EachRecord(path string, chunkSize int, fn func(Record) error) error {
	cr := NewChunkReader(path, chunkSize)
	defer cr.Close() //nolint:errcheck
	for {
		rows, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, row := range rows {
			rec, err := ParseRecord(row)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
}
