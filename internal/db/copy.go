package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Copier streams rows into one table with the COPY protocol, one round trip
// per batch.
type Copier struct {
	pool    Pool
	name    string
	table   pgx.Identifier
	columns []string
	size    int

	batch  [][]any
	copied int64
}

// NewCopier returns a Copier for table. A schema-qualified name such as
// "ans.expenses" is split into its parts. A non-positive batchSize means 10,000.
func NewCopier(pool Pool, table string, columns []string, batchSize int) *Copier {
	if batchSize <= 0 {
		batchSize = 10_000
	}
	return &Copier{
		pool:    pool,
		name:    table,
		table:   identifier(table),
		columns: columns,
		size:    batchSize,
		batch:   make([][]any, 0, batchSize),
	}
}

// Add queues one row and copies the batch once it is full.
func (c *Copier) Add(ctx context.Context, row []any) error {
	if len(row) != len(c.columns) {
		return eris.Errorf("db: %s: row has %d values, want %d", c.name, len(row), len(c.columns))
	}
	c.batch = append(c.batch, row)
	if len(c.batch) >= c.size {
		return c.Flush(ctx)
	}
	return nil
}

// Flush copies any queued rows.
func (c *Copier) Flush(ctx context.Context) error {
	if len(c.batch) == 0 {
		return nil
	}
	n, err := c.pool.CopyFrom(ctx, c.table, c.columns, pgx.CopyFromRows(c.batch))
	if err != nil {
		return eris.Wrapf(err, "db: COPY INTO %s", c.name)
	}
	c.copied += n
	c.batch = c.batch[:0]
	return nil
}

// Copied is the number of rows the server acknowledged so far.
func (c *Copier) Copied() int64 { return c.copied }
