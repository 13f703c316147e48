package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "ans.operators")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns

	// TouchCol, when set, is stamped with now() on rows the upsert changes.
	TouchCol string
}

func (cfg UpsertConfig) validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateColumns() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	keys := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		keys[k] = true
	}
	var cols []string
	for _, c := range cfg.Columns {
		if !keys[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// stageTable names the session-local table rows are copied into first.
func (cfg UpsertConfig) stageTable() string {
	return "_stage_" + strings.ReplaceAll(cfg.Table, ".", "_")
}

// mergeSQL builds the statement that moves staged rows into the target. Rows
// repeating a key inside one load collapse to one, and rows whose values did
// not change are left untouched so RowsAffected counts real changes.
func (cfg UpsertConfig) mergeSQL() string {
	cols := quoteAndJoin(cfg.Columns)
	keys := quoteAndJoin(cfg.ConflictKeys)
	update := cfg.updateColumns()

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s AS t (%s) SELECT DISTINCT ON (%s) %s FROM %s ORDER BY %s ON CONFLICT (%s) ",
		sanitizeTable(cfg.Table), cols, keys, cols, pgx.Identifier{cfg.stageTable()}.Sanitize(), keys, keys)

	if len(update) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}

	set := make([]string, 0, len(update)+1)
	cur := make([]string, len(update))
	next := make([]string, len(update))
	for i, col := range update {
		q := pgx.Identifier{col}.Sanitize()
		set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		cur[i] = "t." + q
		next[i] = "EXCLUDED." + q
	}
	if cfg.TouchCol != "" {
		set = append(set, fmt.Sprintf("%s = now()", pgx.Identifier{cfg.TouchCol}.Sanitize()))
	}
	fmt.Fprintf(&b, "DO UPDATE SET %s WHERE (%s) IS DISTINCT FROM (%s)",
		strings.Join(set, ", "), strings.Join(cur, ", "), strings.Join(next, ", "))
	return b.String()
}

// BulkUpsert copies rows into a transaction-scoped staging table and merges
// them into the target with INSERT ... ON CONFLICT. It returns the number of
// rows inserted or changed.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := cfg.stageTable()
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{stage}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into staging table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, cfg.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

// identifier splits a possibly schema-qualified name like "ans.operators".
func identifier(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
