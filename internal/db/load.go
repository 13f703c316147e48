package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/ans-consolidator/internal/enrich"
)

// Target tables.
const (
	OperatorsTable = "ans.operators"
	ExpensesTable  = "ans.expenses"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS ans;

CREATE TABLE IF NOT EXISTS ans.operators (
	identifier    TEXT PRIMARY KEY,
	registry_code TEXT NOT NULL,
	legal_name    TEXT NOT NULL,
	modality      TEXT NOT NULL,
	region_code   TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ans.expenses (
	id                BIGSERIAL PRIMARY KEY,
	run_id            TEXT NOT NULL,
	identifier        TEXT NOT NULL,
	legal_name        TEXT NOT NULL,
	year              INTEGER NOT NULL,
	quarter           SMALLINT NOT NULL CHECK (quarter BETWEEN 1 AND 4),
	amount            NUMERIC(18,2),
	validation_status TEXT NOT NULL,
	registry_code     TEXT NOT NULL,
	region_code       TEXT NOT NULL,
	enrichment_status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expenses_identifier ON ans.expenses (identifier);
CREATE INDEX IF NOT EXISTS idx_expenses_period ON ans.expenses (year, quarter);
CREATE INDEX IF NOT EXISTS idx_expenses_status ON ans.expenses (validation_status);
`

var (
	operatorColumns = []string{"identifier", "registry_code", "legal_name", "modality", "region_code"}
	expenseColumns  = []string{
		"run_id", "identifier", "legal_name", "year", "quarter", "amount",
		"validation_status", "registry_code", "region_code", "enrichment_status",
	}
)

// LoadStats reports what a load wrote.
type LoadStats struct {
	Expenses  int64
	Operators int64
}

// Loader copies the enriched table into PostgreSQL.
type Loader struct {
	pool      Pool
	batchSize int
}

// NewLoader returns a Loader that flushes every batchSize expense rows.
func NewLoader(pool Pool, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = 10_000
	}
	return &Loader{pool: pool, batchSize: batchSize}
}

// Migrate creates the schema and tables if needed.
func (l *Loader) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, schemaSQL)
	return eris.Wrap(err, "db: migrate")
}

// LoadEnriched streams the enriched table at path into ans.expenses and
// upserts each matched operator into ans.operators.
func (l *Loader) LoadEnriched(ctx context.Context, path, runID string) (*LoadStats, error) {
	stats := &LoadStats{}
	expenses := NewCopier(l.pool, ExpensesTable, expenseColumns, l.batchSize)
	operators := make(map[string]struct{})
	var operatorRows [][]any

	err := enrich.EachRecord(path, func(r enrich.Record) error {
		err := expenses.Add(ctx, []any{
			runID, r.Identifier, r.LegalName, r.Year, int16(r.Quarter), numeric(r.Amount),
			string(r.Status), r.RegistryCode, r.RegionCode, string(r.EnrichmentStatus),
		})
		if err != nil {
			return err
		}
		if r.EnrichmentStatus != enrich.StatusEnriched {
			return nil
		}
		if _, seen := operators[r.Identifier]; seen {
			return nil
		}
		operators[r.Identifier] = struct{}{}
		operatorRows = append(operatorRows, []any{r.Identifier, r.RegistryCode, r.LegalName, r.Modality, r.RegionCode})
		return nil
	})
	if err != nil {
		return stats, err
	}
	if err := expenses.Flush(ctx); err != nil {
		return stats, err
	}
	stats.Expenses = expenses.Copied()

	n, err := BulkUpsert(ctx, l.pool, UpsertConfig{
		Table:        OperatorsTable,
		Columns:      operatorColumns,
		ConflictKeys: []string{"identifier"},
		TouchCol:     "updated_at",
	}, operatorRows)
	if err != nil {
		return stats, err
	}
	stats.Operators = n

	zap.L().Info("enriched table loaded",
		zap.String("component", "db.load"),
		zap.String("run_id", runID),
		zap.Int64("expenses", stats.Expenses),
		zap.Int64("operators", stats.Operators),
	)
	return stats, nil
}

// numeric converts an optional decimal to a NUMERIC parameter without going through float64.
func numeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}
