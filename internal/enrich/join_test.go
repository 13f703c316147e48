package enrich

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ans-consolidator/internal/ledger"
)

func ledgerRec(id, name, amount string, st ledger.Status) ledger.Record {
	return ledger.Record{
		Identifier: id,
		LegalName:  name,
		Quarter:    1,
		Year:       2024,
		Amount:     decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		Status:     st,
	}
}

func testRegistry() *Registry {
	return NewRegistry([]RegistryRecord{
		{Identifier: "11444777000161", RegistryCode: "123456", LegalName: "ALFA SAUDE", Modality: "Cooperativa Médica", RegionCode: "SP"},
		{Identifier: "11222333000505", LegalName: "BETA ODONTO"},
	})
}

func TestEnrich_BackfillsPlaceholderName(t *testing.T) {
	j := NewJoiner(testRegistry(), 0)

	out, backfilled := j.Enrich(ledgerRec("11444777000161", "N/A", "10", ledger.StatusNameEmpty))
	assert.True(t, backfilled)
	assert.Equal(t, "ALFA SAUDE", out.LegalName)
	assert.Equal(t, StatusEnriched, out.EnrichmentStatus)
	assert.Equal(t, "123456", out.RegistryCode)
	assert.Equal(t, ledger.StatusNameEmpty, out.Status, "validation status is not rewritten by the join")
}

func TestEnrich_KeepsRealName(t *testing.T) {
	j := NewJoiner(testRegistry(), 0)

	out, backfilled := j.Enrich(ledgerRec("11444777000161", "Alfa Regional", "10", ledger.StatusOK))
	assert.False(t, backfilled)
	assert.Equal(t, "Alfa Regional", out.LegalName)
}

func TestEnrich_ShortFormJoinsOnRegistryCode(t *testing.T) {
	j := NewJoiner(testRegistry(), 0)

	out, _ := j.Enrich(ledgerRec("123456", "Alfa", "10", ledger.StatusIdentifierShortForm))
	assert.Equal(t, StatusEnriched, out.EnrichmentStatus)
	assert.Equal(t, "SP", out.RegionCode)
}

func TestEnrich_Sentinels(t *testing.T) {
	j := NewJoiner(testRegistry(), 0)

	miss, _ := j.Enrich(ledgerRec("99999999000191", "Gama", "1", ledger.StatusOK))
	assert.Equal(t, StatusNoRegistryMatch, miss.EnrichmentStatus)
	assert.Equal(t, RegistryCodeMissing, miss.RegistryCode)
	assert.Equal(t, ModalityNotInformed, miss.Modality)
	assert.Equal(t, RegionUnknown, miss.RegionCode)

	partial, _ := j.Enrich(ledgerRec("11222333000505", "Beta", "1", ledger.StatusOK))
	assert.Equal(t, StatusEnriched, partial.EnrichmentStatus)
	assert.Equal(t, RegistryCodeMissing, partial.RegistryCode)
	assert.Equal(t, ModalityNotInformed, partial.Modality)
	assert.Equal(t, RegionUnknown, partial.RegionCode)
}

func TestJoin_WritesEnrichedTable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "consolidated.csv")
	dst := filepath.Join(dir, "out", "enriched.csv")

	w := ledger.NewTableWriter(src, 0)
	require.NoError(t, w.Append([]ledger.Record{
		ledgerRec("11444777000161", "N/A", "10", ledger.StatusNameEmpty),
		ledgerRec("11444777000161", "Alfa Regional", "5", ledger.StatusOK),
		ledgerRec("99999999000191", "Gama", "1", ledger.StatusOK),
	}))

	stats, err := NewJoiner(testRegistry(), 2).Join(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, Stats{Rows: 3, Enriched: 2, Unmatched: 1, NamesBackfilled: 1}, *stats)
	assert.InDelta(t, 2.0/3.0, stats.MatchRate(), 1e-9)

	var got []Record
	require.NoError(t, EachRecord(dst, func(r Record) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 3)
	assert.Equal(t, "ALFA SAUDE", got[0].LegalName)
	assert.Equal(t, "Alfa Regional", got[1].LegalName)
	assert.Equal(t, StatusNoRegistryMatch, got[2].EnrichmentStatus)

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestParseRecord_RejectsUnknownStatus(t *testing.T) {
	row := Record{Record: ledgerRec("123456", "A", "1", ledger.StatusIdentifierShortForm), EnrichmentStatus: "MAYBE"}.Strings()
	_, err := ParseRecord(row)
	assert.Error(t, err)
}
