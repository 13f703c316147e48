package enrich

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ans-consolidator/internal/ledger"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Relatorio_cadop.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeRegistry(t, "Registro_ANS;CNPJ;Razao_Social;Nome_Fantasia;Modalidade;Sigla_Municipio;UF\n"+
		"123456;11.444.777/0001-61;ALFA SAUDE S.A.;Alfa;Medicina de Grupo;SPO;sp\n"+
		"654321;11222333000505;BETA ODONTO;;Odontologia de Grupo;RIO;RJ\n"+
		"999999;11444777000161;ALFA DUPLICADA;;Cooperativa;BHZ;MG\n")

	reg, err := LoadRegistry(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	byCNPJ, ok := reg.Lookup("11444777000161")
	require.True(t, ok)
	assert.Equal(t, "ALFA SAUDE S.A.", byCNPJ.LegalName, "first occurrence wins")
	assert.Equal(t, "123456", byCNPJ.RegistryCode)
	assert.Equal(t, "Medicina de Grupo", byCNPJ.Modality)
	assert.Equal(t, "SP", byCNPJ.RegionCode)

	byCode, ok := reg.Lookup("123456")
	require.True(t, ok)
	assert.Same(t, byCNPJ, byCode)

	dup, ok := reg.Lookup("999999")
	require.True(t, ok, "a later record is still reachable by its own unclaimed key")
	assert.Equal(t, "ALFA DUPLICADA", dup.LegalName)

	_, ok = reg.Lookup("00000000000000")
	assert.False(t, ok)
}

func TestLoadRegistry_MissingKeyColumns(t *testing.T) {
	path := writeRegistry(t, "Razao_Social;UF\nALFA;SP\n")

	_, err := LoadRegistry(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrSchemaMissingField))
}

func TestResolveRegistryColumns_RegionExactMatch(t *testing.T) {
	cols, err := resolveRegistryColumns([]string{"CNPJ", "SIGLA_MUNICIPIO", "SIGLA_UF"})
	require.NoError(t, err)
	assert.Equal(t, 2, cols[regRegion])
	_, hasName := cols[regName]
	assert.False(t, hasName)
}

func TestNewRegistry_FirstWins(t *testing.T) {
	reg := NewRegistry([]RegistryRecord{
		{Identifier: "11444777000161", LegalName: "First"},
		{Identifier: "11444777000161", LegalName: "Second"},
	})
	rec, ok := reg.Lookup("11444777000161")
	require.True(t, ok)
	assert.Equal(t, "First", rec.LegalName)
	assert.Equal(t, 1, reg.Len())
}
