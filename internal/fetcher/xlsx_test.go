package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanXLSX(t *testing.T, path string, opts XLSXOptions) ([][]string, error) {
	t.Helper()
	var rows [][]string
	err := ScanXLSX(context.Background(), path, opts, func(rec []string) error {
		rows = append(rows, rec)
		return nil
	})
	return rows, err
}

func TestScanXLSX_SkipsTitleAndBlankRows(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"Demonstrações Contábeis 1T2024"},
		{"", ""},
		{" REG_ANS ", "VL_SALDO_FINAL", ""},
		{"123456", "10,50"},
		{"", "", ""},
		{"654321", "1,00"},
	})

	rows, err := scanXLSX(t, path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"REG_ANS", "VL_SALDO_FINAL"},
		{"123456", "10,50"},
		{"654321", "1,00"},
	}, rows)
}

func TestScanXLSX_SingleCellRowsAfterHeaderKept(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"REG_ANS", "VL_SALDO_FINAL"},
		{"123456"},
	})

	rows, err := scanXLSX(t, path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"REG_ANS", "VL_SALDO_FINAL"}, {"123456"}}, rows)
}

func TestScanXLSX_NamedSheet(t *testing.T) {
	path := createTestXLSX(t, [][]string{{"a", "b"}})

	rows, err := scanXLSX(t, path, XLSXOptions{SheetName: "Sheet1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = scanXLSX(t, path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func TestScanXLSX_EmptyWorkbook(t *testing.T) {
	path := createTestXLSX(t, nil)

	_, err := scanXLSX(t, path, XLSXOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseExhausted)
}

func TestScanXLSX_Cancelled(t *testing.T) {
	path := createTestXLSX(t, [][]string{{"a", "b"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ScanXLSX(ctx, path, XLSXOptions{}, func([]string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
