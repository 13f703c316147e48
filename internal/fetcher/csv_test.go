package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scanned struct {
	lines []int
	rows  [][]string
}

func scanCSV(ctx context.Context, input string, opts CSVOptions) (*scanned, error) {
	s := &scanned{}
	err := ScanCSV(ctx, strings.NewReader(input), opts, func(line int, rec []string) error {
		s.lines = append(s.lines, line)
		s.rows = append(s.rows, rec)
		return nil
	})
	return s, err
}

func TestScanCSV_Basic(t *testing.T) {
	s, err := scanCSV(context.Background(), "a|b\n 1 | 2 \n", CSVOptions{Delimiter: '|', TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, s.rows)
	assert.Equal(t, []int{1, 2}, s.lines)
}

func TestScanCSV_RaggedRows(t *testing.T) {
	s, err := scanCSV(context.Background(), "a;b;c\n1;2\n3;4;5;6\n", CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"1", "2"}, {"3", "4", "5", "6"}}, s.rows)
}

func TestScanCSV_MultilineFieldKeepsStartLine(t *testing.T) {
	s, err := scanCSV(context.Background(), "a,b\n\"multi\nline\",2\nc,d\n", CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, s.lines)
	assert.Equal(t, "multi\nline", s.rows[1][0])
}

func TestScanCSV_LazyQuotes(t *testing.T) {
	s, err := scanCSV(context.Background(), "a,b\nsaude \"x\" ltda,2\n", CSVOptions{LazyQuotes: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"saude \"x\" ltda", "2"}, s.rows[1])
}

func TestScanCSV_BadRowSkipped(t *testing.T) {
	var badLines []int
	s, err := scanCSV(context.Background(), "a,b\n\"x\"y,2\nc,d\n", CSVOptions{
		OnBadRow: func(line int, _ error) { badLines = append(badLines, line) },
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, s.rows)
	assert.Equal(t, []int{2}, badLines)
}

func TestScanCSV_BadRowFatalWithoutHandler(t *testing.T) {
	s, err := scanCSV(context.Background(), "a,b\n\"x\"y,2\nc,d\n", CSVOptions{})
	require.Error(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, s.rows)
}

func TestScanCSV_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ScanCSV(context.Background(), strings.NewReader("a\nb\nc\n"), CSVOptions{}, func(int, []string) error {
		calls++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
}

func TestScanCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := scanCSV(ctx, "a,b\n1,2\n", CSVOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.rows)
}
