package ledger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortWriter writes at most budget bytes, then fails.
type shortWriter struct {
	w      io.Writer
	budget int
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) <= s.budget {
		s.budget -= len(p)
		return s.w.Write(p)
	}
	n, _ := s.w.Write(p[:s.budget])
	s.budget = 0
	return n, errors.New("disk full")
}

func rec(id, name, amount string, st Status) Record {
	r := Record{Identifier: id, LegalName: name, Quarter: 1, Year: 2024, Status: st}
	if amount != "" {
		r.Amount = amt(amount)
	}
	return r
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestTableWriter_HeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.csv")
	w := NewTableWriter(path, 2)

	require.NoError(t, w.Append([]Record{
		rec("11444777000161", "Alfa", "10.5", StatusOK),
		rec("123456", "Beta", "1", StatusIdentifierShortForm),
		rec("123", "", "0", StatusIdentifierInvalidLength),
	}))
	require.NoError(t, w.Append([]Record{rec("654321", "Gama, Ltda", "2", StatusIdentifierShortForm)}))

	lines := readLines(t, path)
	assert.Equal(t, []string{
		"identifier,legal_name,quarter,year,amount,validation_status",
		"11444777000161,Alfa,1,2024,10.5,OK",
		"123456,Beta,1,2024,1,IDENTIFIER_SHORT_FORM_VALID",
		"123,,1,2024,0,IDENTIFIER_INVALID_LENGTH",
		`654321,"Gama, Ltda",1,2024,2,IDENTIFIER_SHORT_FORM_VALID`,
	}, lines)
}

func TestTableWriter_EmptyAppendWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.csv")
	w := NewTableWriter(path, 0)
	require.NoError(t, w.Append(nil))
	assert.Equal(t, []string{strings.Join(Columns, ",")}, readLines(t, path))
}

func TestTableWriter_FailedAppendRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.csv")
	w := NewTableWriter(path, 1)
	require.NoError(t, w.Append([]Record{rec("11444777000161", "Alfa", "1", StatusOK)}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	w.wrap = func(out io.Writer) io.Writer { return &shortWriter{w: out, budget: 20} }
	err = w.Append([]Record{
		rec("123456", "Beta", "1", StatusIdentifierShortForm),
		rec("654321", "Gama", "1", StatusIdentifierShortForm),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConsolidationWrite))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	// The writer stays usable once the fault clears.
	w.wrap = nil
	require.NoError(t, w.Append([]Record{rec("654321", "Gama", "1", StatusIdentifierShortForm)}))
	assert.Len(t, readLines(t, path), 3)
}

func TestTableWriter_FailedFirstAppendLeavesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.csv")
	w := NewTableWriter(path, 10)
	w.wrap = func(out io.Writer) io.Writer { return &shortWriter{w: out, budget: 5} }

	err := w.Append([]Record{rec("123456", "Beta", "1", StatusIdentifierShortForm)})
	require.Error(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestTableWriter_ConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.csv")
	w := NewTableWriter(path, 3)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var batch []Record
			for j := range 10 {
				batch = append(batch, rec(fmt.Sprintf("%06d", i*100+j), "Nome", "1", StatusIdentifierShortForm))
			}
			assert.NoError(t, w.Append(batch))
		}()
	}
	wg.Wait()

	lines := readLines(t, path)
	assert.Len(t, lines, 81)
	assert.Equal(t, strings.Join(Columns, ","), lines[0])
	for _, l := range lines[1:] {
		assert.NotEqual(t, strings.Join(Columns, ","), l)
	}
}

func TestTableWriter_Reset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.csv")
	w := NewTableWriter(path, 0)
	require.NoError(t, w.Append([]Record{rec("123456", "Beta", "1", StatusIdentifierShortForm)}))
	require.NoError(t, w.Reset())
	require.NoError(t, w.Append([]Record{rec("654321", "Gama", "1", StatusIdentifierShortForm)}))
	assert.Len(t, readLines(t, path), 2)
}

func TestChunkReader_PagesAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.csv")
	w := NewTableWriter(path, 0)
	var recs []Record
	for i := range 5 {
		recs = append(recs, rec(fmt.Sprintf("%06d", i), "Nome", "1", StatusIdentifierShortForm))
	}
	require.NoError(t, w.Append(recs))

	cr := NewChunkReader(path, 2)
	defer cr.Close() //nolint:errcheck

	var sizes []int
	for {
		rows, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(rows))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	require.NoError(t, cr.Reset())
	rows, err := cr.Next()
	require.NoError(t, err)
	assert.Equal(t, "000000", rows[0][ColIdentifier])
}

func TestChunkReader_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := NewChunkReader(path, 2).Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestEachRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.csv")
	w := NewTableWriter(path, 0)
	require.NoError(t, w.Append([]Record{
		rec("11444777000161", "Alfa", "1.5", StatusOK),
		rec("123456", "Beta", "", StatusValueNull),
	}))

	var got []Record
	require.NoError(t, EachRecord(path, 1, func(r Record) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, StatusValueNull, got[1].Status)
	assert.False(t, got[1].Amount.Valid)
}

func TestAtomicFile_AbortKeepsTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	a, err := CreateAtomic(path)
	require.NoError(t, err)
	_, err = a.WriteString("new")
	require.NoError(t, err)
	a.Abort()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed")
}

func TestAtomicFile_Commit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	a, err := CreateAtomic(path)
	require.NoError(t, err)
	_, err = a.WriteString("new")
	require.NoError(t, err)
	require.NoError(t, a.Commit())
	a.Abort()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
