package fetcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name    string
	content string
}

func createTestZIP(t *testing.T, entries ...zipEntry) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtract_MultiFile(t *testing.T) {
	zipPath := createTestZIP(t,
		zipEntry{"1T2024.csv", "REG_ANS;VL_SALDO_FINAL\n123456;10,00\n"},
		zipEntry{"sub/notes.txt", "a;b\n"},
	)

	destDir := t.TempDir()
	res, err := (&Extractor{}).Extract(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, res.Files, 2)
	assert.Empty(t, res.Rejected)

	data, err := os.ReadFile(filepath.Join(destDir, "sub", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a;b\n", string(data))
}

func TestExtract_ZipSlipEntryRejected(t *testing.T) {
	zipPath := createTestZIP(t,
		zipEntry{"../outside.txt", "pwned"},
		zipEntry{"inside.csv", "a;b\n1;2\n"},
	)

	root := t.TempDir()
	destDir := filepath.Join(root, "dest")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	res, err := (&Extractor{}).Extract(zipPath, destDir)
	require.NoError(t, err, "an unsafe entry must not abort the archive")

	assert.Equal(t, []string{"../outside.txt"}, res.Rejected)
	assert.Equal(t, []string{filepath.Join(destDir, "inside.csv")}, res.Files)
	assert.NoFileExists(t, filepath.Join(root, "outside.txt"))
	assert.NoFileExists(t, filepath.Join(destDir, "outside.txt"))
}

func TestExtract_AbsoluteAndBackslashPathsRejected(t *testing.T) {
	zipPath := createTestZIP(t,
		zipEntry{"/etc/cron.d/job", "x"},
		zipEntry{`..\..\evil.bat`, "x"},
		zipEntry{"ok.csv", "a,b"},
	)

	res, err := (&Extractor{}).Extract(zipPath, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, res.Rejected, 2)
	assert.Len(t, res.Files, 1)
}

func TestExtract_SizeLimitAbortsArchive(t *testing.T) {
	zipPath := createTestZIP(t,
		zipEntry{"small.csv", "12345"},
		zipEntry{"big.csv", "0123456789012345678901234567890123456789"},
	)

	res, err := (&Extractor{MaxBytes: 16}).Extract(zipPath, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSizeLimitExceeded))
	require.NotNil(t, res)
	assert.Len(t, res.Files, 1, "files before the overflow are reported")
}

func TestExtract_SizeLimitDisabled(t *testing.T) {
	zipPath := createTestZIP(t, zipEntry{"big.csv", "0123456789012345678901234567890123456789"})

	res, err := (&Extractor{MaxBytes: -1}).Extract(zipPath, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.Bytes)
}

func TestExtract_CorruptArchive(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("this is not a zip"), 0o644))

	_, err := (&Extractor{}).Extract(zipPath, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArchiveIntegrity))
}

func TestSafeJoin(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "d")
	tests := []struct {
		name    string
		entry   string
		wantErr bool
	}{
		{name: "plain", entry: "a.csv"},
		{name: "nested", entry: "x/y/a.csv"},
		{name: "dot segments that stay inside", entry: "x/../a.csv"},
		{name: "parent escape", entry: "../a.csv", wantErr: true},
		{name: "deep escape", entry: "x/../../a.csv", wantErr: true},
		{name: "absolute", entry: "/a.csv", wantErr: true},
		{name: "empty", entry: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := safeJoin(dest, tt.entry)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnsafePath))
				return
			}
			require.NoError(t, err)
			assert.Contains(t, p, dest)
		})
	}
}
