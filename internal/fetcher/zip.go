package fetcher

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultMaxExtractBytes caps the cumulative size extracted from one archive.
const DefaultMaxExtractBytes int64 = 2 << 30

// Extractor materializes archive entries into a scratch directory.
// Entries whose resolved path escapes the destination are skipped.
type Extractor struct {
	// MaxBytes caps the cumulative extracted size. Zero means DefaultMaxExtractBytes,
	// a negative value disables the cap.
	MaxBytes int64
}

// ExtractResult lists what an extraction wrote and what it refused.
type ExtractResult struct {
	Files    []string
	Rejected []string
	Bytes    int64
}

// Extract writes every safe file entry of the ZIP at archivePath under destDir.
// The caller owns destDir and archivePath and must remove both on every exit path.
func (e *Extractor) Extract(archivePath, destDir string) (*ExtractResult, error) {
	log := zap.L().With(zap.String("component", "fetcher.extract"), zap.String("archive", filepath.Base(archivePath)))

	// ErrInsecurePath still yields a usable reader; entries are vetted one by one below.
	r, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, eris.Wrapf(ErrArchiveIntegrity, "zip: open archive %s: %v", archivePath, err)
	}
	defer r.Close() //nolint:errcheck

	limit := e.MaxBytes
	if limit == 0 {
		limit = DefaultMaxExtractBytes
	}

	res := &ExtractResult{}
	for _, f := range r.File {
		destPath, err := safeJoin(destDir, f.Name)
		if err != nil {
			log.Warn("skipping unsafe entry", zap.String("entry", f.Name))
			res.Rejected = append(res.Rejected, f.Name)
			continue
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return res, eris.Wrap(err, "zip: create directory")
			}
			continue
		}

		remaining := int64(-1)
		if limit > 0 {
			remaining = limit - res.Bytes
		}
		n, err := extractZIPEntry(f, destPath, remaining)
		res.Bytes += n
		if err != nil {
			return res, err
		}
		res.Files = append(res.Files, destPath)
	}

	log.Debug("archive extracted",
		zap.Int("files", len(res.Files)),
		zap.Int("rejected", len(res.Rejected)),
		zap.Int64("bytes", res.Bytes),
	)
	return res, nil
}

// safeJoin resolves name against destDir and fails if the result leaves destDir.
func safeJoin(destDir, name string) (string, error) {
	if name == "" || strings.Contains(name, `\`) || !filepath.IsLocal(filepath.FromSlash(strings.TrimSuffix(name, "/"))) {
		return "", eris.Wrapf(ErrUnsafePath, "zip: illegal path %q", name)
	}
	base := filepath.Clean(destDir)
	destPath := filepath.Join(base, filepath.FromSlash(name))
	if !strings.HasPrefix(destPath, base+string(os.PathSeparator)) {
		return "", eris.Wrapf(ErrUnsafePath, "zip: illegal path %q (zip slip attempt)", name)
	}
	return destPath, nil
}

// extractZIPEntry copies one file entry to destPath. A non-negative remaining
// bounds how many bytes may still be written before the archive is aborted.
func extractZIPEntry(f *zip.File, destPath string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return 0, eris.Wrapf(ErrArchiveIntegrity, "zip: open entry %s: %v", f.Name, err)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return 0, eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	var src io.Reader = rc
	if remaining >= 0 {
		// Read one byte past the budget so an overflow is observable.
		src = io.LimitReader(rc, remaining+1)
	}

	n, err := io.Copy(out, src)
	if err != nil {
		return n, eris.Wrapf(ErrArchiveIntegrity, "zip: write entry %s: %v", f.Name, err)
	}
	if remaining >= 0 && n > remaining {
		return n, eris.Wrapf(ErrSizeLimitExceeded, "zip: entry %s", f.Name)
	}
	return n, nil
}
