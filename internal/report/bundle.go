package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ans-consolidator/internal/ledger"
)

// ManifestName is the manifest entry inside a bundle.
const ManifestName = "manifest.yaml"

// ManifestFile describes one bundled artifact.
type ManifestFile struct {
	Name   string `yaml:"name"`
	Bytes  int64  `yaml:"bytes"`
	SHA256 string `yaml:"sha256"`
}

// Manifest lists what a bundle contains.
type Manifest struct {
	RunID       string         `yaml:"run_id"`
	GeneratedAt time.Time      `yaml:"generated_at"`
	Quarters    []string       `yaml:"quarters"`
	Files       []ManifestFile `yaml:"files"`
}

// Bundle zips files (stored by base name) plus a generated manifest into
// dst. The zip replaces dst atomically.
func Bundle(dst string, files []string, m *Manifest) error {
	out, err := ledger.CreateAtomic(dst)
	if err != nil {
		return err
	}
	defer out.Abort()

	zw := zip.NewWriter(out)
	m.Files = m.Files[:0]
	for _, f := range files {
		mf, err := addFile(zw, f)
		if err != nil {
			return err
		}
		m.Files = append(m.Files, mf)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "bundle: marshal manifest")
	}
	w, err := zw.Create(ManifestName)
	if err != nil {
		return eris.Wrap(err, "bundle: create manifest entry")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "bundle: write manifest")
	}
	if err := zw.Close(); err != nil {
		return eris.Wrap(err, "bundle: close zip")
	}
	return out.Commit()
}

func addFile(zw *zip.Writer, src string) (ManifestFile, error) {
	f, err := os.Open(src)
	if err != nil {
		return ManifestFile{}, eris.Wrapf(err, "bundle: open %s", src)
	}
	defer f.Close() //nolint:errcheck

	name := filepath.Base(src)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return ManifestFile{}, eris.Wrapf(err, "bundle: create entry %s", name)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), f)
	if err != nil {
		return ManifestFile{}, eris.Wrapf(err, "bundle: copy %s", name)
	}
	return ManifestFile{Name: name, Bytes: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Publish uploads files to the bucket at bucketURL under prefix. Supported
// schemes are file://, s3:// and gs://.
func Publish(ctx context.Context, bucketURL, prefix string, files []string) error {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return eris.Wrapf(err, "publish: open bucket %s", bucketURL)
	}
	defer bucket.Close() //nolint:errcheck

	for _, f := range files {
		key := path.Join(prefix, filepath.Base(f))
		if err := upload(ctx, bucket, key, f); err != nil {
			return err
		}
		zap.L().Info("artifact published",
			zap.String("component", "report.publish"),
			zap.String("bucket", bucketURL),
			zap.String("key", key),
		)
	}
	return nil
}

func upload(ctx context.Context, bucket *blob.Bucket, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "publish: open %s", src)
	}
	defer f.Close() //nolint:errcheck

	w, err := bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return eris.Wrapf(err, "publish: create writer for %s", key)
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return eris.Wrapf(err, "publish: write %s", key)
	}
	if err := w.Close(); err != nil {
		return eris.Wrapf(err, "publish: close writer for %s", key)
	}
	return nil
}
