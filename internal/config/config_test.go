package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Contains(t, cfg.Source.IndexURL, "{year}")
	assert.Equal(t, 60, cfg.Source.TimeoutSecs)
	assert.Equal(t, 3, cfg.Source.MaxRetries)
	assert.Equal(t, "data/work", cfg.Storage.WorkDir)
	assert.Equal(t, "data/output", cfg.Storage.OutputDir)
	assert.Equal(t, int64(2<<30), cfg.Extract.MaxBytes)
	assert.Equal(t, 10_000, cfg.Consolidate.BatchSize)
	assert.Equal(t, 50_000, cfg.Consolidate.ChunkSize)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 3, cfg.Pipeline.Quarters)
	assert.Equal(t, "data/runs.db", cfg.RunLog.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Output.PublishURL)
}

func TestLoadFromFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
source:
  archive_dir: /srv/archives
  keywords: [consolidado, trimestral]
pipeline:
  workers: 8
  quarters: 4
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/archives", cfg.Source.ArchiveDir)
	assert.Equal(t, []string{"consolidado", "trimestral"}, cfg.Source.Keywords)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 4, cfg.Pipeline.Quarters)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
pipeline:
  workers: 2
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ANS_PIPELINE_WORKERS", "6")
	t.Setenv("ANS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Pipeline.Workers)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ANS_CONSOLIDATE_CHUNK_SIZE", "1000")
	t.Setenv("ANS_OUTPUT_PUBLISH_URL", "file:///tmp/out")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Consolidate.ChunkSize)
	assert.Equal(t, "file:///tmp/out", cfg.Output.PublishURL)
}

func TestLoadInvalidValue(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ANS_PIPELINE_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "pipeline.workers failed min=1")
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("source: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

// validDefaults returns a Config with every constrained field populated.
func validDefaults() *Config {
	return &Config{
		Source: SourceConfig{
			IndexURL:    "https://example.org/{year}/",
			TimeoutSecs: 30,
			MaxRetries:  3,
			RatePerSec:  1,
		},
		Storage:     StorageConfig{WorkDir: "w", OutputDir: "o", TempDir: "t"},
		Consolidate: ConsolidateConfig{BatchSize: 10, ChunkSize: 10},
		Pipeline:    PipelineConfig{Workers: 1, Quarters: 3},
		RunLog:      RunLogConfig{Path: "runs.db"},
		Log:         LogConfig{Level: "info", Format: "json"},
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_SourceRequired(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.IndexURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "source.index_url")

	cfg.Source.ArchiveDir = "/srv/archives"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	cfg := validDefaults()
	cfg.Storage.WorkDir = ""
	cfg.Pipeline.Quarters = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.work_dir failed required")
	assert.Contains(t, err.Error(), "pipeline.quarters failed min=1")
	assert.Contains(t, err.Error(), "log.format failed oneof=json console")
}

func TestValidate_RateMustBePositive(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.RatePerSec = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.rate_per_sec failed gt=0")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "prod.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  workers: 12\nlog:\n  format: console\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Pipeline.Workers)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Pipeline.Quarters)
}

func TestLoadFile_MissingPath(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}
