package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ans-consolidator/internal/config"
	"github.com/sells-group/ans-consolidator/internal/ledger"
	"github.com/sells-group/ans-consolidator/internal/pipeline"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func newPeriodCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "x"}
	addPeriodFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestResolvePeriods(t *testing.T) {
	withConfig(t, &config.Config{Pipeline: config.PipelineConfig{Quarters: 2}})
	now := time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)

	got, err := resolvePeriods(newPeriodCmd(t, "--quarters", "2023Q4,2024Q1"), now)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Period{{Year: 2023, Quarter: 4}, {Year: 2024, Quarter: 1}}, got)

	got, err = resolvePeriods(newPeriodCmd(t, "--latest", "1"), now)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Period{{Year: 2024, Quarter: 2}}, got)

	got, err = resolvePeriods(newPeriodCmd(t), now)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Period{{Year: 2024, Quarter: 1}, {Year: 2024, Quarter: 2}}, got)

	_, err = resolvePeriods(newPeriodCmd(t, "--quarters", "bogus"), now)
	assert.Error(t, err)
}

func TestNewSource(t *testing.T) {
	c := &config.Config{}
	c.Source.IndexURL = "https://example.org/{year}/"
	c.Storage.WorkDir = "work"

	_, ok := newSource(c, newFetcher(c)).(*pipeline.IndexSource)
	assert.True(t, ok)

	c.Source.ArchiveDir = "/srv/archives"
	ds, ok := newSource(c, newFetcher(c)).(*pipeline.DirSource)
	require.True(t, ok)
	assert.Equal(t, "/srv/archives", ds.Dir)
}
