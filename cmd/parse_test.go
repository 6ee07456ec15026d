package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camphq/bunkreq/internal/config"
	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/internal/store"
)

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	content := "camper_id,camper_name,grade,bunk_requests\n" +
		"c1,Emma Katz,5,bunk with Maya\n" +
		"c2,Sam Alter,5,don't put him with Dana\n" +
		"c3,Lena Ruiz,4,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testParseConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "parse.db"),
		},
		Provider: config.ProviderConfig{Name: "offline"},
		Batch: config.BatchConfig{
			MinBatchSize:       1,
			MaxBatchSize:       10,
			TokenBudget:        8000,
			MaxConcurrent:      2,
			MaxRetries:         1,
			InitialBackoffSecs: 0.001,
			MaxBackoffSecs:     0.01,
		},
		Camp: config.CampConfig{SessionID: "summer-a", Year: 2026},
	}
}

func TestParseCmd_Offline(t *testing.T) {
	cfg = testParseConfig(t)
	input := writeExport(t)

	parseOffline = true
	defer func() { parseOffline = false }()

	parseCmd.SetContext(context.Background())
	defer parseCmd.SetContext(context.TODO())

	require.NoError(t, parseCmd.RunE(parseCmd, []string{input}))

	st, err := store.NewSQLite(cfg.Store.DatabaseURL)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, "offline", runs[0].Provider)
	require.NotNil(t, runs[0].Stats)
	assert.Equal(t, 3, runs[0].Stats.TotalRequests)

	results, err := st.ListResults(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Emma Katz", results[0].Request.RequesterName)
	assert.Equal(t, "summer-a", results[0].Request.SessionID)
}

func TestParseCmd_DryRun(t *testing.T) {
	cfg = testParseConfig(t)
	input := writeExport(t)

	parseDryRun = true
	defer func() { parseDryRun = false }()

	parseCmd.SetContext(context.Background())
	defer parseCmd.SetContext(context.TODO())

	require.NoError(t, parseCmd.RunE(parseCmd, []string{input}))

	// A dry run never touches the store.
	_, err := os.Stat(cfg.Store.DatabaseURL)
	assert.True(t, os.IsNotExist(err))
}

func TestParseCmd_MissingFile(t *testing.T) {
	cfg = testParseConfig(t)

	parseCmd.SetContext(context.Background())
	defer parseCmd.SetContext(context.TODO())

	err := parseCmd.RunE(parseCmd, []string{filepath.Join(t.TempDir(), "missing.csv")})
	assert.Error(t, err)
}

func TestWriteOutput_Formats(t *testing.T) {
	v := map[string]int{"items": 3}

	f, err := os.CreateTemp(t.TempDir(), "out-*.json")
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	require.NoError(t, writeOutput(f, "json", v))
	require.NoError(t, writeOutput(f, "yaml", v))
	assert.Error(t, writeOutput(f, "toml", v))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "a", firstNonEmpty("a", "b"))
	assert.Equal(t, "b", firstNonEmpty("", "b"))
	assert.Empty(t, firstNonEmpty("", ""))
}
