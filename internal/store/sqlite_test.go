package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleResults() []model.ParseResult {
	return []model.ParseResult{
		{
			Request: model.ParseRequest{RawText: "bunk with Maya", RequesterID: "c1", SessionID: "summer-a", Year: 2026},
			Parsed: []model.ParsedRequest{{
				Kind:       model.KindBunkWith,
				TargetName: "Maya",
				Confidence: 0.9,
				Originator: model.OriginatorFamily,
			}},
			Valid: true,
		},
		{
			Request:  model.ParseRequest{RawText: "???", RequesterID: "c2"},
			Valid:    false,
			Metadata: model.ResultMetadata{FailureReason: "no structured requests extracted"},
		},
	}
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "registrations.csv", "anthropic")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusParsing))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusParsing, got.Status)
	assert.Equal(t, "registrations.csv", got.Source)
	assert.Nil(t, got.Stats)

	stats := &model.RunStats{TotalRequests: 40, Parsed: 38, Failed: 2, EstimatedCost: 0.12}
	require.NoError(t, s.CompleteRun(ctx, run.ID, stats))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 38, got.Stats.Parsed)
	assert.Equal(t, 0.12, got.Stats.EstimatedCost)
}

func TestSQLiteFailRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "a.csv", "offline")
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, run.ID, "provider exploded"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "provider exploded", got.Error)
}

func TestSQLiteRunNotFound(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "nope")
	assert.Error(t, err)
	assert.Error(t, s.UpdateRunStatus(ctx, "nope", model.RunStatusParsing))
	assert.Error(t, s.CompleteRun(ctx, "nope", &model.RunStats{}))
	assert.Error(t, s.FailRun(ctx, "nope", "x"))
}

func TestSQLiteListRunsFilters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	r1, err := s.CreateRun(ctx, "a.csv", "anthropic")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "b.csv", "offline")
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, r1.ID, "boom"))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, r1.ID, failed[0].ID)

	offline, err := s.ListRuns(ctx, RunFilter{Provider: "offline"})
	require.NoError(t, err)
	require.Len(t, offline, 1)
	assert.Equal(t, "b.csv", offline[0].Source)

	none, err := s.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().UTC().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)

	recent, err := s.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().UTC().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteResultsRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "a.csv", "offline")
	require.NoError(t, err)

	results := sampleResults()
	require.NoError(t, s.SaveResults(ctx, run.ID, results))

	got, err := s.ListResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].Request.RequesterID)
	assert.True(t, got[0].Valid)
	require.Len(t, got[0].Parsed, 1)
	assert.Equal(t, "Maya", got[0].Parsed[0].TargetName)
	assert.False(t, got[1].Valid)
	assert.Equal(t, "no structured requests extracted", got[1].Metadata.FailureReason)
}

func TestSQLiteSaveResultsUpsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "a.csv", "offline")
	require.NoError(t, err)

	require.NoError(t, s.SaveResults(ctx, run.ID, sampleResults()))

	// Re-saving replaces rows at the same indices instead of duplicating.
	updated := sampleResults()
	updated[1].Valid = true
	updated[1].Metadata.FailureReason = ""
	require.NoError(t, s.SaveResults(ctx, run.ID, updated))

	got, err := s.ListResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Valid)
}

func TestSQLiteSaveResultsEmpty(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.SaveResults(context.Background(), "whatever", nil))
}

func TestSQLiteConflictsRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "a.csv", "offline")
	require.NoError(t, err)

	conflicts := []model.Conflict{
		{
			Type:           model.ConflictOpposingDirections,
			PersonIDs:      []string{"p1", "p2"},
			Description:    "Emma requests Maya, who requests to be kept apart from them",
			AutoResolvable: true,
			Confidence:     0.9,
			Resolution:     "staff note indicates the families already resolved this",
		},
		{
			Type:       model.ConflictFriendGroup,
			PersonIDs:  []string{"p1", "p2", "p3"},
			Confidence: 0.6,
		},
	}
	require.NoError(t, s.SaveConflicts(ctx, run.ID, conflicts))

	got, err := s.ListConflicts(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byType := map[model.ConflictType]model.Conflict{}
	for _, c := range got {
		byType[c.Type] = c
	}
	assert.True(t, byType[model.ConflictOpposingDirections].AutoResolvable)
	assert.Equal(t, []string{"p1", "p2", "p3"}, byType[model.ConflictFriendGroup].PersonIDs)

	empty, err := s.ListConflicts(ctx, "other-run")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
