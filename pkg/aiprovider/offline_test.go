package aiprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineParse(t *testing.T, text string) *ParsedResponse {
	t.Helper()
	resp, err := NewOffline().ParseRequest(context.Background(), text, RequestContext{})
	require.NoError(t, err)
	return resp
}

func kinds(resp *ParsedResponse) []string {
	out := make([]string, len(resp.Extractions))
	for i, e := range resp.Extractions {
		out[i] = e.Kind
	}
	return out
}

func targets(resp *ParsedResponse) []string {
	out := make([]string, len(resp.Extractions))
	for i, e := range resp.Extractions {
		out[i] = e.TargetName
	}
	return out
}

func TestOfflinePositiveRequest(t *testing.T) {
	resp := offlineParse(t, "Please bunk with Maya Goldberg")
	require.Len(t, resp.Extractions, 1)
	e := resp.Extractions[0]
	assert.Equal(t, "bunk_with", e.Kind)
	assert.Equal(t, "Maya Goldberg", e.TargetName)
	assert.Equal(t, 0.85, e.Confidence)
	assert.False(t, resp.NoIntent)
}

func TestOfflineMultipleNames(t *testing.T) {
	resp := offlineParse(t, "She wants to be with Maya, Lena and Sam Alter this summer")
	assert.Equal(t, []string{"Maya", "Lena", "Sam Alter"}, targets(resp))
	for i, e := range resp.Extractions {
		assert.Equal(t, i, e.Position)
	}
}

func TestOfflineNegativeRequest(t *testing.T) {
	resp := offlineParse(t, "Please don't put her with Dana this year")
	require.Len(t, resp.Extractions, 1)
	assert.Equal(t, "not_bunk_with", resp.Extractions[0].Kind)
	assert.Equal(t, "Dana", resp.Extractions[0].TargetName)
	assert.Equal(t, 0.9, resp.Extractions[0].Confidence)
}

func TestOfflineNegativeClaimsBeforePositive(t *testing.T) {
	// "not with Dana" must never double as a positive request for Dana.
	resp := offlineParse(t, "She should bunk with Maya but not with Dana")
	assert.ElementsMatch(t, []string{"not_bunk_with", "bunk_with"}, kinds(resp))
	for _, e := range resp.Extractions {
		if e.TargetName == "Dana" {
			assert.Equal(t, "not_bunk_with", e.Kind)
		}
		if e.TargetName == "Maya" {
			assert.Equal(t, "bunk_with", e.Kind)
		}
	}
}

func TestOfflineAgePreference(t *testing.T) {
	older := offlineParse(t, "She does better with the older kids")
	require.Len(t, older.Extractions, 1)
	assert.Equal(t, "age_preference", older.Extractions[0].Kind)
	assert.Equal(t, "older", older.Extractions[0].Notes)
	assert.Empty(t, older.Extractions[0].TargetName)

	younger := offlineParse(t, "prefers the younger group")
	require.Len(t, younger.Extractions, 1)
	assert.Equal(t, "younger", younger.Extractions[0].Notes)
}

func TestOfflineNoIntent(t *testing.T) {
	for _, text := range []string{"", "   ", "She loves swimming and archery."} {
		resp := offlineParse(t, text)
		assert.True(t, resp.NoIntent, "%q", text)
		assert.Empty(t, resp.Extractions)
	}
}

func TestOfflineDropsSelfTarget(t *testing.T) {
	provider := NewOffline()
	resp, err := provider.ParseRequest(context.Background(), "bunk with Emma Katz and Maya", RequestContext{
		RequesterName:   "Emma Katz",
		ExcludeTargetID: "p5",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Maya"}, targets(resp))
}

func TestOfflineBatchOrdering(t *testing.T) {
	provider := NewOffline()
	items := []ParseItem{
		{Text: "bunk with Maya"},
		{Text: ""},
		{Text: "not with Dana"},
	}
	resps, err := provider.BatchParseRequests(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, resps, 3)
	assert.Equal(t, "Maya", resps[0].Extractions[0].TargetName)
	assert.True(t, resps[1].NoIntent)
	assert.Equal(t, "not_bunk_with", resps[2].Extractions[0].Kind)
}

func TestOfflineBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOffline().BatchParseRequests(ctx, []ParseItem{{Text: "bunk with Maya"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOfflineDisambiguateClearWinner(t *testing.T) {
	provider := NewOffline()
	decisions, err := provider.BatchDisambiguate(context.Background(), []DisambiguationRequest{{
		TargetName: "Maya",
		Candidates: []CandidateInfo{
			{ID: "p1", Score: 0.9},
			{ID: "p2", Score: 0.6},
		},
	}})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "p1", decisions[0].SelectedID)
	assert.Equal(t, 0.9, decisions[0].Confidence)
	assert.False(t, decisions[0].NoMatch)
}

func TestOfflineDisambiguateTieUndecided(t *testing.T) {
	provider := NewOffline()
	decisions, err := provider.BatchDisambiguate(context.Background(), []DisambiguationRequest{{
		TargetName: "Maya",
		Candidates: []CandidateInfo{
			{ID: "p1", Score: 0.80},
			{ID: "p2", Score: 0.78},
		},
	}})
	require.NoError(t, err)
	d := decisions[0]
	assert.Empty(t, d.SelectedID)
	assert.False(t, d.NoMatch)
	assert.NotEmpty(t, d.Reason)
}

func TestOfflineDisambiguateNoCandidates(t *testing.T) {
	provider := NewOffline()
	decisions, err := provider.BatchDisambiguate(context.Background(), []DisambiguationRequest{{TargetName: "Maya"}})
	require.NoError(t, err)
	assert.True(t, decisions[0].NoMatch)
}

func TestOfflineUsageTracking(t *testing.T) {
	provider := NewOffline()
	assert.Zero(t, provider.TokenUsage().PromptTokens)

	_, err := provider.ParseRequest(context.Background(), "please bunk with Maya Goldberg", RequestContext{})
	require.NoError(t, err)
	assert.Greater(t, provider.TokenUsage().PromptTokens, int64(0))

	provider.ResetUsage()
	assert.Zero(t, provider.TokenUsage().PromptTokens)
}
