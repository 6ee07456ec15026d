package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camphq/bunkreq/internal/model"
)

var testRoster = []model.Person{
	{ID: "p1", Name: "Maya Goldberg", Grade: "5", School: "Lincoln"},
	{ID: "p2", Name: "Maya Gold", Grade: "6", School: "Oak Hill"},
	{ID: "p3", Name: "Sam Alter", Grade: "5"},
	{ID: "p4", Name: "Lena Berkowitz", Grade: "4"},
	{ID: "p5", Name: "Emma Katz", Grade: "5"},
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(testRoster, DefaultConfig())
	require.NoError(t, err)
	return r
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxCandidates = 0
	_, err = New(testRoster, cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.SimilarityThreshold = 1.5
	_, err = New(testRoster, cfg)
	assert.Error(t, err)
}

func TestResolveExactName(t *testing.T) {
	r := newTestResolver(t)
	result := r.Resolve("Sam Alter", "", "")

	require.True(t, result.IsResolved())
	assert.Equal(t, "p3", result.Person.ID)
	assert.Equal(t, "roster_match", result.Method)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestResolveFirstNameAmbiguous(t *testing.T) {
	r := newTestResolver(t)
	result := r.Resolve("Maya", "", "")

	require.True(t, result.IsAmbiguous())
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "multiple roster entries score within the ambiguity margin",
		result.Metadata["ambiguity_reason"])
}

func TestResolveGradeBreaksTie(t *testing.T) {
	r := newTestResolver(t)
	// Both Mayas score 0.8 on name alone; the fifth-grade requester
	// pushes Maya Goldberg to 0.9, clearing the margin.
	result := r.Resolve("Maya", "", "5")

	require.True(t, result.IsResolved())
	assert.Equal(t, "p1", result.Person.ID)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
}

func TestResolveExcludesRequester(t *testing.T) {
	r := newTestResolver(t)
	result := r.Resolve("Emma Katz", "p5", "")

	assert.False(t, result.IsResolved())
	assert.Empty(t, result.Candidates)
	assert.Zero(t, result.Confidence)
}

func TestResolveNoMatch(t *testing.T) {
	r := newTestResolver(t)
	result := r.Resolve("Zebulon Frankenheimer", "", "")

	assert.False(t, result.IsResolved())
	assert.False(t, result.IsAmbiguous())
	assert.Equal(t, "roster_match", result.Method)
}

func TestResolveBelowThresholdAmbiguityReason(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResolveThreshold = 0.95
	r, err := New(testRoster, cfg)
	require.NoError(t, err)

	result := r.Resolve("Lena", "", "")
	require.True(t, result.IsAmbiguous())
	assert.Equal(t, "top match scores below the direct-resolution threshold",
		result.Metadata["ambiguity_reason"])
}

func TestResolveCandidateCap(t *testing.T) {
	roster := make([]model.Person, 15)
	for i := range roster {
		roster[i] = model.Person{ID: string(rune('a' + i)), Name: "Maya Cohen"}
	}
	cfg := DefaultConfig()
	cfg.MaxCandidates = 3
	r, err := New(roster, cfg)
	require.NoError(t, err)

	result := r.Resolve("Maya", "", "")
	assert.Len(t, result.Candidates, 3)
}

func TestResolveResultSkipsUnnamedIntents(t *testing.T) {
	r := newTestResolver(t)
	res := model.ParseResult{
		Request: model.ParseRequest{RequesterID: "p5", Grade: "5"},
		Parsed: []model.ParsedRequest{
			{Kind: model.KindAgePreference},
			{Kind: model.KindBunkWith, TargetName: "Sam Alter"},
		},
		Valid: true,
	}
	resolutions := r.ResolveResult(res)
	require.Len(t, resolutions, 2)

	assert.Equal(t, "no_target", resolutions[0].Method)
	assert.Equal(t, 1.0, resolutions[0].Confidence)
	assert.False(t, resolutions[0].IsResolved())

	require.True(t, resolutions[1].IsResolved())
	assert.Equal(t, "p3", resolutions[1].Person.ID)
}

func TestResolveAllAlignment(t *testing.T) {
	r := newTestResolver(t)
	results := []model.ParseResult{
		{
			Request: model.ParseRequest{RequesterID: "p5"},
			Parsed:  []model.ParsedRequest{{Kind: model.KindBunkWith, TargetName: "Sam Alter"}},
			Valid:   true,
		},
		{
			Request: model.ParseRequest{RequesterID: "p3"},
			Valid:   false,
		},
	}
	pairs := r.ResolveAll(results)
	require.Len(t, pairs, 2)
	assert.Len(t, pairs[0].Resolutions, 1)
	assert.Empty(t, pairs[1].Resolutions)
	assert.Equal(t, results[0], pairs[0].Result)
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Maya Goldberg", "Maya Goldberg", 1.0},
		{"maya goldberg", "MAYA GOLDBERG", 1.0},
		{"Maya", "Maya Goldberg", 0.8},
		{"Maya Goldberg", "Maya", 0.8},
		{"Maya Gold", "Maya Goldberg", 1.0 / 3.0},
		{"Sam", "Lena", 0.0},
		{"", "Maya", 0.0},
		{"Maya.", "Maya", 1.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, nameSimilarity(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestGradeAffinity(t *testing.T) {
	assert.Equal(t, 0.1, gradeAffinity("5", "5"))
	assert.Equal(t, 0.1, gradeAffinity(" 5 ", "5"))
	assert.Equal(t, 0.0, gradeAffinity("5", "6"))
	assert.Equal(t, 0.0, gradeAffinity("", "5"))
	assert.Equal(t, 0.0, gradeAffinity("5", ""))
}
