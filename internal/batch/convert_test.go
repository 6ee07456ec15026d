package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/pkg/aiprovider"
)

func testProcessor(t *testing.T) *Processor {
	t.Helper()
	proc, err := NewProcessor(&stubProvider{}, fastConfig())
	require.NoError(t, err)
	return proc
}

func TestConvertResponseNil(t *testing.T) {
	proc := testProcessor(t)
	req := model.ParseRequest{RawText: "with Ana", RequesterID: "c1"}

	result := proc.convertResponse(req, nil)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Metadata.FailureReason)
	assert.Equal(t, "stub", result.Metadata.Provider)
}

func TestConvertResponseZeroExtractionsInvalid(t *testing.T) {
	proc := testProcessor(t)
	req := model.ParseRequest{RawText: "gibberish", RequesterID: "c1"}

	result := proc.convertResponse(req, &aiprovider.ParsedResponse{Model: "m"})
	assert.False(t, result.Valid)
	assert.Equal(t, "no structured requests extracted", result.Metadata.FailureReason)
	assert.Equal(t, "m", result.Metadata.Model)
}

func TestConvertResponseUnknownKindDropped(t *testing.T) {
	proc := testProcessor(t)
	req := model.ParseRequest{RawText: "with Ana but not Sam", RequesterID: "c1", FieldName: "bunk_requests"}

	result := proc.convertResponse(req, &aiprovider.ParsedResponse{
		Extractions: []aiprovider.Extraction{
			{Kind: "bunk_with", TargetName: "Ana", Confidence: 0.9},
			{Kind: "teleport_request", TargetName: "Sam", Confidence: 0.8},
			{Kind: "not_bunk_with", TargetName: "Sam", Confidence: 0.8, Position: 1},
		},
	})
	require.True(t, result.Valid)
	require.Len(t, result.Parsed, 2)
	assert.Equal(t, model.KindBunkWith, result.Parsed[0].Kind)
	assert.Equal(t, model.KindNotBunkWith, result.Parsed[1].Kind)
}

func TestConvertResponseOnlyUnknownKinds(t *testing.T) {
	proc := testProcessor(t)
	req := model.ParseRequest{RawText: "something", RequesterID: "c1"}

	result := proc.convertResponse(req, &aiprovider.ParsedResponse{
		Extractions: []aiprovider.Extraction{{Kind: "mystery", Confidence: 0.5}},
	})
	assert.False(t, result.Valid)
	assert.Empty(t, result.Parsed)
}

func TestConvertResponseFields(t *testing.T) {
	proc := testProcessor(t)
	req := model.ParseRequest{
		RawText:   "please put her with Maya (talked to mom 6/12)",
		FieldName: "staff_notes",
		FieldType: "staff_notes",
	}

	result := proc.convertResponse(req, &aiprovider.ParsedResponse{
		Extractions: []aiprovider.Extraction{{
			Kind:           "bunk_with",
			TargetName:     "Maya",
			Confidence:     1.7, // provider overshoot gets clamped
			Keywords:       []string{"with"},
			Notes:          "supersedes earlier ask",
			SupersedesName: "Lena",
			SupersedesDate: "6/12",
		}},
	})
	require.Len(t, result.Parsed, 1)
	p := result.Parsed[0]
	assert.Equal(t, req.RawText, p.RawText)
	assert.Equal(t, "staff_notes", p.SourceField)
	assert.Equal(t, model.OriginatorStaff, p.Originator)
	assert.Equal(t, 1.0, p.Confidence)
	require.NotNil(t, p.Supersession)
	assert.Equal(t, "Lena", p.Supersession.Supersedes)
	assert.Equal(t, "6/12", p.Supersession.Date)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.2))
	assert.Equal(t, 0.5, clamp01(0.5))
	assert.Equal(t, 1.0, clamp01(2.0))
}
