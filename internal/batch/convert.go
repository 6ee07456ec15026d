package batch

import (
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/pkg/aiprovider"
)

// convertResponse maps one provider response onto its originating
// request. Mapping is positional only; content is never matched, so
// duplicate input texts resolve unambiguously. A response with zero
// extractions yields an invalid result carrying a failure reason.
func (p *Processor) convertResponse(req model.ParseRequest, resp *aiprovider.ParsedResponse) model.ParseResult {
	if resp == nil {
		result := model.FailedResult(req, "provider returned no result for item")
		result.Metadata.Provider = p.provider.Name()
		return result
	}

	parsed := make([]model.ParsedRequest, 0, len(resp.Extractions))
	for _, e := range resp.Extractions {
		kind := model.RequestKind(e.Kind)
		if !kind.Valid() {
			zap.L().Warn("batch: dropping extraction with unknown kind",
				zap.String("kind", e.Kind),
				zap.String("requester_id", req.RequesterID),
			)
			continue
		}
		parsed = append(parsed, model.ParsedRequest{
			RawText:     req.RawText,
			Kind:        kind,
			TargetName:  e.TargetName,
			SourceField: req.FieldName,
			Originator:  model.OriginatorForField(req.FieldType),
			Confidence:  clamp01(e.Confidence),
			Position:    e.Position,
			Metadata: model.ParseMetadata{
				Keywords:           e.Keywords,
				Notes:              e.Notes,
				Reasoning:          e.Reasoning,
				PossibleAmbiguity:  e.PossibleAmbiguity,
				NeedsClarification: e.NeedsClarification,
			},
			Supersession: supersessionOf(e),
		})
	}

	result := model.ParseResult{
		Request: req,
		Parsed:  parsed,
		Valid:   len(parsed) > 0,
		Metadata: model.ResultMetadata{
			Provider:               p.provider.Name(),
			Model:                  resp.Model,
			NeedsHistoricalContext: resp.NeedsHistoricalContext,
		},
	}
	if len(parsed) == 0 {
		result.Metadata.FailureReason = "no structured requests extracted"
	}
	return result
}

func supersessionOf(e aiprovider.Extraction) *model.Supersession {
	if e.SupersedesName == "" {
		return nil
	}
	return &model.Supersession{
		Supersedes: e.SupersedesName,
		Date:       e.SupersedesDate,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
