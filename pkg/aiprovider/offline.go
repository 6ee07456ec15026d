package aiprovider

import (
	"context"
	"regexp"
	"strings"
	"sync"
)

// OfflineName is the factory key for the deterministic provider.
const OfflineName = "offline"

// Rule-based extraction patterns. Negative patterns are matched first so
// "not with Sam" never reads as a positive request for Sam. Keywords
// match case-insensitively but names must be capitalized, otherwise
// trailing words ("with Dana this year") leak into the capture.
var (
	negativePattern = regexp.MustCompile(`(?i:\b(?:not|never|no[, ]+|don'?t\s+(?:put|want|pair)(?:\s+\w+)?|keep\s+(?:him|her|them|\w+)\s+(?:away|apart))\s*(?:to\s+be\s+)?(?:with|near|around|from))\s+([A-Z][\w'.-]*(?:\s+[A-Z][\w'.-]*)?(?:(?:\s*,\s*|\s+(?:and|or)\s+)[A-Z][\w'.-]*(?:\s+[A-Z][\w'.-]*)?)*)`)
	positivePattern = regexp.MustCompile(`(?i:\b(?:with|alongside|together\s+with|bunk\s+with|cabin\s+with|room\s+with|join))\s+([A-Z][\w'.-]*(?:\s+[A-Z][\w'.-]*)?(?:(?:\s*,\s*|\s+and\s+)[A-Z][\w'.-]*(?:\s+[A-Z][\w'.-]*)?)*)`)
	olderPattern    = regexp.MustCompile(`(?i)\bolder\s+(?:kids|campers|girls|boys|group|bunk|cabin)`)
	youngerPattern  = regexp.MustCompile(`(?i)\byounger\s+(?:kids|campers|girls|boys|group|bunk|cabin)`)
	nameSplitter    = regexp.MustCompile(`\s*,\s*|\s+(?:and|or)\s+`)
)

// Deterministic confidence levels for rule-based extractions.
const (
	offlineNegativeConfidence = 0.9
	offlinePositiveConfidence = 0.85
	offlineAgeConfidence      = 0.7
)

// OfflineProvider is a deterministic rule-based Provider for tests and
// fully offline runs. It honors the same per-item ordering contract as
// the remote provider.
type OfflineProvider struct {
	mu    sync.Mutex
	usage TokenUsage
}

// NewOffline builds the offline provider.
func NewOffline() *OfflineProvider {
	return &OfflineProvider{}
}

func (p *OfflineProvider) Name() string { return OfflineName }

func (p *OfflineProvider) TokenUsage() TokenUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

// ResetUsage clears the cumulative counters.
func (p *OfflineProvider) ResetUsage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usage = TokenUsage{}
}

// HealthCheck always succeeds: there is no remote dependency.
func (p *OfflineProvider) HealthCheck(context.Context) error { return nil }

func (p *OfflineProvider) ParseRequest(ctx context.Context, text string, rc RequestContext) (*ParsedResponse, error) {
	responses, err := p.BatchParseRequests(ctx, []ParseItem{{Text: text, Context: rc}})
	if err != nil {
		return nil, err
	}
	return responses[0], nil
}

func (p *OfflineProvider) BatchParseRequests(ctx context.Context, items []ParseItem) ([]*ParsedResponse, error) {
	out := make([]*ParsedResponse, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.parseOne(item)
		p.track(item.Text)
	}
	return out, nil
}

func (p *OfflineProvider) parseOne(item ParseItem) *ParsedResponse {
	text := strings.TrimSpace(item.Text)
	if text == "" {
		return &ParsedResponse{Extractions: []Extraction{}, NoIntent: true}
	}

	var extractions []Extraction
	position := 0
	claimed := map[string]bool{}

	for _, m := range negativePattern.FindAllStringSubmatch(text, -1) {
		for _, name := range splitNames(m[1]) {
			if claimed[strings.ToLower(name)] {
				continue
			}
			claimed[strings.ToLower(name)] = true
			extractions = append(extractions, Extraction{
				Kind:       "not_bunk_with",
				TargetName: name,
				Confidence: offlineNegativeConfidence,
				Position:   position,
				Keywords:   []string{"not with"},
			})
			position++
		}
	}

	for _, m := range positivePattern.FindAllStringSubmatch(text, -1) {
		for _, name := range splitNames(m[1]) {
			if claimed[strings.ToLower(name)] {
				continue
			}
			claimed[strings.ToLower(name)] = true
			extractions = append(extractions, Extraction{
				Kind:       "bunk_with",
				TargetName: name,
				Confidence: offlinePositiveConfidence,
				Position:   position,
				Keywords:   []string{"with"},
			})
			position++
		}
	}

	if olderPattern.MatchString(text) {
		extractions = append(extractions, Extraction{
			Kind:       "age_preference",
			Confidence: offlineAgeConfidence,
			Position:   position,
			Keywords:   []string{"older"},
			Notes:      "older",
		})
		position++
	} else if youngerPattern.MatchString(text) {
		extractions = append(extractions, Extraction{
			Kind:       "age_preference",
			Confidence: offlineAgeConfidence,
			Position:   position,
			Keywords:   []string{"younger"},
			Notes:      "younger",
		})
	}

	extractions = dropSelfTargets(extractions, item.Context)
	return &ParsedResponse{
		Extractions: extractions,
		NoIntent:    len(extractions) == 0,
	}
}

// BatchDisambiguate picks the highest-scoring candidate when it leads by
// a clear margin; ties are reported as undecided and an empty candidate
// list as no-match. Deterministic by construction.
func (p *OfflineProvider) BatchDisambiguate(ctx context.Context, reqs []DisambiguationRequest) ([]*DisambiguationDecision, error) {
	const margin = 0.05

	out := make([]*DisambiguationDecision, len(reqs))
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.track(req.TargetName)

		if len(req.Candidates) == 0 {
			out[i] = &DisambiguationDecision{NoMatch: true, Reason: "no candidates"}
			continue
		}

		best := req.Candidates[0]
		tied := false
		for _, c := range req.Candidates[1:] {
			if c.Score > best.Score {
				best = c
				tied = false
			} else if best.Score-c.Score < margin {
				tied = true
			}
		}
		if tied {
			out[i] = &DisambiguationDecision{Reason: "candidates tied within scoring margin"}
			continue
		}
		out[i] = &DisambiguationDecision{
			SelectedID: best.ID,
			Confidence: best.Score,
			Reason:     "highest-scoring candidate",
		}
	}
	return out, nil
}

func (p *OfflineProvider) track(text string) {
	p.mu.Lock()
	p.usage.PromptTokens += int64(EstimateTokens(text))
	p.mu.Unlock()
}

func splitNames(joined string) []string {
	var names []string
	for _, part := range nameSplitter.Split(joined, -1) {
		part = strings.TrimSpace(part)
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}
