package pipeline

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/batch"
	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/pkg/aiprovider"
)

// maxDisambiguationCandidates is how many ranked candidates each
// disambiguation request carries.
const maxDisambiguationCandidates = 5

// metaStatusKey annotates a resolution with its disambiguation outcome.
const (
	metaStatusKey = "disambiguation_status"
	metaReasonKey = "disambiguation_reason"
)

// CasePair is one ParseResult with the resolver's output for its
// extracted names, in the same order as Parsed.
type CasePair struct {
	Result      model.ParseResult
	Resolutions []model.ResolutionResult
}

// ConfidenceScorer optionally re-scores an AI-selected candidate. When
// nil, the provider's own confidence is used.
type ConfidenceScorer func(c model.Candidate, decision aiprovider.DisambiguationDecision) float64

// DisambiguationStats counts outcomes per ambiguous resolution, not per
// case. Counters accumulate across runs until Reset.
type DisambiguationStats struct {
	TotalAmbiguous int `json:"total_ambiguous"`
	Disambiguated  int `json:"disambiguated"`
	StillAmbiguous int `json:"still_ambiguous"`
	NoMatch        int `json:"no_match"`
	Failed         int `json:"failed"`
}

// Disambiguator resolves ambiguous name matches with a second,
// narrowly-scoped AI pass and merges decisions back without disturbing
// resolved entries.
type Disambiguator struct {
	proc   *batch.Processor
	scorer ConfidenceScorer

	mu    sync.Mutex
	stats DisambiguationStats
}

// NewDisambiguator builds the disambiguation phase service. scorer may
// be nil.
func NewDisambiguator(proc *batch.Processor, scorer ConfidenceScorer) *Disambiguator {
	return &Disambiguator{proc: proc, scorer: scorer}
}

// Stats returns a copy of the cumulative phase counters.
func (d *Disambiguator) Stats() DisambiguationStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Reset clears the cumulative phase counters.
func (d *Disambiguator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = DisambiguationStats{}
}

// origin locates one disambiguation request in its case.
type origin struct {
	caseIdx int
	itemIdx int
}

// Run disambiguates every ambiguous resolution across pairs and returns
// the pairs with merged resolution lists. Output pair order matches
// input; within each pair, never-ambiguous resolutions are returned
// unchanged.
func (d *Disambiguator) Run(ctx context.Context, pairs []CasePair) []CasePair {
	if len(pairs) == 0 {
		return nil
	}

	cases := make([]model.DisambiguationCase, len(pairs))
	var reqs []aiprovider.DisambiguationRequest
	var origins []origin

	for ci, pair := range pairs {
		cases[ci] = model.NewDisambiguationCase(pair.Result, pair.Resolutions)
		c := &cases[ci]
		if len(c.AmbiguousIndices) == 0 {
			continue
		}
		for _, i := range c.AmbiguousIndices {
			reqs = append(reqs, d.buildRequest(c, i))
			origins = append(origins, origin{caseIdx: ci, itemIdx: i})
		}
	}

	if len(reqs) > 0 {
		results := d.proc.Disambiguate(ctx, reqs)
		for k, res := range results {
			d.applyOutcome(&cases[origins[k].caseIdx], origins[k].itemIdx, res)
		}
	}

	out := make([]CasePair, len(pairs))
	for ci := range cases {
		out[ci] = CasePair{
			Result:      cases[ci].Parse,
			Resolutions: mergeCase(&cases[ci]),
		}
	}

	zap.L().Info("pipeline: disambiguation phase complete",
		zap.Int("cases", len(pairs)),
		zap.Int("ambiguous", len(reqs)),
	)
	return out
}

// buildRequest assembles the minimal disambiguation request for one
// ambiguous index, including sibling names requested in the same field.
func (d *Disambiguator) buildRequest(c *model.DisambiguationCase, idx int) aiprovider.DisambiguationRequest {
	req := c.Parse.Request
	var parsed model.ParsedRequest
	if idx < len(c.Parse.Parsed) {
		parsed = c.Parse.Parsed[idx]
	}

	candidates := c.TopCandidates(idx, maxDisambiguationCandidates)
	infos := make([]aiprovider.CandidateInfo, len(candidates))
	for i, cand := range candidates {
		infos[i] = aiprovider.CandidateInfo{
			ID:     cand.Person.ID,
			Name:   cand.Person.Name,
			School: cand.Person.School,
			Grade:  cand.Person.Grade,
			Age:    cand.Person.Age,
			Score:  cand.Score,
		}
		if cand.Social != nil {
			infos[i].SocialDistance = cand.Social.Distance
			infos[i].MutualConnections = cand.Social.MutualConnections
			infos[i].HasSocialHints = true
		}
	}

	return aiprovider.DisambiguationRequest{
		TargetName:      parsed.TargetName,
		Candidates:      infos,
		RequesterID:     req.RequesterID,
		RequesterName:   req.RequesterName,
		RequesterGrade:  req.Grade,
		SessionID:       req.SessionID,
		Year:            req.Year,
		AmbiguityReason: parsed.Metadata.PossibleAmbiguity,
		SiblingNote:     siblingNote(c.Parse.Parsed, idx),
	}
}

// siblingNote lists the other names requested in the same source field,
// giving the provider field-level co-occurrence context.
func siblingNote(parsed []model.ParsedRequest, idx int) string {
	var names []string
	for i, p := range parsed {
		if i == idx || p.TargetName == "" {
			continue
		}
		names = append(names, p.TargetName)
	}
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, ", ")
}

// applyOutcome maps one processor answer onto its (case, index) slot.
func (d *Disambiguator) applyOutcome(c *model.DisambiguationCase, idx int, res batch.DisambiguationResult) {
	d.mu.Lock()
	d.stats.TotalAmbiguous++
	d.mu.Unlock()

	if res.Decision == nil {
		c.Statuses[idx] = model.DisambiguationFailed
		d.count(func(s *DisambiguationStats) { s.Failed++ })
		zap.L().Warn("pipeline: disambiguation attempt failed",
			zap.String("requester_id", c.Parse.Request.RequesterID),
			zap.String("reason", res.FailureReason),
		)
		return
	}

	decision := *res.Decision
	switch {
	case decision.SelectedID != "":
		cand, ok := findCandidate(c.TopCandidates(idx, maxDisambiguationCandidates), decision.SelectedID)
		if !ok {
			// The provider selected an id outside the list it was given.
			c.Statuses[idx] = model.DisambiguationNoMatch
			d.count(func(s *DisambiguationStats) { s.NoMatch++ })
			zap.L().Warn("pipeline: disambiguation selected unknown candidate",
				zap.String("selected_id", decision.SelectedID),
				zap.String("requester_id", c.Parse.Request.RequesterID),
			)
			return
		}

		confidence := decision.Confidence
		if d.scorer != nil {
			confidence = d.scorer(cand, decision)
		}
		person := cand.Person
		replacement := model.ResolutionResult{
			Person:     &person,
			Confidence: confidence,
			Method:     "ai_disambiguation",
			Metadata: map[string]string{
				metaStatusKey: string(model.DisambiguationResolved),
				metaReasonKey: decision.Reason,
			},
		}
		c.Replacements[idx] = &replacement
		c.Statuses[idx] = model.DisambiguationResolved
		d.count(func(s *DisambiguationStats) { s.Disambiguated++ })

	case decision.NoMatch:
		c.Statuses[idx] = model.DisambiguationNoMatch
		d.count(func(s *DisambiguationStats) { s.NoMatch++ })

	default:
		c.Statuses[idx] = model.DisambiguationStillAmbiguous
		c.Resolutions[idx] = c.Resolutions[idx].WithMeta(metaReasonKey, decision.Reason)
		d.count(func(s *DisambiguationStats) { s.StillAmbiguous++ })
	}
}

// mergeCase rebuilds the resolution list index by index: successful AI
// decisions take the new resolution; everything else keeps the original,
// annotated only when an attempt was made.
func mergeCase(c *model.DisambiguationCase) []model.ResolutionResult {
	merged := make([]model.ResolutionResult, len(c.Resolutions))
	for i := range c.Resolutions {
		if c.Replacements[i] != nil {
			merged[i] = *c.Replacements[i]
			continue
		}
		merged[i] = c.Resolutions[i]
		if c.Statuses[i] != model.DisambiguationPending {
			merged[i] = merged[i].WithMeta(metaStatusKey, string(c.Statuses[i]))
		}
	}
	return merged
}

func findCandidate(candidates []model.Candidate, id string) (model.Candidate, bool) {
	for _, c := range candidates {
		if c.Person.ID == id {
			return c, true
		}
	}
	return model.Candidate{}, false
}

func (d *Disambiguator) count(fn func(*DisambiguationStats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}
