// Package resolve matches extracted target names against the camper
// roster, producing either a single confident match or a ranked
// candidate list for the disambiguation phase.
package resolve

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/internal/pipeline"
)

// Config bounds candidate generation.
type Config struct {
	// SimilarityThreshold drops candidates scoring below it.
	SimilarityThreshold float64
	// ResolveThreshold is the minimum top score for a direct match.
	ResolveThreshold float64
	// AmbiguityMargin: a top candidate within this margin of the runner-up
	// is treated as ambiguous rather than resolved.
	AmbiguityMargin float64
	// MaxCandidates caps the ranked list kept per name.
	MaxCandidates int
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.3,
		ResolveThreshold:    0.75,
		AmbiguityMargin:     0.1,
		MaxCandidates:       10,
	}
}

// Resolver scores roster entries against extracted names. Safe for
// concurrent use; the roster is read-only after construction.
type Resolver struct {
	roster []model.Person
	cfg    Config
}

// New builds a Resolver over a roster.
func New(roster []model.Person, cfg Config) (*Resolver, error) {
	if len(roster) == 0 {
		return nil, eris.New("resolve: roster is empty")
	}
	if cfg.MaxCandidates < 1 {
		return nil, eris.New("resolve: max candidates must be >= 1")
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, eris.New("resolve: similarity threshold must be in [0, 1]")
	}
	return &Resolver{roster: roster, cfg: cfg}, nil
}

// ResolveAll produces one CasePair per parse result, with resolutions
// aligned index-for-index with each result's extracted intents.
func (r *Resolver) ResolveAll(results []model.ParseResult) []pipeline.CasePair {
	pairs := make([]pipeline.CasePair, len(results))
	for i, res := range results {
		pairs[i] = pipeline.CasePair{
			Result:      res,
			Resolutions: r.ResolveResult(res),
		}
	}
	return pairs
}

// ResolveResult resolves every extracted intent of one parse result.
func (r *Resolver) ResolveResult(res model.ParseResult) []model.ResolutionResult {
	out := make([]model.ResolutionResult, len(res.Parsed))
	for i, p := range res.Parsed {
		if p.TargetName == "" {
			// Age preferences and the like carry no name to resolve.
			out[i] = model.ResolutionResult{Method: "no_target", Confidence: 1}
			continue
		}
		out[i] = r.Resolve(p.TargetName, res.Request.RequesterID, res.Request.Grade)
	}
	return out
}

// Resolve matches one name against the roster. requesterID excludes the
// requester's own record; requesterGrade biases scoring toward peers.
func (r *Resolver) Resolve(name, requesterID, requesterGrade string) model.ResolutionResult {
	var candidates []model.Candidate
	for _, p := range r.roster {
		if requesterID != "" && p.ID == requesterID {
			continue
		}
		score := nameSimilarity(name, p.Name) + gradeAffinity(requesterGrade, p.Grade)
		if score > 1 {
			score = 1
		}
		if score < r.cfg.SimilarityThreshold {
			continue
		}
		candidates = append(candidates, model.Candidate{Person: p, Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > r.cfg.MaxCandidates {
		candidates = candidates[:r.cfg.MaxCandidates]
	}

	if len(candidates) == 0 {
		return model.ResolutionResult{Method: "roster_match", Confidence: 0}
	}

	top := candidates[0]
	decisive := top.Score >= r.cfg.ResolveThreshold &&
		(len(candidates) == 1 || top.Score-candidates[1].Score >= r.cfg.AmbiguityMargin)
	if decisive {
		person := top.Person
		return model.ResolutionResult{
			Person:     &person,
			Confidence: top.Score,
			Method:     "roster_match",
			Candidates: candidates,
		}
	}

	zap.L().Debug("ambiguous roster match",
		zap.String("name", name),
		zap.Int("candidates", len(candidates)),
		zap.Float64("top_score", top.Score),
	)
	return model.ResolutionResult{
		Confidence: top.Score,
		Method:     "roster_match",
		Candidates: candidates,
		Metadata:   map[string]string{"ambiguity_reason": ambiguityReason(candidates, r.cfg)},
	}
}

func ambiguityReason(candidates []model.Candidate, cfg Config) string {
	if len(candidates) > 1 && candidates[0].Score-candidates[1].Score < cfg.AmbiguityMargin {
		return "multiple roster entries score within the ambiguity margin"
	}
	return "top match scores below the direct-resolution threshold"
}

// nameSimilarity computes Jaccard similarity on lowercased word sets,
// with a bonus when one name's words are a strict subset of the other
// ("Maya" against "Maya Goldberg").
func nameSimilarity(a, b string) float64 {
	wordsA := wordSet(strings.ToLower(a))
	wordsB := wordSet(strings.ToLower(b))
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA)
	for w := range wordsB {
		if !wordsA[w] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	if intersection == union {
		return 1
	}
	// First-name-only requests are the common case; full containment of
	// one name in the other scores above bare Jaccard but below exact.
	if intersection == len(wordsA) || intersection == len(wordsB) {
		return 0.8
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// gradeAffinity adds a small bias toward same-grade matches. Grades are
// compared as strings since exports mix numeric and named grades.
func gradeAffinity(requesterGrade, candidateGrade string) float64 {
	if requesterGrade == "" || candidateGrade == "" {
		return 0
	}
	if strings.EqualFold(strings.TrimSpace(requesterGrade), strings.TrimSpace(candidateGrade)) {
		return 0.1
	}
	return 0
}
