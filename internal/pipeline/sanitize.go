package pipeline

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// RiskLevel classifies how suspicious an input looked to the sanitizer.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// injectionPattern pairs a detection regexp with its severity weight.
type injectionPattern struct {
	re     *regexp.Regexp
	label  string
	weight int
}

// Injection patterns seen in the wild on registration forms. Weights
// feed the risk classification; any match also earns a confidence
// penalty so downstream consumers can discount the extraction.
var injectionPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|prior|above)\s+instructions`), "ignore_instructions", 3},
	{regexp.MustCompile(`(?i)disregard\s+(?:the\s+)?(?:previous|prior|above|all)`), "disregard", 3},
	{regexp.MustCompile(`(?i)system\s*prompt`), "system_prompt", 3},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+`), "role_override", 2},
	{regexp.MustCompile(`(?i)pretend\s+(?:to\s+be|you\s+are)`), "pretend", 2},
	{regexp.MustCompile(`(?i)act\s+as\s+(?:a|an)\s+`), "act_as", 1},
	{regexp.MustCompile(`(?i)output\s+(?:only\s+)?json`), "format_override", 1},
	{regexp.MustCompile(`(?i)<\s*/?(?:script|system|assistant|user)\s*>`), "markup_injection", 2},
	{regexp.MustCompile("```"), "code_fence", 1},
}

// confidencePenaltyPerWeight is the multiplicative discount applied per
// severity point found in an input.
const confidencePenaltyPerWeight = 0.1

// SanitizeResult is the sanitizer's verdict for one input.
type SanitizeResult struct {
	Text              string
	Risk              RiskLevel
	ConfidencePenalty float64
	Patterns          []string
}

// Suspicious reports whether any injection pattern matched.
func (r SanitizeResult) Suspicious() bool { return r.Risk != RiskNone }

// Sanitizer detects prompt-injection attempts in raw field text and
// records detections per requester for auditing. Parsing always proceeds
// with the sanitized text; the sanitizer never rejects input.
type Sanitizer struct {
	mu         sync.Mutex
	detections map[string][]SanitizeResult
}

// NewSanitizer builds a Sanitizer with an empty audit log.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{detections: make(map[string][]SanitizeResult)}
}

// Sanitize strips matched injection fragments from text and classifies
// the risk. requesterID attributes the detection in the audit log.
func (s *Sanitizer) Sanitize(text, requesterID string) SanitizeResult {
	result := SanitizeResult{Text: text, Risk: RiskNone}

	totalWeight := 0
	cleaned := text
	for _, p := range injectionPatterns {
		if !p.re.MatchString(cleaned) {
			continue
		}
		cleaned = p.re.ReplaceAllString(cleaned, " ")
		result.Patterns = append(result.Patterns, p.label)
		totalWeight += p.weight
	}

	if totalWeight == 0 {
		return result
	}

	result.Text = strings.Join(strings.Fields(cleaned), " ")
	result.ConfidencePenalty = float64(totalWeight) * confidencePenaltyPerWeight
	if result.ConfidencePenalty > 0.9 {
		result.ConfidencePenalty = 0.9
	}
	switch {
	case totalWeight >= 5:
		result.Risk = RiskHigh
	case totalWeight >= 3:
		result.Risk = RiskMedium
	default:
		result.Risk = RiskLow
	}

	s.mu.Lock()
	s.detections[requesterID] = append(s.detections[requesterID], result)
	s.mu.Unlock()

	zap.L().Warn("pipeline: suspicious input sanitized",
		zap.String("requester_id", requesterID),
		zap.String("risk", string(result.Risk)),
		zap.Strings("patterns", result.Patterns),
	)
	return result
}

// Detections returns the audit log for one requester.
func (s *Sanitizer) Detections(requesterID string) []SanitizeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SanitizeResult(nil), s.detections[requesterID]...)
}
