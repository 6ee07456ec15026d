// Package aiprovider defines the text-understanding capability the
// pipeline depends on, with a remote Anthropic-backed implementation and
// a deterministic offline implementation sharing the same ordering
// guarantees.
package aiprovider

import (
	"context"
	"errors"
)

// Provider is the capability interface the pipeline calls into. Both
// batch methods return exactly one response per input item, in input
// order; a provider-level failure is reported as an error for the whole
// call and retried at the batch layer.
type Provider interface {
	Name() string
	ParseRequest(ctx context.Context, text string, rc RequestContext) (*ParsedResponse, error)
	BatchParseRequests(ctx context.Context, items []ParseItem) ([]*ParsedResponse, error)
	BatchDisambiguate(ctx context.Context, reqs []DisambiguationRequest) ([]*DisambiguationDecision, error)
	TokenUsage() TokenUsage
	HealthCheck(ctx context.Context) error
}

// ParseItem pairs one text fragment with its request context.
type ParseItem struct {
	Text    string
	Context RequestContext
}

// RequestContext carries requester identity plus the side-channel
// signals a provider can use. Optional fields are named explicitly
// rather than hidden in a string-keyed map.
type RequestContext struct {
	RequesterID   string
	RequesterName string
	Grade         string
	SessionID     string
	Year          int
	FieldType     string
	RowData       map[string]string

	// ExcludeTargetID blocks self-reference: the provider must never
	// resolve a target to this id.
	ExcludeTargetID string

	// SiblingNames lists other names requested in the same source field,
	// for co-occurrence context.
	SiblingNames []string
}

// Extraction is one intent extracted from a text fragment. Kind values
// match the pipeline's request kinds (bunk_with, not_bunk_with,
// age_preference).
type Extraction struct {
	Kind               string   `json:"kind"`
	TargetName         string   `json:"target_name,omitempty"`
	Confidence         float64  `json:"confidence"`
	Position           int      `json:"position"`
	Keywords           []string `json:"keywords,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	Reasoning          string   `json:"reasoning,omitempty"`
	PossibleAmbiguity  string   `json:"possible_ambiguity,omitempty"`
	NeedsClarification bool     `json:"needs_clarification,omitempty"`
	SupersedesName     string   `json:"supersedes_name,omitempty"`
	SupersedesDate     string   `json:"supersedes_date,omitempty"`
}

// ParsedResponse is the provider's structured answer for one text
// fragment. Zero extractions with NoIntent unset means the provider
// produced no usable structure.
type ParsedResponse struct {
	Extractions            []Extraction `json:"extractions"`
	Model                  string       `json:"model,omitempty"`
	NeedsHistoricalContext bool         `json:"needs_historical_context,omitempty"`
	// NoIntent marks a deliberate empty answer (blank or intent-free
	// text) as opposed to an extraction failure.
	NoIntent bool `json:"no_intent,omitempty"`
}

// CandidateInfo is one ranked person candidate offered to the
// disambiguation pass.
type CandidateInfo struct {
	ID                string
	Name              string
	School            string
	Grade             string
	Age               int
	Score             float64
	SocialDistance    int
	MutualConnections int
	HasSocialHints    bool
}

// DisambiguationRequest asks the provider to pick among candidates for
// one ambiguous name.
type DisambiguationRequest struct {
	TargetName      string
	Candidates      []CandidateInfo
	RequesterID     string
	RequesterName   string
	RequesterGrade  string
	SessionID       string
	Year            int
	AmbiguityReason string

	// SiblingNote is a one-line description of the other names requested
	// in the same field, when there were any.
	SiblingNote string
}

// DisambiguationDecision is the provider's answer for one ambiguous
// name. Exactly one of SelectedID / NoMatch should be set; neither set
// means the provider could not decide.
type DisambiguationDecision struct {
	SelectedID string  `json:"selected_id,omitempty"`
	NoMatch    bool    `json:"no_match,omitempty"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// RateLimitError marks a provider call rejected by rate limiting. The
// batch layer keys its rate_limited status off this type.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return "rate limited: " + e.Err.Error()
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err carries a RateLimitError anywhere in
// its chain.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
