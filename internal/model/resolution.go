package model

// Person is a resolved camper record.
type Person struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	School string `json:"school,omitempty"`
	Grade  string `json:"grade,omitempty"`
	Age    int    `json:"age,omitempty"`
}

// SocialHints carries social-graph signals for a candidate, when the
// community-detection subsystem has them.
type SocialHints struct {
	Distance          int `json:"distance"`
	MutualConnections int `json:"mutual_connections"`
}

// Candidate is one possible person match for an ambiguous name.
type Candidate struct {
	Person Person       `json:"person"`
	Score  float64      `json:"score"`
	Social *SocialHints `json:"social,omitempty"`
}

// ResolutionResult is the outcome of matching an extracted name against
// person records. Produced by the external resolver, consumed here.
//
// Invariant: IsAmbiguous holds iff Person is nil and Candidates is
// non-empty; IsResolved holds iff Person is non-nil.
type ResolutionResult struct {
	Person     *Person           `json:"person,omitempty"`
	Confidence float64           `json:"confidence"`
	Method     string            `json:"method"`
	Candidates []Candidate       `json:"candidates,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IsResolved reports whether the name resolved to exactly one person.
func (r ResolutionResult) IsResolved() bool {
	return r.Person != nil
}

// IsAmbiguous reports whether the name matched multiple candidates.
func (r ResolutionResult) IsAmbiguous() bool {
	return r.Person == nil && len(r.Candidates) > 0
}

// WithMeta returns a copy of r with key set in its metadata map. The
// original map is never mutated so merged lists can share resolutions.
func (r ResolutionResult) WithMeta(key, value string) ResolutionResult {
	meta := make(map[string]string, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[key] = value
	r.Metadata = meta
	return r
}

// DisambiguationStatus is the terminal outcome for one ambiguous index.
type DisambiguationStatus string

const (
	DisambiguationPending        DisambiguationStatus = "pending"
	DisambiguationResolved       DisambiguationStatus = "disambiguated"
	DisambiguationNoMatch        DisambiguationStatus = "no_match"
	DisambiguationStillAmbiguous DisambiguationStatus = "still_ambiguous"
	DisambiguationFailed         DisambiguationStatus = "failed"
)

// DisambiguationCase pairs one ParseResult's ordered intents with their
// resolutions and tracks per-index AI replacement slots. Created per
// disambiguation call, discarded after results are merged back.
type DisambiguationCase struct {
	Parse            ParseResult
	Resolutions      []ResolutionResult
	AmbiguousIndices []int
	// Replacements and Statuses are parallel to Resolutions. A nil
	// replacement with status pending means no decision was made yet.
	Replacements []*ResolutionResult
	Statuses     []DisambiguationStatus
}

// NewDisambiguationCase builds a case for one (result, resolutions) pair,
// recording which ordinal indices are ambiguous.
func NewDisambiguationCase(parse ParseResult, resolutions []ResolutionResult) DisambiguationCase {
	c := DisambiguationCase{
		Parse:        parse,
		Resolutions:  resolutions,
		Replacements: make([]*ResolutionResult, len(resolutions)),
		Statuses:     make([]DisambiguationStatus, len(resolutions)),
	}
	for i := range c.Statuses {
		c.Statuses[i] = DisambiguationPending
	}
	for i, r := range resolutions {
		if r.IsAmbiguous() {
			c.AmbiguousIndices = append(c.AmbiguousIndices, i)
		}
	}
	return c
}

// TopCandidates returns the first n candidates at index i, in rank order.
func (c *DisambiguationCase) TopCandidates(i, n int) []Candidate {
	if i < 0 || i >= len(c.Resolutions) {
		return nil
	}
	cands := c.Resolutions[i].Candidates
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}
