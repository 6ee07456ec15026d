package model

import "time"

// RequestKind classifies an extracted bunk preference.
type RequestKind string

const (
	KindBunkWith      RequestKind = "bunk_with"
	KindNotBunkWith   RequestKind = "not_bunk_with"
	KindAgePreference RequestKind = "age_preference"
)

// Valid reports whether k is a known request kind.
func (k RequestKind) Valid() bool {
	switch k {
	case KindBunkWith, KindNotBunkWith, KindAgePreference:
		return true
	}
	return false
}

// Originator identifies which class of form field a request came from.
type Originator string

const (
	OriginatorFamily Originator = "family"
	OriginatorStaff  Originator = "staff"
	OriginatorNotes  Originator = "notes"
)

// OriginatorForField maps a registration field type to its originator class.
// Unrecognized field types default to family, the most common source.
func OriginatorForField(fieldType string) Originator {
	switch fieldType {
	case "staff_notes", "staff_request", "staff":
		return OriginatorStaff
	case "internal_notes", "notes":
		return OriginatorNotes
	default:
		return OriginatorFamily
	}
}

// StaffMetadata carries optional staff attribution for a request row.
type StaffMetadata struct {
	StaffName string `json:"staff_name"`
	Role      string `json:"role,omitempty"`
	NotedAt   string `json:"noted_at,omitempty"`
}

// ParseRequest is one unit of input work: a single free-text field value
// from a registration row. Immutable once created.
type ParseRequest struct {
	RawText       string            `json:"raw_text"`
	FieldName     string            `json:"field_name"`
	FieldType     string            `json:"field_type"`
	RequesterName string            `json:"requester_name"`
	RequesterID   string            `json:"requester_id"`
	Grade         string            `json:"grade,omitempty"`
	SessionID     string            `json:"session_id"`
	Year          int               `json:"year"`
	RowData       map[string]string `json:"row_data,omitempty"`
	Staff         *StaffMetadata    `json:"staff,omitempty"`
}

// Supersession records that a request temporally supersedes an earlier one
// ("she asked for Maya last week but now wants Lena").
type Supersession struct {
	Supersedes string `json:"supersedes"`
	Reason     string `json:"reason,omitempty"`
	Date       string `json:"date,omitempty"`
}

// ParseMetadata holds free-form extraction annotations.
type ParseMetadata struct {
	Keywords           []string `json:"keywords,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	Reasoning          string   `json:"reasoning,omitempty"`
	PossibleAmbiguity  string   `json:"possible_ambiguity,omitempty"`
	NeedsClarification bool     `json:"needs_clarification,omitempty"`
}

// ParsedRequest is one extracted intent. A single ParseRequest may yield
// zero, one, or many of these ("with Ana and Sam" yields two).
type ParsedRequest struct {
	RawText      string        `json:"raw_text"`
	Kind         RequestKind   `json:"kind"`
	TargetName   string        `json:"target_name,omitempty"`
	SourceField  string        `json:"source_field"`
	Originator   Originator    `json:"originator"`
	Confidence   float64       `json:"confidence"`
	Position     int           `json:"position"`
	Metadata     ParseMetadata `json:"metadata"`
	Supersession *Supersession `json:"supersession,omitempty"`
}

// ResultMetadata describes how a ParseResult was produced.
type ResultMetadata struct {
	FailureReason          string  `json:"failure_reason,omitempty"`
	Provider               string  `json:"provider,omitempty"`
	Model                  string  `json:"model,omitempty"`
	NeedsHistoricalContext bool    `json:"needs_historical_context,omitempty"`
	SanitizationRisk       string  `json:"sanitization_risk,omitempty"`
	ConfidencePenalty      float64 `json:"confidence_penalty,omitempty"`
}

// ParseResult wraps a ParseRequest with its ordered extracted intents.
// Invalid results carry a failure reason instead of an error value so a
// failed item still appears in output lists.
type ParseResult struct {
	Request   ParseRequest    `json:"request"`
	Parsed    []ParsedRequest `json:"parsed"`
	Valid     bool            `json:"valid"`
	Metadata  ResultMetadata  `json:"metadata"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// FailedResult builds an invalid ParseResult for req carrying reason.
func FailedResult(req ParseRequest, reason string) ParseResult {
	return ParseResult{
		Request:  req,
		Parsed:   nil,
		Valid:    false,
		Metadata: ResultMetadata{FailureReason: reason},
	}
}

// EmptyResult builds a valid zero-confidence result for blank input.
func EmptyResult(req ParseRequest) ParseResult {
	return ParseResult{
		Request:  req,
		Parsed:   []ParsedRequest{},
		Valid:    true,
		Metadata: ResultMetadata{FailureReason: ""},
	}
}
