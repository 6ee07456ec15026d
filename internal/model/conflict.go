package model

// AgeDirection is an explicit age-group preference.
type AgeDirection string

const (
	AgeOlder   AgeDirection = "older"
	AgeYounger AgeDirection = "younger"
	AgeSame    AgeDirection = "same"
)

// ResolvedRequest is a fully person-resolved bunk request, the unit the
// conflict detector operates on.
type ResolvedRequest struct {
	Requester     Person       `json:"requester"`
	Kind          RequestKind  `json:"kind"`
	Target        *Person      `json:"target,omitempty"`
	AgePreference AgeDirection `json:"age_preference,omitempty"`
	Priority      int          `json:"priority,omitempty"`
	Confidence    float64      `json:"confidence"`
	Notes         string       `json:"notes,omitempty"`
	SourceField   string       `json:"source_field,omitempty"`
}

// ConflictType classifies a detected contradiction.
type ConflictType string

const (
	ConflictOpposingDirections ConflictType = "opposing_directions"
	ConflictAgeVsExplicit      ConflictType = "age_preference_vs_explicit"
	ConflictFriendGroup        ConflictType = "friend_group_negative"
)

// Conflict records a contradiction between two or more resolved requests.
type Conflict struct {
	Type           ConflictType      `json:"type"`
	PersonIDs      []string          `json:"person_ids"`
	Requests       []ResolvedRequest `json:"requests"`
	Description    string            `json:"description"`
	AutoResolvable bool              `json:"auto_resolvable"`
	Confidence     float64           `json:"confidence"`
	Resolution     string            `json:"resolution,omitempty"`
}
