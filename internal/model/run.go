package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusParsing        RunStatus = "parsing"
	RunStatusDisambiguating RunStatus = "disambiguating"
	RunStatusComplete       RunStatus = "complete"
	RunStatusFailed         RunStatus = "failed"
)

// RunStats summarizes one pipeline run for persistence and reporting.
type RunStats struct {
	TotalRequests int     `json:"total_requests"`
	Parsed        int     `json:"parsed"`
	Failed        int     `json:"failed"`
	Suspicious    int     `json:"suspicious"`
	Conflicts     int     `json:"conflicts"`
	PromptTokens  int     `json:"prompt_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Run represents a single pipeline run over one input file.
type Run struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Provider  string    `json:"provider"`
	Status    RunStatus `json:"status"`
	Stats     *RunStats `json:"stats,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
