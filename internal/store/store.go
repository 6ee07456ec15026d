package store

import (
	"context"
	"time"

	"github.com/camphq/bunkreq/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the request pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, source, provider string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Parse results, keyed by (run, item index) so re-running a source
	// replaces results in place
	SaveResults(ctx context.Context, runID string, results []model.ParseResult) error
	ListResults(ctx context.Context, runID string) ([]model.ParseResult, error)

	// Conflicts
	SaveConflicts(ctx context.Context, runID string, conflicts []model.Conflict) error
	ListConflicts(ctx context.Context, runID string) ([]model.Conflict, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
