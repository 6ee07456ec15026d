// Package monitoring collects run-health metrics and evaluates them
// against alert thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsQueued   int     `json:"runs_queued"`
	FailRate     float64 `json:"fail_rate"`
	CostUSD      float64 `json:"cost_usd"`

	// Item metrics aggregated from completed run stats.
	ItemsParsed     int `json:"items_parsed"`
	ItemsFailed     int `json:"items_failed"`
	ItemsSuspicious int `json:"items_suspicious"`
	Conflicts       int `json:"conflicts"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		}
		if r.Stats != nil {
			snap.CostUSD += r.Stats.EstimatedCost
			snap.ItemsParsed += r.Stats.Parsed
			snap.ItemsFailed += r.Stats.Failed
			snap.ItemsSuspicious += r.Stats.Suspicious
			snap.Conflicts += r.Stats.Conflicts
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
