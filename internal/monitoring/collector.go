package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/store"
)

// collectLimit caps how many recent runs a single snapshot inspects.
const collectLimit = 1000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsCancelled int     `json:"runs_cancelled"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	FailRate      float64 `json:"fail_rate"`

	// Tool metrics across finished runs.
	ToolsTotal    int     `json:"tools_total"`
	ToolsDegraded int     `json:"tools_degraded"`
	DegradedRate  float64 `json:"degraded_rate"`

	// Model usage.
	CostUSD   float64 `json:"cost_usd"`
	AvgTokens int     `json:"avg_tokens"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store subset the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run health metrics from the store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Runs are listed newest first, so the window ends at the first older run.
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: collectLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var totalTokens int
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			break
		}
		snap.RunsTotal++

		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}

		if r.Result != nil {
			snap.ToolsTotal += len(r.Result.Tools)
			for _, t := range r.Result.Tools {
				if t.Degraded {
					snap.ToolsDegraded++
				}
			}
		}
		snap.CostUSD += r.Usage.Cost
		totalTokens += r.Usage.Total()
	}

	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.ToolsTotal > 0 {
		snap.DegradedRate = float64(snap.ToolsDegraded) / float64(snap.ToolsTotal)
	}
	if snap.RunsTotal > 0 {
		snap.AvgTokens = totalTokens / snap.RunsTotal
	}

	return snap, nil
}
