package model

import "time"

// RunStatus is the lifecycle state of a research run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is a final outcome.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCancelled, RunStatusFailed:
		return true
	}
	return false
}

// NoToolsRecommendation is the recommendation text used when extraction
// produced no candidates.
const NoToolsRecommendation = "No developer tools were found for this query."

// WorkflowResult is the final, serializable output of one run. Tools are in
// extraction order regardless of the order research finished in.
type WorkflowResult struct {
	Query          string         `json:"query"`
	Tools          []ToolAnalysis `json:"tools"`
	Recommendation string         `json:"recommendation"`
	GeneratedAt    time.Time      `json:"generated_at"`
	Status         RunStatus      `json:"status"`
}

// Stage names a phase of the research pipeline.
type Stage string

const (
	StageSearch    Stage = "search"
	StageExtract   Stage = "extract"
	StageResearch  Stage = "research"
	StageSynthesis Stage = "synthesis"
)

// StageWarning records a recovered, non-fatal failure.
type StageWarning struct {
	Stage   Stage  `json:"stage"`
	Tool    string `json:"tool,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Outcome wraps a WorkflowResult with run metadata that does not belong in
// the result document itself.
type Outcome struct {
	RunID           string         `json:"run_id"`
	Result          WorkflowResult `json:"result"`
	Warnings        []StageWarning `json:"warnings,omitempty"`
	SynthesisFailed bool           `json:"synthesis_failed"`
	Usage           TokenUsage     `json:"usage"`
	DurationMs      int64          `json:"duration_ms"`
}

// DegradedCount returns how many tools in the result are degraded.
func (o *Outcome) DegradedCount() int {
	n := 0
	for _, t := range o.Result.Tools {
		if t.Degraded {
			n++
		}
	}
	return n
}
