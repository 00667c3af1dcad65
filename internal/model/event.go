package model

import "time"

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	EventStageStarted     EventKind = "stage_started"
	EventToolProgress     EventKind = "tool_progress"
	EventStageCompleted   EventKind = "stage_completed"
	EventWorkflowFinished EventKind = "workflow_finished"
	EventWorkflowFailed   EventKind = "workflow_failed"
)

// ToolStatus is the per-tool state reported by a tool_progress event.
type ToolStatus string

const (
	ToolStarted   ToolStatus = "started"
	ToolCompleted ToolStatus = "completed"
	ToolDegraded  ToolStatus = "degraded"
)

// Event is a progress notification. Which payload fields are set depends
// on Kind: Stage for stage events, Tool and ToolStatus for tool_progress,
// Result for workflow_finished, Reason for workflow_failed.
type Event struct {
	Kind       EventKind       `json:"kind"`
	RunID      string          `json:"run_id,omitempty"`
	Seq        uint64          `json:"seq"`
	Timestamp  time.Time       `json:"timestamp"`
	Stage      Stage           `json:"stage,omitempty"`
	Tool       string          `json:"tool,omitempty"`
	ToolStatus ToolStatus      `json:"tool_status,omitempty"`
	Result     *WorkflowResult `json:"result,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func StageStarted(stage Stage) Event {
	return Event{Kind: EventStageStarted, Stage: stage}
}

func StageCompleted(stage Stage) Event {
	return Event{Kind: EventStageCompleted, Stage: stage}
}

func ToolProgress(name string, status ToolStatus) Event {
	return Event{Kind: EventToolProgress, Tool: name, ToolStatus: status}
}

func WorkflowFinished(result WorkflowResult) Event {
	return Event{Kind: EventWorkflowFinished, Result: &result}
}

func WorkflowFailed(reason string) Event {
	return Event{Kind: EventWorkflowFailed, Reason: reason}
}

// Terminal reports whether no further events follow this one in a run.
func (e Event) Terminal() bool {
	return e.Kind == EventWorkflowFinished || e.Kind == EventWorkflowFailed
}
