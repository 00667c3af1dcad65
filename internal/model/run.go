package model

import "time"

// Run is the persisted record of one research request.
type Run struct {
	ID          string          `json:"id"`
	Query       string          `json:"query"`
	Status      RunStatus       `json:"status"`
	Result      *WorkflowResult `json:"result,omitempty"`
	Warnings    []StageWarning  `json:"warnings,omitempty"`
	Usage       TokenUsage      `json:"usage"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
