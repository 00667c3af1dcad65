// Package store persists research runs and their outcomes.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devtools-research/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Query  string          `json:"query,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for research runs. The pipeline
// never touches it; callers record a run before starting it and save the
// outcome once it returns.
type Store interface {
	CreateRun(ctx context.Context, runID, query string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SaveOutcome(ctx context.Context, outcome *model.Outcome, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

const runColumns = `id, query, status, result, warnings, usage, error, created_at, updated_at, completed_at`

type encodedOutcome struct {
	result   []byte
	warnings []byte
	usage    []byte
}

func encodeOutcome(o *model.Outcome) (encodedOutcome, error) {
	var enc encodedOutcome
	var err error
	if enc.result, err = json.Marshal(o.Result); err != nil {
		return enc, eris.Wrap(err, "store: marshal result")
	}
	if enc.warnings, err = json.Marshal(o.Warnings); err != nil {
		return enc, eris.Wrap(err, "store: marshal warnings")
	}
	if enc.usage, err = json.Marshal(o.Usage); err != nil {
		return enc, eris.Wrap(err, "store: marshal usage")
	}
	return enc, nil
}

// decodeRunJSON fills the JSON-backed fields of r. Empty columns are left
// at their zero value.
func decodeRunJSON(r *model.Run, result, warnings, usage []byte) error {
	if len(result) > 0 && string(result) != "null" {
		r.Result = &model.WorkflowResult{}
		if err := json.Unmarshal(result, r.Result); err != nil {
			return eris.Wrap(err, "store: unmarshal result")
		}
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &r.Warnings); err != nil {
			return eris.Wrap(err, "store: unmarshal warnings")
		}
	}
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &r.Usage); err != nil {
			return eris.Wrap(err, "store: unmarshal usage")
		}
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
