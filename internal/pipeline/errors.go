package pipeline

import (
	"errors"
	"fmt"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
	"github.com/sells-group/devtools-research/internal/scrape"
)

// ExtractionError is a recovered search or extraction failure. The run
// continues with no candidates.
type ExtractionError struct {
	Stage model.Stage
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ScrapeError is a per-tool failure to obtain the tool's site, either
// because no site could be resolved or because fetching it failed.
type ScrapeError struct {
	Tool string
	URL  string
	Kind scrape.FailureKind
	Err  error
}

func (e *ScrapeError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("research %s: %s: %v", e.Tool, e.Kind, e.Err)
	}
	return fmt.Sprintf("research %s: scrape %s: %s: %v", e.Tool, e.URL, e.Kind, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// LLMError is a failed or unparseable language-model call.
type LLMError struct {
	Stage model.Stage
	Tool  string
	Err   error
}

func (e *LLMError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("%s: llm: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: llm: %v", e.Stage, e.Tool, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// SynthesisError is a recovered synthesis failure. The result keeps every
// tool analysis and an empty recommendation.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// FatalError aborts a run. It is raised only for invalid input or
// configuration, rejected credentials, or a search service that cannot be
// reached at all.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// warningFor turns a recovered stage error into a StageWarning.
func warningFor(stage model.Stage, tool string, err error) model.StageWarning {
	return model.StageWarning{
		Stage:   stage,
		Tool:    tool,
		Kind:    errorKind(err),
		Message: err.Error(),
	}
}

func errorKind(err error) string {
	var (
		se  *ScrapeError
		le  *LLMError
		ee  *ExtractionError
		sye *SynthesisError
	)
	switch {
	case errors.As(err, &se):
		return "scrape_" + string(se.Kind)
	case errors.As(err, &le):
		return "llm_" + resilience.Kind(le.Err)
	case errors.As(err, &ee):
		return "extraction"
	case errors.As(err, &sye):
		return "synthesis"
	default:
		return resilience.Kind(err)
	}
}
