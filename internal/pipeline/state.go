package pipeline

import (
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devtools-research/internal/model"
)

// Phase is a state of the run state machine.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseSearching    Phase = "searching"
	PhaseExtracting   Phase = "extracting"
	PhaseResearching  Phase = "researching"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
)

// transitions lists the forward edges. Cancelled is reachable from every
// non-terminal phase and is not repeated here.
var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseSearching, PhaseFailed},
	PhaseSearching:    {PhaseExtracting, PhaseFailed},
	PhaseExtracting:   {PhaseResearching},
	PhaseResearching:  {PhaseSynthesizing},
	PhaseSynthesizing: {PhaseDone},
}

// Terminal reports whether no transitions leave p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCancelled
}

// CanTransition reports whether the machine may move from p to next.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseCancelled {
		return true
	}
	return slices.Contains(transitions[p], next)
}

// Stage returns the pipeline stage that runs in p, or "" for phases
// without one.
func (p Phase) Stage() model.Stage {
	switch p {
	case PhaseSearching:
		return model.StageSearch
	case PhaseExtracting:
		return model.StageExtract
	case PhaseResearching:
		return model.StageResearch
	case PhaseSynthesizing:
		return model.StageSynthesis
	}
	return ""
}

// State is the immutable state of one run. Every With method returns a
// copy; slices handed in or out are never shared with the receiver.
type State struct {
	runID           string
	query           string
	phase           Phase
	hits            []model.SearchHit
	candidates      []model.CandidateTool
	tools           []model.ToolAnalysis
	recommendation  string
	synthesisFailed bool
	warnings        []model.StageWarning
	usage           model.TokenUsage
	reason          string
}

// NewState returns the Idle state for a run.
func NewState(runID, query string) State {
	return State{runID: runID, query: query, phase: PhaseIdle}
}

func (s State) RunID() string { return s.runID }
func (s State) Query() string { return s.query }
func (s State) Phase() Phase { return s.phase }
func (s State) Hits() []model.SearchHit { return slices.Clone(s.hits) }
func (s State) Candidates() []model.CandidateTool { return slices.Clone(s.candidates) }
func (s State) Tools() []model.ToolAnalysis { return slices.Clone(s.tools) }
func (s State) Recommendation() string { return s.recommendation }
func (s State) SynthesisFailed() bool { return s.synthesisFailed }
func (s State) Warnings() []model.StageWarning { return slices.Clone(s.warnings) }
func (s State) Usage() model.TokenUsage { return s.usage }
func (s State) Reason() string { return s.reason }

// Transition moves to next, rejecting edges the machine does not have.
func (s State) Transition(next Phase) (State, error) {
	if !s.phase.CanTransition(next) {
		return s, eris.Errorf("pipeline: illegal transition %s -> %s", s.phase, next)
	}
	s.phase = next
	return s, nil
}

// Fail moves to Failed. It is a no-op once the state is terminal.
func (s State) Fail(reason string) State {
	if s.phase.Terminal() {
		return s
	}
	s.phase = PhaseFailed
	s.reason = reason
	return s
}

// Cancel moves to Cancelled from any non-terminal phase.
func (s State) Cancel() State {
	if s.phase.Terminal() {
		return s
	}
	s.phase = PhaseCancelled
	s.reason = "cancelled"
	return s
}

func (s State) WithHits(hits []model.SearchHit) State {
	s.hits = slices.Clone(hits)
	return s
}

func (s State) WithCandidates(c []model.CandidateTool) State {
	s.candidates = slices.Clone(c)
	return s
}

func (s State) WithTools(tools []model.ToolAnalysis) State {
	s.tools = slices.Clone(tools)
	return s
}

func (s State) WithRecommendation(text string, failed bool) State {
	s.recommendation = text
	s.synthesisFailed = failed
	return s
}

func (s State) WithWarnings(w ...model.StageWarning) State {
	if len(w) == 0 {
		return s
	}
	s.warnings = append(slices.Clone(s.warnings), w...)
	return s
}

func (s State) WithUsage(u model.TokenUsage) State {
	s.usage.Add(u)
	return s
}

// Status maps the phase onto the result status. Non-terminal phases
// report running.
func (s State) Status() model.RunStatus {
	switch s.phase {
	case PhaseDone:
		return model.RunStatusCompleted
	case PhaseCancelled:
		return model.RunStatusCancelled
	case PhaseFailed:
		return model.RunStatusFailed
	}
	return model.RunStatusRunning
}

// Result renders the state as a WorkflowResult stamped at now.
func (s State) Result(now time.Time) model.WorkflowResult {
	tools := s.Tools()
	if tools == nil {
		tools = []model.ToolAnalysis{}
	}
	return model.WorkflowResult{
		Query:          s.query,
		Tools:          tools,
		Recommendation: s.recommendation,
		GeneratedAt:    now,
		Status:         s.Status(),
	}
}
