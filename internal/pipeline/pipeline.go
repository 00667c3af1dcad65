// Package pipeline runs the developer-tool research workflow: search and
// extraction, per-tool research, and synthesis, driven by an explicit state
// machine and reported through a progress.Emitter.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/progress"
)

// Pipeline runs research workflows. A Pipeline holds no per-run state and
// may run any number of queries concurrently.
type Pipeline struct {
	cfg      RunConfig
	svc      *services
	extract  *ExtractStage
	research *ResearchStage
	synth    *SynthesisStage
	metrics  *Metrics
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now for result and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics records pipeline activity in m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithIDGenerator replaces the run ID generator used by Run.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// WithLogger sets the base logger. Runs log through a child carrying run_id.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New validates cfg and deps and builds a Pipeline. Search, Scraper, and
// LLM are required.
func New(cfg RunConfig, deps Deps, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Search == nil:
		return nil, &FatalError{Reason: "invalid configuration", Err: eris.New("search provider is required")}
	case deps.Scraper == nil:
		return nil, &FatalError{Reason: "invalid configuration", Err: eris.New("scraper is required")}
	case deps.LLM == nil:
		return nil, &FatalError{Reason: "invalid configuration", Err: eris.New("language model is required")}
	}

	p := &Pipeline{
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
		log:   zap.L(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.svc = &services{Deps: deps, metrics: p.metrics}
	p.extract = &ExtractStage{svc: p.svc, cfg: cfg, log: p.log}
	p.research = &ResearchStage{
		svc:      p.svc,
		resolver: &Resolver{svc: p.svc, limit: cfg.ResolveResults, log: p.log},
		cfg:      cfg,
		metrics:  p.metrics,
		log:      p.log,
	}
	p.synth = &SynthesisStage{svc: p.svc, cfg: cfg}
	return p, nil
}

// ValidateQuery trims query and rejects an empty one with a FatalError.
func ValidateQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", &FatalError{Reason: "invalid query", Err: eris.New("query is empty")}
	}
	return q, nil
}

// Run executes one research run under a fresh run ID. See RunWithID.
func (p *Pipeline) Run(ctx context.Context, query string, emitter progress.Emitter) (*model.Outcome, error) {
	return p.RunWithID(ctx, p.newID(), query, emitter)
}

// RunWithID executes one research run. It always returns an Outcome and
// always emits exactly one terminal event: workflow_finished for completed
// and cancelled runs, workflow_failed otherwise. The error is non-nil only
// for failed runs and is then a *FatalError. Cancelling ctx finishes the
// run as cancelled, keeping the tools researched so far.
func (p *Pipeline) RunWithID(ctx context.Context, runID, query string, emitter progress.Emitter) (*model.Outcome, error) {
	start := p.now()
	log := p.log.With(zap.String("run_id", runID))
	emit := newRunEmitter(runID, p.now, progress.Multi(progress.Logger(log), emitter))

	st := NewState(runID, strings.TrimSpace(query))
	q, fatal := ValidateQuery(query)
	if fatal != nil {
		st = st.Fail(fatal.Error())
	} else {
		log.Info("pipeline: starting research", zap.String("query", q))
	}

	for !st.Phase().Terminal() {
		if ctx.Err() != nil {
			st = st.Cancel()
			break
		}

		phase := st.Phase()
		stageStart := time.Now()
		next, events, err := p.step(ctx, st, emit, log)
		p.metrics.ObserveStage(phase.Stage(), time.Since(stageStart))
		for _, ev := range events {
			emit.Emit(ev)
		}
		if err != nil {
			fatal = err
		}
		if next.Phase() == phase && ctx.Err() == nil {
			err := &FatalError{Reason: "pipeline stalled", Err: eris.Errorf("phase %s did not advance", phase)}
			next, fatal = next.Fail(err.Error()), err
		}
		st = next
	}

	return p.finish(st, start, emit, log), fatal
}

// step runs the work for st's phase and returns the next state with the
// events to publish. A step interrupted by cancellation returns st in the
// same phase; the run loop then moves it to Cancelled.
func (p *Pipeline) step(ctx context.Context, st State, emit progress.Emitter, log *zap.Logger) (State, []model.Event, error) {
	switch st.Phase() {
	case PhaseIdle:
		return advance(st, PhaseSearching, model.StageStarted(model.StageSearch))

	case PhaseSearching:
		hits, err := p.extract.Search(ctx, st.Query())
		switch {
		case ctx.Err() != nil:
			return st, nil, nil
		case IsFatal(err):
			log.Error("pipeline: search unreachable", zap.Error(err))
			return st.Fail(err.Error()), nil, err
		case err != nil:
			log.Warn("pipeline: search failed", zap.Error(err))
			st = st.WithWarnings(warningFor(model.StageSearch, "", err))
		}
		return advance(st.WithHits(hits), PhaseExtracting,
			model.StageCompleted(model.StageSearch), model.StageStarted(model.StageExtract))

	case PhaseExtracting:
		candidates, usage, err := p.extract.Extract(ctx, st.Query(), st.Hits())
		st = st.WithUsage(usage)
		if ctx.Err() != nil {
			return st, nil, nil
		}
		if err != nil {
			log.Warn("pipeline: extraction failed", zap.Error(err))
			st = st.WithWarnings(warningFor(model.StageExtract, "", err))
		}
		log.Info("pipeline: candidates extracted", zap.Int("candidates", len(candidates)))
		return advance(st.WithCandidates(candidates), PhaseResearching,
			model.StageCompleted(model.StageExtract), model.StageStarted(model.StageResearch))

	case PhaseResearching:
		results, err := p.research.Run(ctx, st.Candidates(), emit)
		tools := make([]model.ToolAnalysis, 0, len(results))
		var usage model.TokenUsage
		var warnings []model.StageWarning
		for _, r := range results {
			tools = append(tools, r.Analysis)
			usage.Add(r.Usage)
			if r.Err != nil {
				warnings = append(warnings, warningFor(model.StageResearch, r.Analysis.Name, r.Err))
			}
		}
		st = st.WithTools(tools).WithUsage(usage).WithWarnings(warnings...)
		if err != nil {
			return st, nil, nil
		}
		return advance(st, PhaseSynthesizing,
			model.StageCompleted(model.StageResearch), model.StageStarted(model.StageSynthesis))

	case PhaseSynthesizing:
		text, usage, err := p.synth.Run(ctx, st.Query(), st.Tools())
		st = st.WithUsage(usage)
		if ctx.Err() != nil {
			return st, nil, nil
		}
		if err != nil {
			log.Warn("pipeline: synthesis failed", zap.Error(err))
			st = st.WithRecommendation("", true).WithWarnings(warningFor(model.StageSynthesis, "", err))
		} else {
			st = st.WithRecommendation(text, false)
		}
		return advance(st, PhaseDone, model.StageCompleted(model.StageSynthesis))
	}

	err := &FatalError{Reason: "pipeline state", Err: eris.Errorf("no step for phase %s", st.Phase())}
	return st.Fail(err.Error()), nil, err
}

func advance(st State, next Phase, events ...model.Event) (State, []model.Event, error) {
	moved, err := st.Transition(next)
	if err != nil {
		fe := &FatalError{Reason: "pipeline state", Err: err}
		return st.Fail(fe.Error()), nil, fe
	}
	return moved, events, nil
}

func (p *Pipeline) finish(st State, start time.Time, emit progress.Emitter, log *zap.Logger) *model.Outcome {
	// UTC without the monotonic reading, so the stored result compares equal
	// after a JSON round trip.
	result := st.Result(p.now().UTC().Round(0))
	outcome := &model.Outcome{
		RunID:           st.RunID(),
		Result:          result,
		Warnings:        st.Warnings(),
		SynthesisFailed: st.SynthesisFailed(),
		Usage:           st.Usage(),
		DurationMs:      p.now().Sub(start).Milliseconds(),
	}

	if st.Phase() == PhaseFailed {
		emit.Emit(model.WorkflowFailed(st.Reason()))
	} else {
		emit.Emit(model.WorkflowFinished(result))
	}
	p.metrics.ObserveRun(result.Status)

	log.Info("pipeline: run finished",
		zap.String("status", string(result.Status)),
		zap.Int("tools", len(result.Tools)),
		zap.Int("degraded", outcome.DegradedCount()),
		zap.Int("warnings", len(outcome.Warnings)),
		zap.Bool("synthesis_failed", outcome.SynthesisFailed),
		zap.Int("llm_calls", outcome.Usage.Calls),
		zap.Int("tokens", outcome.Usage.Total()),
		zap.Float64("cost_usd", outcome.Usage.Cost),
		zap.Int64("duration_ms", outcome.DurationMs),
	)
	return outcome
}

// runEmitter stamps events with the run ID, a per-run sequence number
// starting at 1, and a timestamp. Stamping and delivery happen under one
// lock so consumers see sequence numbers in increasing order.
type runEmitter struct {
	mu    sync.Mutex
	seq   uint64
	runID string
	now   func() time.Time
	next  progress.Emitter
}

func newRunEmitter(runID string, now func() time.Time, next progress.Emitter) *runEmitter {
	return &runEmitter{runID: runID, now: now, next: next}
}

func (e *runEmitter) Emit(ev model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	ev.RunID = e.runID
	ev.Seq = e.seq
	ev.Timestamp = e.now().UTC().Round(0)
	e.next.Emit(ev)
}
