package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/devtools-research/internal/llm"
	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/progress"
	"github.com/sells-group/devtools-research/internal/scrape"
)

const analysisMaxTokens = 1024

// ErrStageTimeout marks tools the research stage never got to before its
// deadline.
var ErrStageTimeout = eris.New("research stage timed out")

// ToolResult is the outcome of researching one candidate. Err is the cause
// of degradation and is nil for a full analysis.
type ToolResult struct {
	Analysis model.ToolAnalysis
	Usage    model.TokenUsage
	Err      error
}

// ResearchStage resolves, scrapes, and analyzes candidates with bounded
// concurrency.
type ResearchStage struct {
	svc      *services
	resolver *Resolver
	cfg      RunConfig
	metrics  *Metrics
	log      *zap.Logger
}

// Run researches every candidate, at most cfg.Concurrency at a time, and
// returns results in candidate order. Each tool reports tool_progress
// started and then completed or degraded from its own goroutine.
//
// When the stage timeout fires, tools that never finished are returned
// degraded with ErrStageTimeout. When ctx is cancelled, only tools that
// finished before the signal are returned, together with ctx's error, and
// no task starts after the signal.
func (r *ResearchStage) Run(ctx context.Context, candidates []model.CandidateTool, emit progress.Emitter) ([]ToolResult, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.cfg.StageTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make([]*ToolResult, len(candidates))
	)

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, c := range candidates {
		if stageCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stageCtx.Err() != nil {
				return nil
			}
			emit.Emit(model.ToolProgress(c.Name, model.ToolStarted))
			res := r.ResearchOne(stageCtx, c)
			if ctx.Err() != nil {
				return nil
			}

			status := model.ToolCompleted
			if res.Analysis.Degraded {
				status = model.ToolDegraded
			}
			r.metrics.ObserveTool(status)
			emit.Emit(model.ToolProgress(c.Name, status))

			mu.Lock()
			results[i] = &res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	cancelled := ctx.Err()
	out := make([]ToolResult, 0, len(candidates))
	for i, res := range results {
		switch {
		case res != nil:
			out = append(out, *res)
		case cancelled == nil:
			name := candidates[i].Name
			r.log.Warn("pipeline: tool unresolved at stage timeout", zap.String("tool", name))
			r.metrics.ObserveTool(model.ToolDegraded)
			emit.Emit(model.ToolProgress(name, model.ToolDegraded))
			out = append(out, ToolResult{Analysis: model.UnknownAnalysis(name, ""), Err: ErrStageTimeout})
		}
	}
	return out, cancelled
}

// ResearchOne researches a single candidate. It never fails: any error is
// recorded in the result and the analysis is marked degraded, keeping the
// website whenever it was resolved.
func (r *ResearchStage) ResearchOne(ctx context.Context, c model.CandidateTool) ToolResult {
	log := r.log.With(zap.String("tool", c.Name))

	website, err := r.resolver.Resolve(ctx, c.Name)
	if err != nil {
		log.Warn("pipeline: could not resolve site", zap.Error(err))
		return degraded(c.Name, "", model.TokenUsage{}, &ScrapeError{Tool: c.Name, Kind: scrape.FailureNotFound, Err: err})
	}

	page, err := r.svc.scrape(ctx, website)
	if err != nil {
		kind := scrape.Classify(err)
		log.Warn("pipeline: scrape failed", zap.String("url", website), zap.String("kind", string(kind)), zap.Error(err))
		return degraded(c.Name, website, model.TokenUsage{}, &ScrapeError{Tool: c.Name, URL: website, Kind: kind, Err: err})
	}

	var usage model.TokenUsage
	resp, err := r.svc.generate(ctx, llm.Request{
		System:      analysisSystem,
		Prompt:      analysisPrompt(c.Name, website, page.Page.Truncate(r.cfg.PageChars)),
		Model:       r.cfg.Model,
		Temperature: r.cfg.Temperature,
		MaxTokens:   analysisMaxTokens,
	})
	if err != nil {
		log.Warn("pipeline: analysis call failed", zap.Error(err))
		return degraded(c.Name, website, usage, &LLMError{Stage: model.StageResearch, Tool: c.Name, Err: err})
	}
	usage.Add(resp.Usage)

	reply, err := llm.ParseJSON[analysisReply](resp.Text, analysisSchema)
	if err != nil {
		log.Warn("pipeline: analysis reply unusable", zap.Error(err))
		return degraded(c.Name, website, usage, &LLMError{Stage: model.StageResearch, Tool: c.Name, Err: err})
	}

	log.Debug("pipeline: tool analyzed", zap.String("url", website))
	return ToolResult{Analysis: reply.toAnalysis(c.Name, website), Usage: usage}
}

func degraded(name, website string, usage model.TokenUsage, err error) ToolResult {
	return ToolResult{Analysis: model.UnknownAnalysis(name, website), Usage: usage, Err: err}
}
