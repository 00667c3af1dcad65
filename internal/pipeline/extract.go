package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/llm"
	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/search"
)

const (
	articleQuerySuffix = " tools comparison best alternatives"
	extractMaxTokens   = 512
)

// ExtractStage turns a query into candidate tool names: one search for
// comparison articles, then a model call listing the tools they mention.
type ExtractStage struct {
	svc *services
	cfg RunConfig
	log *zap.Logger
}

// Search finds comparison articles for query. An unreachable search
// service is a FatalError; any other failure is an ExtractionError.
// Cancellation is returned as the context error.
func (e *ExtractStage) Search(ctx context.Context, query string) ([]model.SearchHit, error) {
	hits, err := e.svc.search(ctx, query+articleQuerySuffix, e.cfg.MaxResults)
	if err == nil {
		e.log.Debug("pipeline: search complete", zap.Int("hits", len(hits)))
		return hits, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if search.IsUnavailable(err) {
		return nil, &FatalError{Reason: "search service unreachable", Err: err}
	}
	return nil, &ExtractionError{Stage: model.StageSearch, Err: err}
}

// Extract asks the model for the tools mentioned in hits. The candidates
// are deduplicated case-insensitively in first-mention order and capped at
// MaxTools. A failed call or an unusable reply yields no candidates and an
// ExtractionError; with no hits the model is not called at all.
func (e *ExtractStage) Extract(ctx context.Context, query string, hits []model.SearchHit) ([]model.CandidateTool, model.TokenUsage, error) {
	var usage model.TokenUsage
	if len(hits) == 0 {
		return nil, usage, nil
	}

	articles := e.articles(ctx, hits)
	if err := ctx.Err(); err != nil {
		return nil, usage, err
	}

	var extractErr error
	var names []string
	resp, err := e.svc.generate(ctx, llm.Request{
		System:      extractSystem,
		Prompt:      extractPrompt(query, hits, articles),
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   extractMaxTokens,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, usage, ctx.Err()
	case err != nil:
		extractErr = &ExtractionError{Stage: model.StageExtract, Err: &LLMError{Stage: model.StageExtract, Err: err}}
	default:
		usage.Add(resp.Usage)
		names, err = llm.ParseJSON[[]string](resp.Text, toolNamesSchema)
		if err != nil {
			extractErr = &ExtractionError{Stage: model.StageExtract, Err: err}
		}
	}

	candidates := model.DedupeCandidates(names)
	if len(candidates) == 0 && e.cfg.TitleFallback {
		titles := make([]string, 0, len(hits))
		for _, h := range hits {
			titles = append(titles, h.Title)
		}
		candidates = model.DedupeCandidates(titles)
		e.log.Info("pipeline: using search titles as candidates", zap.Int("candidates", len(candidates)))
	}
	if len(candidates) > e.cfg.MaxTools {
		candidates = candidates[:e.cfg.MaxTools]
	}
	return candidates, usage, extractErr
}

// articles fetches the search hits and returns the opening of each page.
func (e *ExtractStage) articles(ctx context.Context, hits []model.SearchHit) []string {
	if !e.cfg.ScrapeArticles || e.svc.Scraper == nil {
		return nil
	}
	urls := make([]string, 0, len(hits))
	for _, h := range hits {
		urls = append(urls, h.URL)
	}

	var out []string
	for _, p := range e.svc.Scraper.ScrapeAll(ctx, urls, 1) {
		if text := strings.TrimSpace(p.Truncate(e.cfg.ArticleChars)); text != "" {
			out = append(out, text)
		}
	}
	e.log.Debug("pipeline: scraped articles", zap.Int("requested", len(urls)), zap.Int("scraped", len(out)))
	return out
}
