package pipeline

import (
	"context"
	"errors"

	"github.com/sells-group/devtools-research/internal/llm"
	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
	"github.com/sells-group/devtools-research/internal/scrape"
	"github.com/sells-group/devtools-research/internal/search"
	"github.com/sells-group/devtools-research/pkg/perplexity"
)

// Service names used for guards and metrics.
const (
	ServiceSearch     = "search"
	ServiceScrape     = "scrape"
	ServiceAnthropic  = "anthropic"
	ServicePerplexity = "perplexity"
)

// Scraper fetches pages for the research stages. *scrape.Chain satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Result, error)
	ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) []model.Page
}

// Deps are the external services a Pipeline coordinates. Perplexity and
// Guard are optional.
type Deps struct {
	Search     search.Provider
	Scraper    Scraper
	LLM        llm.Generator
	Perplexity perplexity.Client
	Guard      *resilience.Guard
}

// services wraps Deps with guards and metrics. Search is not retried here:
// the search chain already falls back across providers, and an outage must
// surface quickly as a fatal error. Scrape and model calls are retried on
// transient failures only.
type services struct {
	Deps
	metrics *Metrics
}

func (s *services) search(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	hits, err := s.Search.Search(ctx, query, limit)
	s.metrics.ObserveCall(ServiceSearch, err)
	return hits, err
}

func (s *services) scrape(ctx context.Context, url string) (*scrape.Result, error) {
	res, err := resilience.Call(ctx, s.Guard, ServiceScrape, true, func(ctx context.Context) (*scrape.Result, error) {
		return s.Scraper.Scrape(ctx, url)
	})
	s.metrics.ObserveCall(ServiceScrape, err)
	return res, err
}

func (s *services) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, err := resilience.Call(ctx, s.Guard, ServiceAnthropic, true, func(ctx context.Context) (*llm.Response, error) {
		return s.LLM.Generate(ctx, req)
	})
	s.metrics.ObserveCall(ServiceAnthropic, err)
	if err == nil {
		name := resp.Model
		if name == "" {
			name = req.Model
		}
		s.metrics.ObserveTokens(name, resp.Usage)
	}
	return resp, err
}

func (s *services) ask(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	resp, err := resilience.Call(ctx, s.Guard, ServicePerplexity, true, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		resp, err := s.Perplexity.ChatCompletion(ctx, req)
		var se *perplexity.StatusError
		if errors.As(err, &se) {
			return nil, resilience.ClassifyStatus(err, se.StatusCode)
		}
		return resp, err
	})
	s.metrics.ObserveCall(ServicePerplexity, err)
	return resp, err
}
