package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/llm"
	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/scrape"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testConfig() RunConfig {
	cfg := DefaultRunConfig()
	cfg.ScrapeArticles = false
	cfg.StageTimeout = 5 * time.Second
	return cfg
}

func newTestPipeline(t *testing.T, cfg RunConfig, deps Deps, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "run-1" }),
		WithLogger(zap.NewNop()),
	}
	p, err := New(cfg, deps, append(base, opts...)...)
	require.NoError(t, err)
	return p
}

// --- Search fake ---

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	fn      func(ctx context.Context, query string) ([]model.SearchHit, error)
}

func (f *fakeSearch) Name() string { return "fake" }

func (f *fakeSearch) Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, query)
	}
	return defaultHits(query), nil
}

func (f *fakeSearch) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// defaultHits returns two articles for the comparison search and a single
// <name>.com hit for each official-site search.
func defaultHits(query string) []model.SearchHit {
	if name, ok := strings.CutSuffix(query, officialSiteSuffix); ok {
		return []model.SearchHit{{URL: "https://" + compactName(name) + ".com", Title: name}}
	}
	return []model.SearchHit{
		{URL: "https://blog.example.com/best-databases", Title: "Best databases", Snippet: "Supabase vs Firebase"},
		{URL: "https://dev.example.org/compare", Title: "Compare", Snippet: "PlanetScale and Neon"},
	}
}

// --- Scraper fake ---

type fakeScraper struct {
	mu    sync.Mutex
	urls  []string
	fn    func(ctx context.Context, url string) (*scrape.Result, error)
	pages []model.Page
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (*scrape.Result, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, url)
	}
	return pageFor(url), nil
}

func (f *fakeScraper) ScrapeAll(_ context.Context, urls []string, _ int) []model.Page {
	f.mu.Lock()
	f.urls = append(f.urls, urls...)
	f.mu.Unlock()
	return f.pages
}

func (f *fakeScraper) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func pageFor(url string) *scrape.Result {
	return &scrape.Result{
		Page:   model.Page{URL: url, Title: url, Markdown: "# " + url + "\nDeveloper platform.", StatusCode: 200},
		Source: "fake",
	}
}

// --- LLM fake ---

// scriptedLLM answers by prompt kind: the extraction reply is fixed, the
// analysis reply is built per tool, and synthesis returns a fixed text.
type scriptedLLM struct {
	mu        sync.Mutex
	reqs      []llm.Request
	names     string
	analysis  func(ctx context.Context, tool string) (string, error)
	synthesis func(ctx context.Context) (string, error)
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()

	var (
		text string
		err  error
	)
	switch req.System {
	case extractSystem:
		text = s.names
	case analysisSystem:
		tool := toolFromPrompt(req.Prompt)
		if s.analysis != nil {
			text, err = s.analysis(ctx, tool)
		} else {
			text = analysisJSON(tool)
		}
	case synthesisSystem:
		if s.synthesis != nil {
			text, err = s.synthesis(ctx)
		} else {
			text = "Use Supabase."
		}
	}
	if err != nil {
		return nil, err
	}
	return &llm.Response{
		Text:  text,
		Model: req.Model,
		Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 20, Calls: 1},
	}, nil
}

func (s *scriptedLLM) Requests(system string) []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []llm.Request
	for _, r := range s.reqs {
		if r.System == system {
			out = append(out, r)
		}
	}
	return out
}

func toolFromPrompt(prompt string) string {
	line, _, _ := strings.Cut(prompt, "\n")
	return strings.TrimPrefix(line, "Tool: ")
}

func analysisJSON(tool string) string {
	return "```json\n{" +
		`"pricing_model": "Free tier + Pro plans", "is_open_source": true, ` +
		`"tech_stack": ["PostgreSQL", "TypeScript", "postgresql"], "api_available": true, ` +
		`"language_support": ["JavaScript", "Go"], "integrations": ["Vercel"], ` +
		`"description": "` + tool + ` is a hosted database."}` +
		"\n```"
}

// --- Event recorder ---

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Emit(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) Kinds() []model.EventKind {
	var out []model.EventKind
	for _, ev := range r.Events() {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) ToolStatuses(tool string) []model.ToolStatus {
	var out []model.ToolStatus
	for _, ev := range r.Events() {
		if ev.Kind == model.EventToolProgress && ev.Tool == tool {
			out = append(out, ev.ToolStatus)
		}
	}
	return out
}
