package scrape

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/pkg/firecrawl"
	fcmocks "github.com/sells-group/devtools-research/pkg/firecrawl/mocks"
)

// mockScraper implements Scraper for testing.
type mockScraper struct {
	name     string
	supports bool
	result   *Result
	err      error

	mu    sync.Mutex
	calls []string
}

func (m *mockScraper) Name() string           { return m.name }
func (m *mockScraper) Supports(_ string) bool { return m.supports }
func (m *mockScraper) Scrape(_ context.Context, u string) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, u)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return nil, nil
	}
	r := *m.result
	r.Page.URL = u
	return &r, nil
}

func okScraper(name string) *mockScraper {
	return &mockScraper{
		name: name, supports: true,
		result: &Result{Page: model.Page{Title: "Home", Markdown: "content"}, Source: name},
	}
}

func TestChain_Scrape_FirstSuccess(t *testing.T) {
	s2 := okScraper("fallback")
	chain := NewChain(nil, okScraper("primary"), s2)

	result, err := chain.Scrape(context.Background(), "https://acme.dev")
	require.NoError(t, err)
	assert.Equal(t, "primary", result.Source)
	assert.Empty(t, s2.calls)
}

func TestChain_Scrape_FallbackOnError(t *testing.T) {
	s1 := &mockScraper{name: "primary", supports: true, err: errors.New("failed")}
	chain := NewChain(nil, s1, okScraper("fallback"))

	result, err := chain.Scrape(context.Background(), "https://acme.dev")
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Source)
}

func TestChain_Scrape_SkipsUnsupported(t *testing.T) {
	s1 := &mockScraper{name: "off", supports: false}
	chain := NewChain(nil, s1, okScraper("on"))

	result, err := chain.Scrape(context.Background(), "https://acme.dev")
	require.NoError(t, err)
	assert.Equal(t, "on", result.Source)
	assert.Empty(t, s1.calls)
}

func TestChain_Scrape_ReportsMostSpecificFailure(t *testing.T) {
	chain := NewChain(nil,
		&mockScraper{name: "a", supports: true, err: &BlockedError{URL: "u", Block: BlockCaptcha}},
		&mockScraper{name: "b", supports: true, err: errors.New("boom")},
	)

	_, err := chain.Scrape(context.Background(), "https://acme.dev")
	require.Error(t, err)
	assert.Equal(t, FailureBlocked, Classify(err))
}

func TestChain_Scrape_Excluded(t *testing.T) {
	s := okScraper("primary")
	chain := NewChain(NewPathMatcher([]string{"/docs/*"}), s)

	_, err := chain.Scrape(context.Background(), "https://acme.dev/docs/intro")
	require.ErrorIs(t, err, ErrExcluded)
	assert.Empty(t, s.calls)
}

func TestChain_Scrape_NoScrapers(t *testing.T) {
	_, err := NewChain(nil).Scrape(context.Background(), "https://acme.dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scraper available")
}

func TestChain_Scrape_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := okScraper("primary")

	_, err := NewChain(nil, s).Scrape(ctx, "https://acme.dev")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.calls)
}

func TestChain_ScrapeAll_PreservesOrder(t *testing.T) {
	chain := NewChain(nil, okScraper("primary"))
	urls := []string{"https://a.dev", "https://b.dev/x.pdf", "https://c.dev", "https://d.dev"}

	pages := chain.ScrapeAll(context.Background(), urls, 2)
	require.Len(t, pages, 3)
	assert.Equal(t, "https://a.dev", pages[0].URL)
	assert.Equal(t, "https://c.dev", pages[1].URL)
	assert.Equal(t, "https://d.dev", pages[2].URL)
}

func TestChain_ScrapeAll_BatchFallback(t *testing.T) {
	fc := fcmocks.NewMockClient(t)
	primary := &mockScraper{name: "local_http", supports: true, err: errors.New("blocked")}
	chain := NewChain(nil, primary, NewFirecrawlAdapter(fc)).WithFirecrawlClient(fc)

	fc.On("BatchScrape", mock.Anything, mock.MatchedBy(func(req firecrawl.BatchScrapeRequest) bool {
		return len(req.URLs) == 2
	})).Return(&firecrawl.BatchScrapeResponse{Success: true, ID: "b1"}, nil)
	fc.On("GetBatchScrapeStatus", mock.Anything, "b1").Return(&firecrawl.BatchScrapeStatusResponse{
		Status: "completed",
		Data: []firecrawl.PageData{
			{Markdown: "A body", Metadata: firecrawl.Metadata{SourceURL: "https://a.dev", Title: "A"}},
			{Markdown: "B body", Metadata: firecrawl.Metadata{SourceURL: "https://b.dev", Title: "B"}},
		},
	}, nil)

	pages := chain.ScrapeAll(context.Background(), []string{"https://a.dev", "https://b.dev"}, 4)
	require.Len(t, pages, 2)
	assert.Equal(t, "A", pages[0].Title)
	assert.Equal(t, "firecrawl", pages[1].Source)
}

func TestChain_ScrapeAll_BatchResultsOutOfOrder(t *testing.T) {
	fc := fcmocks.NewMockClient(t)
	primary := &mockScraper{name: "local_http", supports: true, err: errors.New("blocked")}
	chain := NewChain(nil, primary, NewFirecrawlAdapter(fc)).WithFirecrawlClient(fc)

	fc.On("BatchScrape", mock.Anything, mock.MatchedBy(func(req firecrawl.BatchScrapeRequest) bool {
		return assert.ObjectsAreEqual([]string{"https://a.dev", "https://b.dev"}, req.URLs)
	})).Return(&firecrawl.BatchScrapeResponse{Success: true, ID: "b2"}, nil)
	fc.On("GetBatchScrapeStatus", mock.Anything, "b2").Return(&firecrawl.BatchScrapeStatusResponse{
		Status: "completed",
		Data: []firecrawl.PageData{
			{Markdown: "B body", Metadata: firecrawl.Metadata{SourceURL: "https://b.dev/", Title: "B"}},
			{Markdown: "A body", Metadata: firecrawl.Metadata{SourceURL: "https://A.dev", Title: "A"}},
		},
	}, nil)

	pages := chain.ScrapeAll(context.Background(), []string{"https://a.dev", "https://b.dev"}, 1)
	require.Len(t, pages, 2)
	assert.Equal(t, "A", pages[0].Title)
	assert.Equal(t, "A body", pages[0].Markdown)
	assert.Equal(t, "B", pages[1].Title)
	assert.Equal(t, "B body", pages[1].Markdown)
}

func TestChain_ScrapeAll_BatchPositionalWithoutSourceURL(t *testing.T) {
	fc := fcmocks.NewMockClient(t)
	primary := &mockScraper{name: "local_http", supports: true, err: errors.New("blocked")}
	chain := NewChain(nil, primary, NewFirecrawlAdapter(fc)).WithFirecrawlClient(fc)

	fc.On("BatchScrape", mock.Anything, mock.Anything).Return(&firecrawl.BatchScrapeResponse{Success: true, ID: "b3"}, nil)
	fc.On("GetBatchScrapeStatus", mock.Anything, "b3").Return(&firecrawl.BatchScrapeStatusResponse{
		Status: "completed",
		Data: []firecrawl.PageData{
			{Markdown: "A body", Metadata: firecrawl.Metadata{Title: "A"}},
			{Markdown: "B body", Metadata: firecrawl.Metadata{SourceURL: "https://b.dev", Title: "B"}},
		},
	}, nil)

	pages := chain.ScrapeAll(context.Background(), []string{"https://a.dev", "https://b.dev"}, 1)
	require.Len(t, pages, 2)
	assert.Equal(t, "https://a.dev", pages[0].URL)
	assert.Equal(t, "A", pages[0].Title)
	assert.Equal(t, "B", pages[1].Title)
}

func TestBatchKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://a.dev", "https://a.dev"},
		{"https://a.dev/", "https://a.dev"},
		{"HTTPS://A.dev/Docs/", "https://a.dev/Docs"},
		{"https://a.dev/x#top", "https://a.dev/x"},
		{" https://a.dev/x?q=1 ", "https://a.dev/x?q=1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, batchKey(tt.in))
		})
	}
}

func TestChain_ScrapeAll_Empty(t *testing.T) {
	assert.Empty(t, NewChain(nil, okScraper("x")).ScrapeAll(context.Background(), nil, 3))
}

func TestFirecrawlAdapter_Scrape(t *testing.T) {
	fc := fcmocks.NewMockClient(t)
	fc.On("Scrape", mock.Anything, mock.Anything).Return(&firecrawl.ScrapeResponse{
		Success: true,
		Data: firecrawl.PageData{
			Markdown: "# Vercel",
			Metadata: firecrawl.Metadata{Title: "Vercel", SourceURL: "https://vercel.com/", StatusCode: 200},
		},
	}, nil)

	res, err := NewFirecrawlAdapter(fc).Scrape(context.Background(), "https://vercel.com")
	require.NoError(t, err)
	assert.Equal(t, "https://vercel.com/", res.Page.URL)
	assert.Equal(t, "# Vercel", res.Page.Markdown)
}

func TestFirecrawlAdapter_TargetNotFound(t *testing.T) {
	fc := fcmocks.NewMockClient(t)
	fc.On("Scrape", mock.Anything, mock.Anything).Return(&firecrawl.ScrapeResponse{
		Success: true,
		Data:    firecrawl.PageData{Metadata: firecrawl.Metadata{StatusCode: 404}},
	}, nil)

	_, err := NewFirecrawlAdapter(fc).Scrape(context.Background(), "https://gone.dev")
	assert.Equal(t, FailureNotFound, Classify(err))
}

func TestFirecrawlAdapter_ProviderErrorsClassified(t *testing.T) {
	fc := fcmocks.NewMockClient(t)
	fc.On("Scrape", mock.Anything, mock.Anything).Return(nil, &firecrawl.APIError{StatusCode: 503}).Once()

	_, err := NewFirecrawlAdapter(fc).Scrape(context.Background(), "https://x.dev")
	require.Error(t, err)
	assert.Equal(t, FailureUnavailable, Classify(err))
	assert.True(t, strings.Contains(err.Error(), "503"))
}
