package search

import (
	"context"
	"errors"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
	"github.com/sells-group/devtools-research/pkg/firecrawl"
	"github.com/sells-group/devtools-research/pkg/jina"
)

// FirecrawlProvider searches through Firecrawl's /search endpoint.
type FirecrawlProvider struct {
	client firecrawl.Client
}

// NewFirecrawlProvider creates a FirecrawlProvider.
func NewFirecrawlProvider(client firecrawl.Client) *FirecrawlProvider {
	return &FirecrawlProvider{client: client}
}

func (p *FirecrawlProvider) Name() string { return "firecrawl" }

func (p *FirecrawlProvider) Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	resp, err := p.client.Search(ctx, firecrawl.SearchRequest{Query: query, Limit: limit})
	if err != nil {
		var apiErr *firecrawl.APIError
		if errors.As(err, &apiErr) {
			return nil, resilience.ClassifyStatus(err, apiErr.StatusCode)
		}
		return nil, err
	}
	hits := make([]model.SearchHit, 0, len(resp.Data))
	for _, r := range resp.Data {
		hits = append(hits, model.SearchHit{URL: r.URL, Title: r.Title, Snippet: r.Description})
	}
	return hits, nil
}

const maxSnippet = 500

// JinaProvider searches through Jina's s.jina.ai endpoint.
type JinaProvider struct {
	client jina.Client
}

// NewJinaProvider creates a JinaProvider.
func NewJinaProvider(client jina.Client) *JinaProvider {
	return &JinaProvider{client: client}
}

func (p *JinaProvider) Name() string { return "jina" }

func (p *JinaProvider) Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	resp, err := p.client.Search(ctx, query, jina.WithCount(limit))
	if err != nil {
		var se *jina.StatusError
		if errors.As(err, &se) {
			return nil, resilience.ClassifyStatus(err, se.StatusCode)
		}
		return nil, err
	}
	hits := make([]model.SearchHit, 0, len(resp.Data))
	for _, r := range resp.Data {
		snippet := r.Description
		if snippet == "" {
			snippet = model.Page{Markdown: r.Content}.Truncate(maxSnippet)
		}
		hits = append(hits, model.SearchHit{URL: r.URL, Title: r.Title, Snippet: snippet})
	}
	return hits, nil
}
