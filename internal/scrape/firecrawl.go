package scrape

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
	"github.com/sells-group/devtools-research/pkg/firecrawl"
	"github.com/sells-group/devtools-research/pkg/jina"
)

// FirecrawlAdapter wraps a Firecrawl client as a Scraper for single pages.
type FirecrawlAdapter struct {
	client firecrawl.Client
}

// NewFirecrawlAdapter creates a FirecrawlAdapter.
func NewFirecrawlAdapter(client firecrawl.Client) *FirecrawlAdapter {
	return &FirecrawlAdapter{client: client}
}

func (f *FirecrawlAdapter) Name() string { return "firecrawl" }

// Supports returns true; Firecrawl renders JavaScript and is the last resort.
func (f *FirecrawlAdapter) Supports(_ string) bool { return true }

// Scrape fetches targetURL via Firecrawl's scrape endpoint.
func (f *FirecrawlAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:             targetURL,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
	})
	if err != nil {
		return nil, classifyProvider(err)
	}
	if !resp.Success {
		return nil, eris.Errorf("firecrawl: scrape of %s not successful", targetURL)
	}
	if code := resp.Data.Metadata.StatusCode; code >= 400 {
		return nil, statusErr(targetURL, code)
	}
	page := pageFromFirecrawl(resp.Data, targetURL)
	return &Result{Page: page, Source: "firecrawl"}, nil
}

func pageFromFirecrawl(d firecrawl.PageData, fallbackURL string) model.Page {
	url := d.Metadata.SourceURL
	if url == "" {
		url = fallbackURL
	}
	return model.Page{
		URL:        url,
		Title:      d.Metadata.Title,
		Markdown:   d.Markdown,
		StatusCode: d.Metadata.StatusCode,
		Source:     "firecrawl",
		Metadata: map[string]any{
			"description": d.Metadata.Description,
		},
	}
}

// classifyProvider marks hosted-API errors transient or auth according to
// the status code the provider returned.
func classifyProvider(err error) error {
	var fcErr *firecrawl.APIError
	if errors.As(err, &fcErr) {
		return resilience.ClassifyStatus(err, fcErr.StatusCode)
	}
	var jErr *jina.StatusError
	if errors.As(err, &jErr) {
		return resilience.ClassifyStatus(err, jErr.StatusCode)
	}
	return err
}
