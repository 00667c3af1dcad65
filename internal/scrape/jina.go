package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
	"github.com/sells-group/devtools-research/pkg/jina"
)

// JinaAdapter wraps the Jina Reader as a Scraper. It reports itself
// unsupported while its circuit breaker is open so the chain skips straight
// to the next scraper.
type JinaAdapter struct {
	client  jina.Client
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter creates a JinaAdapter. breaker may be nil.
func NewJinaAdapter(client jina.Client, breaker *resilience.CircuitBreaker) *JinaAdapter {
	return &JinaAdapter{client: client, breaker: breaker}
}

func (j *JinaAdapter) Name() string { return "jina" }

func (j *JinaAdapter) Supports(_ string) bool {
	return j.breaker == nil || j.breaker.State() != resilience.CircuitOpen
}

// Scrape fetches targetURL through the reader and rejects thin or
// challenge-page responses.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	read := func(ctx context.Context) (*jina.ReadResponse, error) {
		resp, err := j.client.Read(ctx, targetURL)
		if err != nil {
			return nil, classifyProvider(err)
		}
		return resp, nil
	}

	var (
		resp *jina.ReadResponse
		err  error
	)
	if j.breaker != nil {
		resp, err = resilience.ExecuteVal(ctx, j.breaker, read)
	} else {
		resp, err = read(ctx)
	}
	if err != nil {
		return nil, err
	}

	if resp.Code != 0 && resp.Code != 200 {
		return nil, statusErr(targetURL, resp.Code)
	}
	content := strings.TrimSpace(resp.Data.Content)
	if blocked, block := DetectChallenge(content); blocked {
		return nil, &BlockedError{URL: targetURL, Block: block}
	}
	if len(content) < 100 {
		return nil, eris.Errorf("jina: %s returned too little content", targetURL)
	}

	url := resp.Data.URL
	if url == "" {
		url = targetURL
	}
	return &Result{
		Page: model.Page{
			URL:        url,
			Title:      resp.Data.Title,
			Markdown:   content,
			StatusCode: 200,
			Source:     "jina",
		},
		Source: "jina",
	}, nil
}
