package scrape

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/pkg/firecrawl"
)

// ErrExcluded is returned for URLs the path matcher rejects.
var ErrExcluded = eris.New("scrape: url excluded")

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	matcher  *PathMatcher
	scrapers []Scraper
	fcClient firecrawl.Client
	log      *zap.Logger
}

// NewChain creates a Chain. Scrapers are tried in the order given.
func NewChain(matcher *PathMatcher, scrapers ...Scraper) *Chain {
	if matcher == nil {
		matcher = NewPathMatcher(nil)
	}
	return &Chain{matcher: matcher, scrapers: scrapers, log: zap.L()}
}

// WithFirecrawlClient enables batch scraping in ScrapeAll.
func (c *Chain) WithFirecrawlClient(fc firecrawl.Client) *Chain {
	c.fcClient = fc
	return c
}

// WithLogger sets the chain's logger.
func (c *Chain) WithLogger(log *zap.Logger) *Chain {
	if log != nil {
		c.log = log
	}
	return c
}

// Scrape tries each supporting scraper in order for one URL. When all fail
// the returned error is the most specific one seen: a missing page beats a
// block, which beats a generic failure.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if c.matcher.IsExcluded(targetURL) {
		return nil, eris.Wrapf(ErrExcluded, "%s", targetURL)
	}

	var best error
	tried := 0
	for _, s := range c.scrapers {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "scrape: cancelled")
		}
		if !s.Supports(targetURL) {
			continue
		}
		tried++
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil {
			return result, nil
		}
		if err != nil {
			c.log.Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.String("kind", string(Classify(err))),
				zap.Error(err),
			)
			best = moreSpecific(best, err)
		}
	}
	if best != nil {
		return nil, eris.Wrapf(best, "scrape: all scrapers failed for %s", targetURL)
	}
	if tried == 0 {
		return nil, eris.Errorf("scrape: no scraper available for %s", targetURL)
	}
	return nil, eris.Errorf("scrape: no content for %s", targetURL)
}

func moreSpecific(current, next error) error {
	if current == nil {
		return next
	}
	rank := func(err error) int {
		switch Classify(err) {
		case FailureNotFound:
			return 3
		case FailureBlocked:
			return 2
		case FailureTimeout:
			return 1
		default:
			return 0
		}
	}
	if rank(next) > rank(current) {
		return next
	}
	return current
}

// ScrapeAll fetches urls with at most maxConcurrent in flight. Pages come
// back in input order; URLs that fail everywhere are skipped. With a
// Firecrawl client set, URLs the other scrapers could not fetch are sent to
// Firecrawl as a single batch instead of one request each.
func (c *Chain) ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) []model.Page {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	primary := c.scrapers
	useBatch := false
	if c.fcClient != nil && len(c.scrapers) > 1 && c.scrapers[len(c.scrapers)-1].Name() == "firecrawl" {
		primary = c.scrapers[:len(c.scrapers)-1]
		useBatch = true
	}

	var (
		mu     sync.Mutex
		pages  = make([]*model.Page, len(urls))
		missed []int
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, u := range urls {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if c.matcher.IsExcluded(u) {
				return nil
			}
			for _, s := range primary {
				if !s.Supports(u) {
					continue
				}
				result, err := s.Scrape(gCtx, u)
				if err == nil && result != nil {
					mu.Lock()
					pages[i] = &result.Page
					mu.Unlock()
					return nil
				}
			}
			mu.Lock()
			missed = append(missed, i)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if useBatch && len(missed) > 0 && ctx.Err() == nil {
		sort.Ints(missed)
		batchURLs := make([]string, len(missed))
		for j, i := range missed {
			batchURLs[j] = urls[i]
		}
		byURL := c.batchScrape(ctx, batchURLs)
		for _, i := range missed {
			if p, ok := byURL[batchKey(urls[i])]; ok {
				pages[i] = &p
			}
		}
	}

	out := make([]model.Page, 0, len(urls))
	for _, p := range pages {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

func (c *Chain) batchScrape(ctx context.Context, urls []string) map[string]model.Page {
	c.log.Debug("scrape: batch-scraping via firecrawl", zap.Int("urls", len(urls)))

	resp, err := c.fcClient.BatchScrape(ctx, firecrawl.BatchScrapeRequest{
		URLs:    urls,
		Formats: []string{"markdown"},
	})
	if err != nil {
		c.log.Warn("scrape: firecrawl batch scrape failed", zap.Error(err))
		return nil
	}

	status, err := firecrawl.PollBatchScrape(ctx, c.fcClient, resp.ID,
		firecrawl.WithPollInterval(time.Second),
		firecrawl.WithPollCap(5*time.Second),
	)
	if err != nil {
		c.log.Warn("scrape: firecrawl batch scrape poll failed", zap.Error(err))
		return nil
	}

	// Results may come back in any order; only an entry without a source
	// URL falls back to its position in the request.
	out := make(map[string]model.Page, len(status.Data))
	for i, d := range status.Data {
		if d.Markdown == "" {
			continue
		}
		fallback := ""
		if d.Metadata.SourceURL == "" && i < len(urls) {
			fallback = urls[i]
		}
		p := pageFromFirecrawl(d, fallback)
		if p.URL == "" {
			continue
		}
		key := batchKey(p.URL)
		if _, dup := out[key]; dup {
			continue
		}
		out[key] = p
	}
	return out
}

// batchKey normalises a URL for matching batch results to requests:
// lower-cased scheme and host, no fragment, no trailing slash.
func batchKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
