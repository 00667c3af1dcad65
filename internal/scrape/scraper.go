// Package scrape fetches web pages as markdown through a chain of scrapers,
// falling back from free local fetches to hosted readers.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
)

// Result holds a scraped page with the scraper that produced it.
type Result struct {
	Page   model.Page
	Source string // "local_http", "jina", "firecrawl"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}

// FailureKind classifies why a page could not be fetched.
type FailureKind string

const (
	FailureNotFound    FailureKind = "not_found"
	FailureTimeout     FailureKind = "timeout"
	FailureBlocked     FailureKind = "blocked"
	FailureUnavailable FailureKind = "unavailable"
)

// BlockedError reports an anti-bot wall or challenge page.
type BlockedError struct {
	URL   string
	Block BlockType
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("scrape: %s blocked (%s)", e.URL, e.Block)
}

// StatusError reports a non-success HTTP status from the target site.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scrape: %s returned HTTP %d", e.URL, e.StatusCode)
}

// Classify maps a scrape error to a FailureKind. Anything not recognizably
// a timeout, block, or missing page is reported as unavailable.
func Classify(err error) FailureKind {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return FailureBlocked
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return FailureNotFound
		case http.StatusForbidden:
			return FailureBlocked
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return FailureTimeout
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureUnavailable
}

// statusErr wraps a target-site status, marking retryable codes transient.
// A 403 from the target means we were refused, not that our credentials
// are bad, so it is never promoted to an AuthError.
func statusErr(url string, code int) error {
	err := &StatusError{URL: url, StatusCode: code}
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(err, code)
	}
	return err
}
