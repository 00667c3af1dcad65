// Package search runs web searches through an ordered list of providers.
package search

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devtools-research/internal/model"
	"github.com/sells-group/devtools-research/internal/resilience"
)

// Provider is a single web search backend.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error)
	Name() string
}

// UnavailableError means no provider could be reached at all: every one
// failed to connect, had its circuit open, or rejected the credentials. A
// provider that answered with an error status (429, 5xx) was reachable.
type UnavailableError struct {
	Errs []error
}

func (e *UnavailableError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return "search: all providers unavailable: " + strings.Join(msgs, "; ")
}

func (e *UnavailableError) Unwrap() []error {
	return e.Errs
}

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Chain tries providers in order and returns the first successful result.
type Chain struct {
	providers []Provider
	guard     *resilience.Guard
	log       *zap.Logger
}

// NewChain creates a Chain. guard may be nil.
func NewChain(guard *resilience.Guard, providers ...Provider) *Chain {
	return &Chain{providers: providers, guard: guard, log: zap.L()}
}

// WithLogger sets the chain's logger.
func (c *Chain) WithLogger(log *zap.Logger) *Chain {
	if log != nil {
		c.log = log
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// Search returns at most limit hits for query, deduplicated by URL. A provider
// error moves on to the next provider. When no provider could be reached the
// result is an UnavailableError.
func (c *Chain) Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	if len(c.providers) == 0 {
		return nil, &UnavailableError{Errs: []error{eris.New("search: no providers configured")}}
	}

	var errs []error
	allUnavailable := true
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "search: cancelled")
		}
		hits, err := resilience.Call(ctx, c.guard, p.Name(), false, func(ctx context.Context) ([]model.SearchHit, error) {
			return p.Search(ctx, query, limit)
		})
		if err == nil {
			return dedupeHits(hits, limit), nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "search: cancelled")
		}

		c.log.Warn("search: provider failed",
			zap.String("provider", p.Name()),
			zap.String("kind", resilience.Kind(err)),
			zap.Error(err),
		)
		errs = append(errs, eris.Wrapf(err, "%s", p.Name()))
		if !unreachable(err) {
			allUnavailable = false
		}
	}

	if allUnavailable {
		return nil, &UnavailableError{Errs: errs}
	}
	return nil, eris.Wrapf(errors.Join(errs...), "search %q failed", query)
}

// unreachable reports whether err means the provider never answered: the
// dial or DNS lookup failed, the connection was refused, the circuit is
// open, or the credentials were rejected.
func unreachable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) || resilience.IsAuth(err) {
		return true
	}
	var te *resilience.TransientError
	if errors.As(err, &te) && te.StatusCode != 0 {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func dedupeHits(hits []model.SearchHit, limit int) []model.SearchHit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]model.SearchHit, 0, len(hits))
	for _, h := range hits {
		u := strings.TrimSpace(h.URL)
		if u == "" {
			continue
		}
		key := strings.TrimSuffix(strings.ToLower(u), "/")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		h.URL = u
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
