package resilience

import (
	"context"
)

// Guard composes the per-service protections applied to every outbound
// call: rate limiting, then the circuit breaker, with optional retries
// around both. Any field may be nil.
type Guard struct {
	Limiters *ServiceLimiters
	Breakers *ServiceBreakers
	Retry    RetryConfig
}

// Call runs fn for service under g. When retry is false fn is attempted
// once. Each attempt waits on the limiter and passes through the breaker,
// so a breaker that opens mid-sequence stops further attempts.
func Call[T any](ctx context.Context, g *Guard, service string, retry bool, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}

	attempt := func(ctx context.Context) (T, error) {
		var zero T
		if err := g.Limiters.Wait(ctx, service); err != nil {
			return zero, err
		}
		if g.Breakers == nil {
			return fn(ctx)
		}
		return ExecuteVal(ctx, g.Breakers.Get(service), fn)
	}

	cfg := g.Retry
	if !retry {
		cfg = NoRetry()
	}
	return DoVal(ctx, cfg, attempt)
}
