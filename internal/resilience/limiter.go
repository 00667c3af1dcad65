package resilience

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ServiceLimiters holds one token-bucket limiter per named service. Services
// without a configured rate are not limited.
type ServiceLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServiceLimiters builds limiters from requests-per-second values keyed
// by service name. Non-positive rates are ignored.
func NewServiceLimiters(rps map[string]float64) *ServiceLimiters {
	sl := &ServiceLimiters{limiters: make(map[string]*rate.Limiter, len(rps))}
	for name, r := range rps {
		if r <= 0 {
			continue
		}
		burst := int(r)
		if burst < 1 {
			burst = 1
		}
		sl.limiters[name] = rate.NewLimiter(rate.Limit(r), burst)
	}
	return sl
}

// Wait blocks until service may issue a request or ctx is done.
func (sl *ServiceLimiters) Wait(ctx context.Context, service string) error {
	if sl == nil {
		return nil
	}
	sl.mu.Lock()
	l, ok := sl.limiters[service]
	sl.mu.Unlock()
	if !ok {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return eris.Wrapf(err, "rate limit wait for %s", service)
	}
	return nil
}
