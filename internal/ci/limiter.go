package ci

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter applies a token bucket per target host so bulk artifact
// runs stay polite against shared CI services.
type hostLimiter struct {
	mu    sync.Mutex
	rps   float64
	burst int
	bkt   map[string]*rate.Limiter
}

func newHostLimiter(rps, burst float64) *hostLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = rps * 2
	}
	return &hostLimiter{rps: rps, burst: int(burst), bkt: map[string]*rate.Limiter{}}
}

// wait blocks until a token is available for host or ctx is done.
func (l *hostLimiter) wait(ctx context.Context, host string) error {
	l.mu.Lock()
	lim, ok := l.bkt[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.bkt[host] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}
