package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter throttles requests per host with a token bucket. A nil
// HostLimiter never blocks.
type HostLimiter struct {
	interval time.Duration
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter returns a limiter allowing requests per window for each host,
// or nil when either value is not positive.
func NewHostLimiter(requests int, window time.Duration) *HostLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	interval := window / time.Duration(requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &HostLimiter{
		interval: interval,
		burst:    requests,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host has a free token or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || host == "" {
		return nil
	}
	return h.limiter(strings.ToLower(host)).Wait(ctx)
}

func (h *HostLimiter) limiter(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(h.interval), h.burst)
		h.limiters[host] = l
	}
	return l
}
