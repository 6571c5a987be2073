package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of generations allowed per key per
	// window when none is configured.
	DefaultRateLimit = 20

	defaultRateWindow = time.Minute
)

// RateLimiter is a sliding-window limiter keyed by an arbitrary string,
// typically a conversation scope.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	calls  map[string][]time.Time
}

// NewRateLimiter allows at most limit calls per key within window. Values
// ≤ 0 select DefaultRateLimit and one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{limit: limit, window: window, now: time.Now, calls: make(map[string][]time.Time)}
}

// Allow records a call for key and reports whether it is within budget.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(key, now)
	if len(valid) >= r.limit {
		r.calls[key] = valid
		return false
	}
	r.calls[key] = append(valid, now)
	return true
}

// Remaining returns how many calls key may still make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(r.limit-len(r.prune(key, r.now())), 0)
}

func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.calls[key]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(r.calls, key)
	}
	return valid
}

type limited struct {
	next    Generator
	limiter *RateLimiter
}

type limitKey struct{}

// WithLimitKey tags ctx with the key Limited charges a call to.
func WithLimitKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, limitKey{}, key)
}

// Limited wraps next so that each Generate is charged to the key carried by
// WithLimitKey. Calls over budget fail with ErrRateLimit without reaching
// next.
func Limited(next Generator, limiter *RateLimiter) Generator {
	return &limited{next: next, limiter: limiter}
}

func (l *limited) Generate(ctx context.Context, p Prompt) (*Reply, error) {
	key, _ := ctx.Value(limitKey{}).(string)
	if !l.limiter.Allow(key) {
		return nil, fmt.Errorf("llm: %q over %d calls per %s: %w", key, l.limiter.limit, l.limiter.window, ErrRateLimit)
	}
	return l.next.Generate(ctx, p)
}
