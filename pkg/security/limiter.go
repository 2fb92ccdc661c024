package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterMaxEntries caps tracked sources before idle ones are
	// pruned.
	limiterMaxEntries = 4096

	// limiterIdleAge is how long a source with no failures stays
	// tracked.
	limiterIdleAge = 15 * time.Minute
)

// FailureLimiter throttles repeated authentication failures per
// source address. Each source gets a token bucket; failures consume
// tokens and an empty bucket blocks further attempts until it refills.
type FailureLimiter struct {
	mu      sync.Mutex
	sources map[string]*failState
	limit   rate.Limit
	burst   int
}

type failState struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewFailureLimiter creates a limiter allowing the given number of
// failures per minute with the given burst per source.
func NewFailureLimiter(perMinute float64, burst int) *FailureLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = int(perMinute)
	}
	return &FailureLimiter{
		sources: make(map[string]*failState),
		limit:   rate.Limit(perMinute / 60.0),
		burst:   burst,
	}
}

// Blocked reports whether a source has exhausted its failure budget.
func (f *FailureLimiter) Blocked(source string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.sources[source]
	if !ok {
		return false
	}
	state.seen = time.Now()
	return state.lim.Tokens() < 1
}

// Fail records an authentication failure for a source.
func (f *FailureLimiter) Fail(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.sources[source]
	if !ok {
		if len(f.sources) >= limiterMaxEntries {
			f.prune()
		}
		state = &failState{lim: rate.NewLimiter(f.limit, f.burst)}
		f.sources[source] = state
	}
	state.seen = time.Now()
	state.lim.Allow()
}

// Reset clears the failure record for a source, typically after a
// successful login.
func (f *FailureLimiter) Reset(source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sources, source)
}

// prune drops idle sources. Callers hold the lock.
func (f *FailureLimiter) prune() {
	cutoff := time.Now().Add(-limiterIdleAge)
	for source, state := range f.sources {
		if state.seen.Before(cutoff) {
			delete(f.sources, source)
		}
	}
}
