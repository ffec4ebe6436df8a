package inference

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter applies an AIMD-style adaptive token bucket in front of a
// Provider: it estimates the token cost of each request, blocks until
// capacity is available, and shrinks or grows its effective
// tokens-per-minute budget in response to observed rate-limit signals.
//
// Grounded in the donor codebase's features/model/middleware.AdaptiveRateLimiter,
// narrowed to the process-local case: cross-process budget coordination for
// this runtime is handled by the Redis-backed resource pool (see
// runtime/agent/balancer), not by replicating this limiter's state over
// goa.design/pulse/rmap as that codebase did.
type AdaptiveLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewAdaptiveLimiter constructs a limiter with an initial and maximum
// tokens-per-minute budget. A non-positive initialTPM defaults to a
// conservative 60,000 TPM.
func NewAdaptiveLimiter(initialTPM, maxTPM float64) *AdaptiveLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wait blocks until estimatedTokens of budget are available.
func (l *AdaptiveLimiter) Wait(ctx context.Context, estimatedTokens int) error {
	if estimatedTokens <= 0 {
		estimatedTokens = 1
	}
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()
	return lim.WaitN(ctx, estimatedTokens)
}

// Observe adjusts the limiter's budget in response to the outcome of a
// completed request: a rate-limited error halves the current TPM (down to
// minTPM); any other outcome grows it by recoveryRate (up to maxTPM).
func (l *AdaptiveLimiter) Observe(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pe, ok := AsProviderError(err); ok && pe.Kind == KindRateLimited {
		l.currentTPM -= l.currentTPM / 2
		if l.currentTPM < l.minTPM {
			l.currentTPM = l.minTPM
		}
	} else {
		l.currentTPM += l.recoveryRate
		if l.currentTPM > l.maxTPM {
			l.currentTPM = l.maxTPM
		}
	}
	l.limiter.SetLimit(rate.Limit(l.currentTPM / 60.0))
	l.limiter.SetBurst(int(l.currentTPM))
}

// CurrentTPM reports the limiter's current effective budget, for metrics.
func (l *AdaptiveLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// limitedProvider wraps a Provider with an AdaptiveLimiter.
type limitedProvider struct {
	next    Provider
	limiter *AdaptiveLimiter
	// estimate returns the token cost to charge against the limiter for
	// req, before the real usage is known.
	estimate func(Request) int
}

// WithRateLimit wraps next so every Complete call waits on limiter first and
// feeds the outcome back into it.
func WithRateLimit(next Provider, limiter *AdaptiveLimiter, estimate func(Request) int) Provider {
	if estimate == nil {
		estimate = func(Request) int { return 1 }
	}
	return &limitedProvider{next: next, limiter: limiter, estimate: estimate}
}

func (p *limitedProvider) Complete(ctx context.Context, req Request) (Result, error) {
	if err := p.limiter.Wait(ctx, p.estimate(req)); err != nil {
		return Result{}, err
	}
	res, err := p.next.Complete(ctx, req)
	p.limiter.Observe(err)
	return res, err
}
