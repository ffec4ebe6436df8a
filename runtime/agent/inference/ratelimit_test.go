package inference_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentrt/runtime/agent/inference"
)

func TestNewAdaptiveLimiterDefaultsNonPositiveInitial(t *testing.T) {
	l := inference.NewAdaptiveLimiter(0, 0)
	assert.Equal(t, float64(60000), l.CurrentTPM())
}

func TestNewAdaptiveLimiterClampsMaxBelowInitial(t *testing.T) {
	l := inference.NewAdaptiveLimiter(1000, 100)
	assert.Equal(t, float64(1000), l.CurrentTPM())
}

func TestObserveRateLimitedHalvesBudget(t *testing.T) {
	l := inference.NewAdaptiveLimiter(1000, 2000)
	rateLimitErr := inference.NewProviderError("anthropic", "complete", inference.KindRateLimited, "slow down")
	l.Observe(rateLimitErr)
	assert.Equal(t, float64(500), l.CurrentTPM())
}

func TestObserveRateLimitedNeverGoesBelowMin(t *testing.T) {
	l := inference.NewAdaptiveLimiter(10, 20)
	rateLimitErr := inference.NewProviderError("anthropic", "complete", inference.KindRateLimited, "slow down")
	for i := 0; i < 20; i++ {
		l.Observe(rateLimitErr)
	}
	assert.GreaterOrEqual(t, l.CurrentTPM(), float64(1))
}

func TestObserveSuccessGrowsBudgetUpToMax(t *testing.T) {
	l := inference.NewAdaptiveLimiter(1000, 1100)
	for i := 0; i < 10; i++ {
		l.Observe(nil)
	}
	assert.Equal(t, float64(1100), l.CurrentTPM())
}

func TestObserveNonRateLimitErrorStillGrowsBudget(t *testing.T) {
	l := inference.NewAdaptiveLimiter(1000, 2000)
	l.Observe(errors.New("some other failure"))
	assert.Greater(t, l.CurrentTPM(), float64(1000))
}

type stubProvider struct {
	calls int
	err   error
}

func (p *stubProvider) Complete(context.Context, inference.Request) (inference.Result, error) {
	p.calls++
	return inference.Result{}, p.err
}

func TestWithRateLimitObservesOutcome(t *testing.T) {
	limiter := inference.NewAdaptiveLimiter(1000, 2000)
	next := &stubProvider{err: inference.NewProviderError("anthropic", "complete", inference.KindRateLimited, "slow down")}
	wrapped := inference.WithRateLimit(next, limiter, nil)

	_, err := wrapped.Complete(context.Background(), inference.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, float64(500), limiter.CurrentTPM())
}

func TestWithRateLimitDefaultsEstimateToOne(t *testing.T) {
	limiter := inference.NewAdaptiveLimiter(1000, 2000)
	next := &stubProvider{}
	wrapped := inference.WithRateLimit(next, limiter, nil)
	_, err := wrapped.Complete(context.Background(), inference.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestAsProviderErrorIgnoresStringBuiltError(t *testing.T) {
	pe := inference.NewProviderError("anthropic", "complete", inference.KindTimeout, "deadline exceeded")
	wrapped := errors.New("request failed: " + pe.Error())
	_, ok := inference.AsProviderError(wrapped)
	assert.False(t, ok)

	_, ok = inference.AsProviderError(pe)
	assert.True(t, ok)
}

func TestProviderErrorDefaultRetryable(t *testing.T) {
	cases := []struct {
		kind      inference.ProviderErrorKind
		retryable bool
	}{
		{inference.KindRateLimited, true},
		{inference.KindOverloaded, true},
		{inference.KindTimeout, true},
		{inference.KindUnavailable, true},
		{inference.KindAuth, false},
		{inference.KindInvalidInput, false},
		{inference.KindUnknown, false},
	}
	for _, c := range cases {
		pe := inference.NewProviderError("anthropic", "complete", c.kind, "msg")
		assert.Equal(t, c.retryable, pe.Retryable, "kind=%s", c.kind)
	}
}

func TestProviderErrorWithCauseUnwraps(t *testing.T) {
	cause := errors.New("network reset")
	pe := inference.NewProviderError("anthropic", "complete", inference.KindUnavailable, "down").WithCause(cause)
	assert.ErrorIs(t, pe, cause)
}

func TestProviderErrorMessageIncludesRequestID(t *testing.T) {
	pe := inference.NewProviderError("anthropic", "complete", inference.KindAuth, "bad key")
	pe.RequestID = "req-123"
	assert.Contains(t, pe.Error(), "req-123")
}
