// Package inference defines the Reason-phase contract against a language
// model provider and the adapters that implement it.
//
// The interface is deliberately narrower than the donor codebase's
// runtime/agent/model.Client: Reason phase issues exactly one
// non-streaming completion call per iteration over the
// runtime/agent/conv.Conversation/runtime/agent/action.ProposedAction
// vocabulary, so the rich multi-modal Part union and the Stream method are
// not carried forward. ProviderError is ported near-verbatim from the
// donor codebase's runtime/agent/model/provider_error.go, which already captures
// the provider/operation/HTTP-status/retryable shape every adapter below
// needs.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
	"github.com/agentmesh/agentrt/runtime/agent/tools"
)

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Request bundles everything a Provider needs to produce one completion.
type Request struct {
	Conversation conv.Conversation
	Tools        []tools.Definition
	Model        string
	MaxTokens    int
	Temperature  float64
}

// Result is the outcome of one Reason-phase completion: the proposed
// actions extracted from the model's turn, plus token usage for budget
// accounting.
type Result struct {
	Actions []action.ProposedAction
	Usage   Usage
}

// Provider issues one completion call. Implementations must not retain req
// beyond the call.
type Provider interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// ProviderErrorKind classifies a provider failure so callers can decide
// whether to retry, back off, or terminate the run fatally.
type ProviderErrorKind string

const (
	KindRateLimited   ProviderErrorKind = "rate_limited"
	KindAuth          ProviderErrorKind = "auth"
	KindInvalidInput  ProviderErrorKind = "invalid_input"
	KindOverloaded    ProviderErrorKind = "overloaded"
	KindTimeout       ProviderErrorKind = "timeout"
	KindUnavailable   ProviderErrorKind = "unavailable"
	KindUnknown       ProviderErrorKind = "unknown"
)

// ProviderError is the structured error every Provider adapter returns on
// failure.
type ProviderError struct {
	Provider   string
	Operation  string
	HTTPStatus int
	Kind       ProviderErrorKind
	Code       string
	Message    string
	RequestID  string
	Retryable  bool
	cause      error
}

// NewProviderError constructs a ProviderError with Retryable inferred from
// Kind.
func NewProviderError(provider, operation string, kind ProviderErrorKind, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		Kind:      kind,
		Message:   message,
		Retryable: defaultRetryable(kind),
	}
}

func defaultRetryable(kind ProviderErrorKind) bool {
	switch kind {
	case KindRateLimited, KindOverloaded, KindTimeout, KindUnavailable:
		return true
	default:
		return false
	}
}

// WithCause attaches an underlying error for Unwrap.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.cause = err
	return e
}

func (e *ProviderError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("inference: %s %s: %s (kind=%s request_id=%s)", e.Provider, e.Operation, e.Message, e.Kind, e.RequestID)
	}
	return fmt.Sprintf("inference: %s %s: %s (kind=%s)", e.Provider, e.Operation, e.Message, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError reports whether err is or wraps a *ProviderError.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
