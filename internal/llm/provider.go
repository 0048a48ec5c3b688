package llm

import "context"

// Provider is a completion service. Implementations return ErrUpstream
// (wrapped) for service failures and the context error when ctx ends first,
// so callers can tell a slow model from a broken one.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name labels metrics and spans.
	Name() string
}
