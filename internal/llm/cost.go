package llm

import (
	"context"
	"sync"
)

// modelPricing holds per-model pricing in USD per 1M tokens.
type modelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// priceTable maps model identifiers to their pricing.
var priceTable = map[string]modelPricing{
	// Anthropic models
	"claude-sonnet-4-5-20250929": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku-4-5-20251001":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},

	// OpenAI models
	"gpt-4o":       {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":  {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4.1-mini": {InputPerMillion: 0.40, OutputPerMillion: 1.60},
}

// EstimateCost returns the estimated cost in USD for the given model and token counts.
// Returns 0 if the model is not found in the price table.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := priceTable[model]
	if !ok {
		return 0
	}

	inputCost := float64(inputTokens) / 1_000_000.0 * pricing.InputPerMillion
	outputCost := float64(outputTokens) / 1_000_000.0 * pricing.OutputPerMillion
	return inputCost + outputCost
}

// Usage is a snapshot of accumulated token counts.
type Usage struct {
	Calls        int
	InputTokens  int
	OutputTokens int
}

// UsageTracker wraps a Provider and totals the tokens it consumes.
type UsageTracker struct {
	provider Provider
	mu       sync.Mutex
	usage    Usage
}

// NewUsageTracker wraps provider.
func NewUsageTracker(provider Provider) *UsageTracker {
	return &UsageTracker{provider: provider}
}

func (u *UsageTracker) Name() string {
	return u.provider.Name()
}

func (u *UsageTracker) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := u.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.usage.Calls++
	u.usage.InputTokens += resp.InputTokens
	u.usage.OutputTokens += resp.OutputTokens
	u.mu.Unlock()
	return resp, nil
}

// Usage returns the totals so far.
func (u *UsageTracker) Usage() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}
