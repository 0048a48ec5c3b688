package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ziadkadry99/fingraph/internal/telemetry"
)

var tracer = otel.Tracer("fingraph.llm")

// ObservedProvider records call counts, latency, token usage and a span for
// every completion.
type ObservedProvider struct {
	provider Provider
}

// NewObservedProvider wraps provider with metrics and tracing.
func NewObservedProvider(provider Provider) Provider {
	return &ObservedProvider{provider: provider}
}

func (o *ObservedProvider) Name() string {
	return o.provider.Name()
}

func (o *ObservedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	name := o.provider.Name()
	purpose := string(req.Purpose)
	if purpose == "" {
		purpose = "unspecified"
	}

	ctx, span := tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.provider", name),
		attribute.String("llm.purpose", purpose),
	))
	defer span.End()

	start := time.Now()
	resp, err := o.provider.Complete(ctx, req)
	telemetry.LLMCallDuration.WithLabelValues(name, purpose).Observe(time.Since(start).Seconds())

	if err != nil {
		telemetry.LLMCalls.WithLabelValues(name, purpose, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	telemetry.LLMCalls.WithLabelValues(name, purpose, "success").Inc()
	telemetry.LLMTokens.WithLabelValues(name, "input").Add(float64(resp.InputTokens))
	telemetry.LLMTokens.WithLabelValues(name, "output").Add(float64(resp.OutputTokens))
	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
	)
	return resp, nil
}
