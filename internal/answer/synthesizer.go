// Package answer turns query results into a natural-language answer with a
// deterministic confidence score.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ziadkadry99/fingraph/internal/graphstore"
	"github.com/ziadkadry99/fingraph/internal/llm"
	"github.com/ziadkadry99/fingraph/internal/query"
)

var tracer = otel.Tracer("fingraph.answer")

// Answer is the result of one data turn.
type Answer struct {
	Text                 string
	Confidence           float64
	Category             query.Category
	GeneratedQuery       string
	ProcessingDurationMs int64
}

// Options configures a Synthesizer.
type Options struct {
	// CallTimeout bounds each model call.
	CallTimeout time.Duration
	MaxTokens   int
	Logger      *slog.Logger
}

// Synthesizer writes answers from result rows.
type Synthesizer struct {
	provider llm.Provider
	opts     Options
	logger   *slog.Logger
}

// NewSynthesizer returns a synthesizer backed by provider.
func NewSynthesizer(provider llm.Provider, opts Options) *Synthesizer {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 20 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{provider: provider, opts: opts, logger: logger}
}

// Synthesize answers question from result. Empty results are answered
// without a model call. When the model fails twice the returned Answer
// holds a plain summary at confidence 0 and the error wraps
// llm.ErrUpstream.
func (s *Synthesizer) Synthesize(ctx context.Context, question, entityID string, result graphstore.Result, category query.Category) (Answer, error) {
	ctx, span := tracer.Start(ctx, "answer.synthesize")
	defer span.End()
	span.SetAttributes(attribute.String("category", string(category)), attribute.Int("rows", result.Len()))

	ans := Answer{Category: category}
	if result.Len() == 0 {
		ans.Text = noData(entityID)
		return ans, nil
	}

	text, err := s.complete(ctx, question, entityID, result, category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ans.Text = Summary(entityID, result)
		return ans, err
	}
	ans.Text = text
	ans.Confidence = Confidence(category, result)
	span.SetAttributes(attribute.Float64("confidence", ans.Confidence))
	return ans, nil
}

func (s *Synthesizer) complete(ctx context.Context, question, entityID string, result graphstore.Result, category query.Category) (string, error) {
	req := llm.CompletionRequest{
		Messages:    llm.Prompt(systemPrompt(category, result), userPrompt(question, entityID, result)),
		MaxTokens:   s.opts.MaxTokens,
		Temperature: 0.2,
		Purpose:     llm.PurposeSynthesize,
	}
	var lastErr error
	for try := 0; try < 2; try++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		resp, err := s.provider.Complete(callCtx, req)
		cancel()
		if err == nil {
			if text := strings.TrimSpace(resp.Content); text != "" {
				return text, nil
			}
			err = errors.New("empty completion")
		}
		lastErr = err
		s.logger.Warn("answer synthesis call failed", "attempt", try+1, "error", err)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(lastErr, llm.ErrUpstream) {
		return "", fmt.Errorf("synthesizing answer: %w", lastErr)
	}
	return "", fmt.Errorf("synthesizing answer: %w: %v", llm.ErrUpstream, lastErr)
}

var instructions = map[query.Category]string{
	query.CategoryLookup: "State the requested figures directly. Include the date for prices and format prices in dollars with two decimals.",
	query.CategoryTrend: "Describe the direction of the trend over the period: the starting and ending values, the overall change in percent, " +
		"and any notable peaks or drops. Keep it to a few sentences.",
	query.CategoryComparison: "Compare the companies side by side on the figures returned and say clearly which one did better and by how much.",
	query.CategoryCorrelation: "Explain which companies move together with the subject and how strongly. " +
		"Correlation ranges from -1 to 1; above 0.7 is strong, 0.4 to 0.7 moderate, below 0.4 weak. Mention the strongest relationships first.",
	query.CategoryCentrality: "Explain which companies are most influential in the market network according to PageRank and what a higher score means. List the top ones in order.",
	query.CategoryCommunity:  "Explain which companies form the same market community, meaning their prices tend to move as a group, and list the members.",
}

const similarityInstructions = "Explain which companies are most similar to the subject based on their price behaviour. " +
	"Similarity scores range from 0 to 1 with higher meaning more similar. Mention the most similar first."

func systemPrompt(category query.Category, result graphstore.Result) string {
	inst, ok := instructions[category]
	if !ok {
		inst = instructions[query.CategoryLookup]
	}
	if category == query.CategoryCorrelation && isSimilarity(result) {
		inst = similarityInstructions
	}
	return "You are a financial analyst assistant answering questions about a stock market knowledge graph.\n" +
		"Answer ONLY from the data rows provided. Do not invent figures, do not mention databases or queries, " +
		"and answer in plain prose without markdown tables.\n\n" + inst
}

func userPrompt(question, entityID string, result graphstore.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)
	if entityID != "" {
		fmt.Fprintf(&b, "Company: %s\n", entityID)
	}
	fmt.Fprintf(&b, "\nData (%d %s):\n", result.Len(), plural(result.Len(), "row", "rows"))
	b.WriteString(Table(result, MaxRows))
	b.WriteString("\n\nAnswer:")
	return b.String()
}

func isSimilarity(result graphstore.Result) bool {
	for _, k := range result.Keys() {
		if strings.Contains(strings.ToLower(k), "similar") {
			return true
		}
	}
	return false
}
