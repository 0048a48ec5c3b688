// Package query turns a question and its resolved entities into a validated,
// parameterized Cypher query.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/ziadkadry99/fingraph/internal/cypher"
	"github.com/ziadkadry99/fingraph/internal/intent"
	"github.com/ziadkadry99/fingraph/internal/llm"
	"github.com/ziadkadry99/fingraph/internal/schema"
	"github.com/ziadkadry99/fingraph/internal/telemetry"
)

var tracer = otel.Tracer("fingraph.query")

// CandidateQuery is a query that passed validation.
type CandidateQuery struct {
	TemplateID string
	Text       string
	Parameters map[string]any
	Category   Category
}

func (q CandidateQuery) clone() CandidateQuery {
	params := make(map[string]any, len(q.Parameters))
	for k, v := range q.Parameters {
		params[k] = v
	}
	q.Parameters = params
	return q
}

// Request is the input to Generate.
type Request struct {
	Question string
	// EntityID is the resolved canonical id, bound as $symbol. It may be
	// empty for questions about the whole market.
	EntityID string
	// OtherEntityIDs are further mentions in question order; the first is
	// bound as $symbol2.
	OtherEntityIDs []string
	Intent         intent.Intent
}

// Options configures a Generator.
type Options struct {
	// CallTimeout bounds each model call.
	CallTimeout time.Duration
	MaxTokens   int
	CacheSize   int
	// FastPath answers plain latest-price questions from a built-in template.
	FastPath bool
	Logger   *slog.Logger
	Now      func() time.Time
}

// Generator produces validated queries, caching them by question.
type Generator struct {
	provider  llm.Provider
	schema    *schema.Descriptor
	validator *Validator
	cache     *Cache
	group     singleflight.Group
	opts      Options
	system    string
	logger    *slog.Logger
}

// NewGenerator builds a generator for d.
func NewGenerator(provider llm.Provider, d *schema.Descriptor, opts Options) (*Generator, error) {
	cache, err := NewCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		provider:  provider,
		schema:    d,
		validator: NewValidator(d),
		cache:     cache,
		opts:      opts,
		system:    systemPrompt(d),
		logger:    logger,
	}, nil
}

// Validator returns the validator used for generated queries.
func (g *Generator) Validator() *Validator { return g.validator }

// Cache exposes the query cache.
func (g *Generator) Cache() *Cache { return g.cache }

// Generate returns a validated query for req. A rejected query yields a
// *ViolationError; a failing model yields an error wrapping llm.ErrUpstream.
func (g *Generator) Generate(ctx context.Context, req Request) (CandidateQuery, error) {
	ctx, span := tracer.Start(ctx, "query.generate")
	defer span.End()
	span.SetAttributes(attribute.String("entity", req.EntityID))

	if req.Intent != "" && req.Intent != intent.DataQuery {
		return CandidateQuery{}, fmt.Errorf("query generation requested for %s intent", req.Intent)
	}

	key := CacheKey(req.Question, req.EntityID, req.OtherEntityIDs...)
	if TimeRelative(req.Question) {
		// "since 2020" binds $endYear to the current year.
		key += "|y" + strconv.Itoa(g.opts.Now().Year())
	}
	if q, ok := g.cache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return q, nil
	}

	v, err, shared := g.group.Do(key, func() (any, error) {
		if q, ok := g.cache.peek(key); ok {
			return q, nil
		}
		q, err := g.generate(ctx, req)
		if err != nil {
			return nil, err
		}
		g.cache.Add(key, q)
		return q, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CandidateQuery{}, err
	}
	q := v.(CandidateQuery)
	if shared {
		q = q.clone()
	}
	span.SetAttributes(attribute.String("template", q.TemplateID), attribute.String("category", string(q.Category)))
	return q, nil
}

func (g *Generator) generate(ctx context.Context, req Request) (CandidateQuery, error) {
	params := ExtractParams(req.Question, req.EntityID, req.OtherEntityIDs, g.schema, g.opts.Now())

	if g.opts.FastPath && req.EntityID != "" && len(req.OtherEntityIDs) == 0 && isLatestPriceQuestion(req.Question) {
		if q, ok := g.fromTemplate(latestPriceTemplate, params); ok {
			g.logger.Debug("query from template", "template", q.TemplateID, "entity", req.EntityID)
			return q, nil
		}
	}

	text, problems, err := g.attempt(ctx, req.Question, params, "", nil)
	if err != nil {
		return CandidateQuery{}, err
	}
	if len(problems) > 0 {
		g.logger.Info("regenerating rejected query", "entity", req.EntityID, "violations", len(problems))
		var retryProblems []Violation
		text, retryProblems, err = g.attempt(ctx, req.Question, params, text, problems)
		if err != nil {
			return CandidateQuery{}, err
		}
		if len(retryProblems) > 0 {
			return CandidateQuery{}, &ViolationError{Query: text, Violations: retryProblems}
		}
	}

	category := DetectCategory(req.Question, text)
	return CandidateQuery{
		TemplateID: "llm:" + string(category),
		Text:       text,
		Parameters: usedParams(text, params),
		Category:   category,
	}, nil
}

// attempt asks the model once and validates the answer.
func (g *Generator) attempt(ctx context.Context, question string, params map[string]any, previous string, problems []Violation) (string, []Violation, error) {
	raw, err := g.complete(ctx, question, params, previous, problems)
	if err != nil {
		return "", nil, err
	}
	text := repairLatest(question, cleanQuery(raw))
	if isInvalidQuestion(text) {
		v := []Violation{{Kind: ViolationInvalidQuestion, Detail: "the model could not express the question with the schema"}}
		recordRejections(v)
		return text, v, nil
	}
	found := g.validator.Validate(text, params)
	recordRejections(found)
	return text, found, nil
}

// complete calls the model, retrying a transport failure once.
func (g *Generator) complete(ctx context.Context, question string, params map[string]any, previous string, problems []Violation) (string, error) {
	req := llm.CompletionRequest{
		Messages:  llm.Prompt(g.system, userPrompt(question, params, previous, problems)),
		MaxTokens: g.opts.MaxTokens,
		Purpose:   llm.PurposeGenerate,
	}
	var lastErr error
	for try := 0; try < 2; try++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		callCtx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
		resp, err := g.provider.Complete(callCtx, req)
		cancel()
		if err == nil {
			return resp.Content, nil
		}
		lastErr = err
		g.logger.Warn("query generation call failed", "attempt", try+1, "error", err)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(lastErr, llm.ErrUpstream) {
		return "", fmt.Errorf("generating query: %w", lastErr)
	}
	return "", fmt.Errorf("generating query: %w: %v", llm.ErrUpstream, lastErr)
}

func (g *Generator) fromTemplate(tmpl template, params map[string]any) (CandidateQuery, bool) {
	if problems := g.validator.Validate(tmpl.text, params); len(problems) > 0 {
		g.logger.Error("built-in template failed validation", "template", tmpl.id, "violations", fmt.Sprint(problems))
		return CandidateQuery{}, false
	}
	return CandidateQuery{
		TemplateID: tmpl.id,
		Text:       tmpl.text,
		Parameters: usedParams(tmpl.text, params),
		Category:   tmpl.category,
	}, true
}

// usedParams keeps only the bindings the query references.
func usedParams(text string, params map[string]any) map[string]any {
	out := make(map[string]any)
	st, err := cypher.Parse(text)
	if err != nil {
		return out
	}
	for _, name := range st.Params {
		if v, ok := params[name]; ok {
			out[name] = v
		}
	}
	return out
}

func recordRejections(vs []Violation) {
	for _, v := range vs {
		telemetry.ValidationRejections.WithLabelValues(string(v.Kind)).Inc()
	}
}

type template struct {
	id       string
	text     string
	category Category
}

var latestPriceTemplate = template{
	id:       "latest_price",
	category: CategoryLookup,
	text: `MATCH (c:Company {symbol: $symbol})-[:HAS_PRICE]->(p:PriceDay)
RETURN c.symbol AS symbol, p.date AS date, p.close AS close, p.volume AS volume
ORDER BY p.date DESC LIMIT 1`,
}

var (
	priceWordRe = regexp.MustCompile(`\b(price|prices|trading at|quote|worth|stock)\b`)
	// Anything beyond a plain "what is it now" lookup goes to the model.
	complexWordRe = regexp.MustCompile(`\b(trend|compare|vs|versus|correlat\w*|similar|average|avg|highest|lowest|high|low|volume|change|history|historical|sector|quarter|month|week|year|years)\b|\d{4}`)
)

func isLatestPriceQuestion(question string) bool {
	q := strings.ToLower(question)
	return latestWordRe.MatchString(q) && priceWordRe.MatchString(q) && !complexWordRe.MatchString(q)
}
