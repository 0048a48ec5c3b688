// Package pipeline runs one conversation turn end to end: intent, entity,
// query, execution and answer, with conversation state carried between
// turns.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ziadkadry99/fingraph/internal/answer"
	"github.com/ziadkadry99/fingraph/internal/conversation"
	"github.com/ziadkadry99/fingraph/internal/entity"
	"github.com/ziadkadry99/fingraph/internal/graphstore"
	"github.com/ziadkadry99/fingraph/internal/intent"
	"github.com/ziadkadry99/fingraph/internal/query"
	"github.com/ziadkadry99/fingraph/internal/telemetry"
	"github.com/ziadkadry99/fingraph/internal/transcript"
)

var tracer = otel.Tracer("fingraph.pipeline")

// DefaultConversationID is used when a request carries none.
const DefaultConversationID = "default"

// DefaultTurnTimeout bounds a whole turn.
const DefaultTurnTimeout = 45 * time.Second

// Request is one user turn.
type Request struct {
	Question       string `json:"question" validate:"max=2000"`
	ConversationID string `json:"conversation_id" validate:"max=128"`
	// RecentHistory seeds the conversation when the store has no entry
	// for ConversationID.
	RecentHistory []conversation.Message `json:"context" validate:"max=50"`
}

// Response is the outcome of a turn. ErrorKind is empty on success.
type Response struct {
	AnswerText           string         `json:"answer"`
	Confidence           float64        `json:"confidence"`
	QueryCategory        query.Category `json:"query_category,omitempty"`
	GeneratedQuery       string         `json:"generated_query,omitempty"`
	ProcessingDurationMs int64          `json:"processing_time_ms"`
	ErrorKind            ErrorKind      `json:"error_kind,omitempty"`
	Intent               intent.Intent  `json:"intent,omitempty"`
	ConversationID       string         `json:"conversation_id"`
	EntityID             string         `json:"entity,omitempty"`
	Rows                 int            `json:"rows"`
}

// Recorder persists finished turns.
type Recorder interface {
	Record(ctx context.Context, turn transcript.Turn) error
}

// Deps are the stage implementations a Pipeline drives.
type Deps struct {
	Classifier  *intent.Classifier
	Resolver    *entity.Resolver
	Generator   *query.Generator
	Executor    graphstore.Executor
	Synthesizer *answer.Synthesizer
	Store       *conversation.Store
	// Recorder is optional.
	Recorder Recorder
}

// Options configures a Pipeline.
type Options struct {
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

// Pipeline answers questions. It is safe for concurrent use; turns of the
// same conversation run one at a time.
type Pipeline struct {
	deps    Deps
	timeout time.Duration
	logger  *slog.Logger
}

// New assembles a pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, timeout: opts.TurnTimeout, logger: logger}
}

// turn carries the intermediate results of one Ask.
type turn struct {
	req      Request
	state    conversation.State
	intent   intent.Intent
	resolved entity.ResolvedEntity
	query    query.CandidateQuery
	rows     int
	resp     Response
}

// Ask runs one turn. It never returns an error: failures are reported
// through Response.ErrorKind with a user-facing AnswerText.
func (p *Pipeline) Ask(ctx context.Context, req Request) Response {
	start := time.Now()
	req.Question = strings.TrimSpace(req.Question)
	if req.ConversationID == "" {
		req.ConversationID = DefaultConversationID
	}
	t := &turn{req: req, resp: Response{ConversationID: req.ConversationID}}

	// The caller going away does not abandon the turn; only the turn
	// timeout does.
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	turnCtx, span := tracer.Start(turnCtx, "pipeline.turn")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", req.ConversationID))

	p.run(turnCtx, t)

	t.resp.ProcessingDurationMs = time.Since(start).Milliseconds()
	if t.resp.ErrorKind != "" {
		t.resp.Confidence = 0
		span.SetStatus(codes.Error, string(t.resp.ErrorKind))
	}
	span.SetAttributes(
		attribute.String("intent", string(t.resp.Intent)),
		attribute.String("error_kind", string(t.resp.ErrorKind)),
		attribute.Float64("confidence", t.resp.Confidence),
	)
	telemetry.TurnsTotal.WithLabelValues(string(t.resp.Intent), string(t.resp.ErrorKind)).Inc()
	telemetry.TurnDuration.Observe(time.Since(start).Seconds())

	p.logger.Info("turn finished",
		"conversation_id", req.ConversationID,
		"intent", t.resp.Intent,
		"entity", t.resp.EntityID,
		"category", t.resp.QueryCategory,
		"error_kind", t.resp.ErrorKind,
		"confidence", t.resp.Confidence,
		"duration_ms", t.resp.ProcessingDurationMs,
	)
	p.record(ctx, t)
	return t.resp
}

func (p *Pipeline) run(ctx context.Context, t *turn) {
	if t.req.Question == "" {
		p.fail(t, ErrInvalidRequest)
		return
	}

	release, err := p.deps.Store.Acquire(ctx, t.req.ConversationID)
	if err != nil {
		p.fail(t, ErrTimeout)
		return
	}
	defer release()

	t.state = p.loadState(t.req)

	in, err := p.deps.Classifier.Classify(ctx, t.req.Question, t.state)
	if err != nil {
		telemetry.IntentFallbacks.Inc()
		p.logger.Warn("intent classification degraded", "conversation_id", t.req.ConversationID, "error", err)
	}
	t.intent = in
	t.resp.Intent = in

	if in != intent.DataQuery {
		t.resp.AnswerText = intent.Reply(in, t.req.Question, t.state)
		t.resp.Confidence = 1
		t.state.LastIntent = string(in)
		p.commit(ctx, t)
		return
	}

	if err := p.answer(ctx, t); err != nil {
		kind := kindOf(ctx, err)
		p.logger.Warn("turn failed", "conversation_id", t.req.ConversationID, "error_kind", kind, "error", err)
		p.fail(t, kind)
		if kind == ErrUpstreamService && t.resp.AnswerText == "" {
			t.resp.AnswerText = message(kind, t.resp.EntityID)
		}
		if kind != ErrTimeout {
			p.commit(ctx, t)
		}
		return
	}
	if ctx.Err() != nil {
		p.fail(t, ErrTimeout)
		return
	}
	if t.resolved.CanonicalID != "" {
		t.state.LastEntityID = t.resolved.CanonicalID
	}
	t.state.LastIntent = string(intent.DataQuery)
	p.commit(ctx, t)
}

// answer runs the data stages. On a synthesis failure the response already
// holds the fallback summary when an error is returned. A market-wide
// question that names no company runs without an entity.
func (p *Pipeline) answer(ctx context.Context, t *turn) error {
	resolved, err := p.resolve(ctx, t)
	if err != nil {
		return err
	}
	t.resolved = resolved
	t.resp.EntityID = resolved.CanonicalID

	var others []string
	for _, m := range p.deps.Resolver.ResolveAll(t.req.Question) {
		if m.CanonicalID != resolved.CanonicalID {
			others = append(others, m.CanonicalID)
		}
	}

	q, err := p.deps.Generator.Generate(ctx, query.Request{
		Question:       t.req.Question,
		EntityID:       resolved.CanonicalID,
		OtherEntityIDs: others,
		Intent:         t.intent,
	})
	if err != nil {
		return err
	}
	t.query = q
	t.resp.GeneratedQuery = q.Text
	t.resp.QueryCategory = q.Category

	result, err := p.deps.Executor.Execute(ctx, q)
	if err != nil {
		return err
	}
	t.rows = result.Len()
	t.resp.Rows = result.Len()

	ans, err := p.deps.Synthesizer.Synthesize(ctx, t.req.Question, resolved.CanonicalID, result, q.Category)
	t.resp.AnswerText = ans.Text
	t.resp.Confidence = ans.Confidence
	return err
}

func (p *Pipeline) resolve(ctx context.Context, t *turn) (entity.ResolvedEntity, error) {
	_, span := tracer.Start(ctx, "entity.resolve")
	defer span.End()
	if !p.deps.Resolver.Mentioned(t.req.Question) && query.IsMarketWide(t.req.Question) {
		span.SetAttributes(attribute.Bool("market_wide", true))
		return entity.ResolvedEntity{}, nil
	}
	resolved, err := p.deps.Resolver.Resolve(t.req.Question, t.state)
	if err != nil {
		span.RecordError(err)
		return resolved, err
	}
	span.SetAttributes(
		attribute.String("entity", resolved.CanonicalID),
		attribute.String("match_kind", string(resolved.MatchKind)),
	)
	return resolved, nil
}

func (p *Pipeline) loadState(req Request) conversation.State {
	if st, ok := p.deps.Store.Get(req.ConversationID); ok {
		return st
	}
	var st conversation.State
	st.Append(p.deps.Store.MaxHistory(), req.RecentHistory...)
	return st
}

// fail marks the turn as failed with kind. A synthesis fallback text, if
// any, is kept.
func (p *Pipeline) fail(t *turn, kind ErrorKind) {
	t.resp.ErrorKind = kind
	t.resp.Confidence = 0
	if kind != ErrUpstreamService {
		t.resp.AnswerText = message(kind, t.resp.EntityID)
	}
}

// commit appends the exchange to history and stores the state.
func (p *Pipeline) commit(ctx context.Context, t *turn) {
	t.state.Append(p.deps.Store.MaxHistory(),
		conversation.Message{Role: conversation.RoleUser, Text: t.req.Question},
		conversation.Message{Role: conversation.RoleAssistant, Text: t.resp.AnswerText},
	)
	p.deps.Store.Put(t.req.ConversationID, t.state)
}

func (p *Pipeline) record(ctx context.Context, t *turn) {
	if p.deps.Recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := p.deps.Recorder.Record(rctx, transcript.Turn{
		ConversationID: t.req.ConversationID,
		Question:       t.req.Question,
		Intent:         string(t.resp.Intent),
		EntityID:       t.resolved.CanonicalID,
		MatchKind:      string(t.resolved.MatchKind),
		Category:       string(t.query.Category),
		TemplateID:     t.query.TemplateID,
		GeneratedQuery: t.query.Text,
		Parameters:     t.query.Parameters,
		RowCount:       t.rows,
		Answer:         t.resp.AnswerText,
		Confidence:     t.resp.Confidence,
		ErrorKind:      string(t.resp.ErrorKind),
		DurationMs:     t.resp.ProcessingDurationMs,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("recording turn", "conversation_id", t.req.ConversationID, "error", err)
	}
}
