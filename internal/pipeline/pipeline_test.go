package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/fingraph/internal/answer"
	"github.com/ziadkadry99/fingraph/internal/conversation"
	"github.com/ziadkadry99/fingraph/internal/entity"
	"github.com/ziadkadry99/fingraph/internal/graphstore"
	"github.com/ziadkadry99/fingraph/internal/intent"
	"github.com/ziadkadry99/fingraph/internal/llm"
	"github.com/ziadkadry99/fingraph/internal/llm/llmtest"
	"github.com/ziadkadry99/fingraph/internal/logging"
	"github.com/ziadkadry99/fingraph/internal/query"
	"github.com/ziadkadry99/fingraph/internal/schema"
	"github.com/ziadkadry99/fingraph/internal/transcript"
)

const performanceQuery = `MATCH (c:Company {symbol: $symbol})-[r:PERFORMED_IN]->(y:Year {year: $year})
RETURN c.symbol AS symbol, r.return_pct AS return_pct`

type fakeExecutor struct {
	mu      sync.Mutex
	queries []query.CandidateQuery
	result  graphstore.Result
	err     error
	// block waits for the context instead of answering.
	block   bool
	hold    time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, q query.CandidateQuery) (graphstore.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return graphstore.Result{}, &graphstore.ExecutionError{Kind: graphstore.KindTimeout, Err: ctx.Err()}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	return f.result, f.err
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeRecorder struct {
	mu    sync.Mutex
	turns []transcript.Turn
}

func (r *fakeRecorder) Record(_ context.Context, t transcript.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
	return nil
}

func (r *fakeRecorder) last() transcript.Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turns[len(r.turns)-1]
}

type harness struct {
	p        *Pipeline
	llm      *llmtest.Provider
	exec     *fakeExecutor
	store    *conversation.Store
	recorder *fakeRecorder
	schema   *schema.Descriptor
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	d, err := schema.Default()
	require.NoError(t, err)

	fake := llmtest.New().
		Always(llm.PurposeGenerate, llmtest.Text(performanceQuery)).
		Always(llm.PurposeSynthesize, llmtest.Text("MSFT returned 56.8% in 2023."))
	logger := logging.Discard()

	gen, err := query.NewGenerator(fake, d, query.Options{
		FastPath: true,
		Logger:   logger,
		Now:      func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	exec := &fakeExecutor{result: oneRow("MSFT", 56.8)}
	store := conversation.NewStore(conversation.Options{})
	rec := &fakeRecorder{}
	opts.Logger = logger

	p := New(Deps{
		Classifier:  intent.NewClassifier(fake, intent.Options{Timeout: time.Second, Logger: logger}),
		Resolver:    entity.NewResolver(d),
		Generator:   gen,
		Executor:    exec,
		Synthesizer: answer.NewSynthesizer(fake, answer.Options{Logger: logger}),
		Store:       store,
		Recorder:    rec,
	}, opts)
	return &harness{p: p, llm: fake, exec: exec, store: store, recorder: rec, schema: d}
}

func oneRow(symbol string, ret any) graphstore.Result {
	return graphstore.Result{Records: []graphstore.Record{{
		Keys:   []string{"symbol", "return_pct"},
		Values: []any{symbol, ret},
	}}}
}

func TestAskDataQuery(t *testing.T) {
	h := newHarness(t, Options{})

	resp := h.p.Ask(context.Background(), Request{Question: "How did MSFT perform in 2023?", ConversationID: "c1"})

	assert.Empty(t, resp.ErrorKind)
	assert.Equal(t, intent.DataQuery, resp.Intent)
	assert.Equal(t, "MSFT", resp.EntityID)
	assert.Equal(t, "MSFT returned 56.8% in 2023.", resp.AnswerText)
	assert.Equal(t, 0.90, resp.Confidence)
	assert.Equal(t, query.CategoryLookup, resp.QueryCategory)
	assert.Equal(t, performanceQuery, resp.GeneratedQuery)
	assert.Equal(t, 1, resp.Rows)
	assert.Equal(t, "c1", resp.ConversationID)
	assert.GreaterOrEqual(t, resp.ProcessingDurationMs, int64(0))

	st, ok := h.store.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "MSFT", st.LastEntityID)
	assert.Equal(t, string(intent.DataQuery), st.LastIntent)
	require.Len(t, st.History, 2)
	assert.Equal(t, conversation.RoleUser, st.History[0].Role)
	assert.Equal(t, resp.AnswerText, st.History[1].Text)

	turn := h.recorder.last()
	assert.Equal(t, "c1", turn.ConversationID)
	assert.Equal(t, "MSFT", turn.EntityID)
	assert.Equal(t, string(entity.ExactSymbol), turn.MatchKind)
	assert.Equal(t, map[string]any{query.ParamSymbol: "MSFT", query.ParamYear: 2023}, turn.Parameters)
	assert.Equal(t, 1, turn.RowCount)
}

func TestAskDefaultsConversationID(t *testing.T) {
	h := newHarness(t, Options{})
	resp := h.p.Ask(context.Background(), Request{Question: "How did MSFT perform in 2023?"})
	assert.Equal(t, DefaultConversationID, resp.ConversationID)
	_, ok := h.store.Get(DefaultConversationID)
	assert.True(t, ok)
}

func TestAskCarriesEntityAcrossTurns(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	first := h.p.Ask(ctx, Request{Question: "How did MSFT perform in 2023?", ConversationID: "c"})
	require.Empty(t, first.ErrorKind)

	second := h.p.Ask(ctx, Request{Question: "What about 2022?", ConversationID: "c"})
	require.Empty(t, second.ErrorKind)
	assert.Equal(t, "MSFT", second.EntityID)

	turn := h.recorder.last()
	assert.Equal(t, string(entity.CarryOver), turn.MatchKind)
	assert.Equal(t, 2022, turn.Parameters[query.ParamYear])

	st, _ := h.store.Get("c")
	assert.Len(t, st.History, 4)
}

func TestAskSeedsFromRecentHistory(t *testing.T) {
	h := newHarness(t, Options{})
	resp := h.p.Ask(context.Background(), Request{
		Question:       "are you sure?",
		ConversationID: "seeded",
		RecentHistory: []conversation.Message{
			{Role: conversation.RoleUser, Text: "price of AAPL?"},
			{Role: conversation.RoleAssistant, Text: "AAPL closed at $190.10."},
		},
	})
	assert.Equal(t, intent.Confirmation, resp.Intent)
	assert.Contains(t, resp.AnswerText, "AAPL closed at $190.10.")

	st, ok := h.store.Get("seeded")
	require.True(t, ok)
	assert.Len(t, st.History, 4)
}

func TestAskConversationalSkipsData(t *testing.T) {
	h := newHarness(t, Options{})

	resp := h.p.Ask(context.Background(), Request{Question: "thanks!", ConversationID: "c"})
	assert.Empty(t, resp.ErrorKind)
	assert.Equal(t, intent.Conversational, resp.Intent)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.Empty(t, resp.GeneratedQuery)
	assert.Zero(t, h.exec.calls())
	assert.Zero(t, h.llm.CallCount(llm.PurposeGenerate))

	st, ok := h.store.Get("c")
	require.True(t, ok)
	assert.Equal(t, string(intent.Conversational), st.LastIntent)
	assert.Empty(t, st.LastEntityID)
}

func TestAskEmptyQuestion(t *testing.T) {
	h := newHarness(t, Options{})
	resp := h.p.Ask(context.Background(), Request{Question: "   ", ConversationID: "c"})
	assert.Equal(t, ErrInvalidRequest, resp.ErrorKind)
	assert.Zero(t, resp.Confidence)
	assert.NotEmpty(t, resp.AnswerText)
	assert.Zero(t, h.llm.CallCount())
	_, ok := h.store.Get("c")
	assert.False(t, ok)
}

func TestAskEntityNotFound(t *testing.T) {
	h := newHarness(t, Options{})
	resp := h.p.Ask(context.Background(), Request{Question: "What is the price of it?", ConversationID: "c"})
	assert.Equal(t, ErrEntityNotFound, resp.ErrorKind)
	assert.Zero(t, resp.Confidence)
	assert.Contains(t, resp.AnswerText, "company name or ticker")
	assert.Zero(t, h.llm.CallCount(llm.PurposeGenerate))
	assert.Zero(t, h.exec.calls())

	st, ok := h.store.Get("c")
	require.True(t, ok, "failed turns still extend history")
	assert.Len(t, st.History, 2)
	assert.Empty(t, st.LastEntityID)
}

func TestAskMarketWideQuestions(t *testing.T) {
	const centrality = `MATCH (c:Company)
WHERE c.pagerank IS NOT NULL
RETURN c.symbol AS symbol, c.pagerank AS pagerank
ORDER BY c.pagerank DESC LIMIT 5`
	const sector = `MATCH (c:Company)-[:IN_SECTOR]->(s:Sector {name: $sector})
RETURN c.symbol AS symbol, c.name AS name
ORDER BY c.symbol`

	h := newHarness(t, Options{})
	ctx := context.Background()

	h.llm.On(llm.PurposeGenerate, llmtest.Text(sector))
	resp := h.p.Ask(ctx, Request{Question: "Which companies are in the Technology sector?", ConversationID: "fresh"})
	require.Empty(t, resp.ErrorKind, resp.AnswerText)
	assert.Empty(t, resp.EntityID)
	assert.Equal(t, 1, h.exec.calls())
	assert.Equal(t, map[string]any{query.ParamSector: "Technology"}, h.recorder.last().Parameters)

	first := h.p.Ask(ctx, Request{Question: "How did MSFT perform in 2023?", ConversationID: "c"})
	require.Empty(t, first.ErrorKind)

	h.llm.On(llm.PurposeGenerate, llmtest.Text(centrality))
	resp = h.p.Ask(ctx, Request{Question: "What are the most influential companies?", ConversationID: "c"})
	require.Empty(t, resp.ErrorKind, resp.AnswerText)
	assert.Empty(t, resp.EntityID, "no carry-over into a market-wide question")
	assert.Equal(t, query.CategoryCentrality, resp.QueryCategory)
	assert.Equal(t, 3, h.exec.calls())

	turn := h.recorder.last()
	assert.Empty(t, turn.EntityID)
	assert.Empty(t, turn.Parameters)

	st, _ := h.store.Get("c")
	assert.Equal(t, "MSFT", st.LastEntityID, "the discussed company survives a market-wide turn")

	// Pointing back at a company still needs one.
	resp = h.p.Ask(ctx, Request{Question: "Which companies are in the same group?", ConversationID: "other"})
	assert.Equal(t, ErrEntityNotFound, resp.ErrorKind)
	assert.Equal(t, 3, h.exec.calls())
}

func TestAskSchemaViolationNeverExecutes(t *testing.T) {
	h := newHarness(t, Options{})
	h.llm.Always(llm.PurposeGenerate, llmtest.Text("MATCH (c:Stock {symbol: $symbol}) RETURN c.symbol"))

	resp := h.p.Ask(context.Background(), Request{Question: "How did MSFT perform in 2023?", ConversationID: "c"})
	assert.Equal(t, ErrSchemaViolation, resp.ErrorKind)
	assert.Zero(t, resp.Confidence)
	assert.Zero(t, h.exec.calls())
	assert.Equal(t, 2, h.llm.CallCount(llm.PurposeGenerate))
}

func TestAskEmptyResult(t *testing.T) {
	h := newHarness(t, Options{})
	h.exec.result = graphstore.Result{}

	resp := h.p.Ask(context.Background(), Request{Question: "How did MSFT perform in 2023?", ConversationID: "c"})
	assert.Empty(t, resp.ErrorKind)
	assert.Zero(t, resp.Confidence)
	assert.Equal(t, "No data found for MSFT.", resp.AnswerText)
	assert.Zero(t, h.llm.CallCount(llm.PurposeSynthesize))
}

func TestAskExecutionError(t *testing.T) {
	h := newHarness(t, Options{})
	h.exec.err = &graphstore.ExecutionError{Kind: graphstore.KindConnectivity, Err: errors.New("connection refused")}

	resp := h.p.Ask(context.Background(), Request{Question: "How did MSFT perform in 2023?", ConversationID: "c"})
	assert.Equal(t, ErrExecution, resp.ErrorKind)
	assert.Zero(t, resp.Confidence)
	assert.True(t, strings.HasPrefix(resp.AnswerText, "No data found for MSFT."))
	assert.Equal(t, "MSFT", resp.EntityID)
}

func TestAskSynthesisFallback(t *testing.T) {
	h := newHarness(t, Options{})
	h.llm.Always(llm.PurposeSynthesize, llmtest.Fail(nil))

	resp := h.p.Ask(context.Background(), Request{Question: "How did MSFT perform in 2023?", ConversationID: "c"})
	assert.Equal(t, ErrUpstreamService, resp.ErrorKind)
	assert.Zero(t, resp.Confidence)
	assert.Contains(t, resp.AnswerText, "symbol=MSFT, return_pct=56.8")

	st, ok := h.store.Get("c")
	require.True(t, ok)
	assert.Empty(t, st.LastEntityID, "failed turns do not move the focus")
}

func TestAskTimeoutDoesNotCommit(t *testing.T) {
	h := newHarness(t, Options{TurnTimeout: 50 * time.Millisecond})
	h.exec.block = true

	resp := h.p.Ask(context.Background(), Request{Question: "How did MSFT perform in 2023?", ConversationID: "slow"})
	assert.Equal(t, ErrTimeout, resp.ErrorKind)
	assert.Zero(t, resp.Confidence)

	_, ok := h.store.Get("slow")
	assert.False(t, ok)
	assert.Equal(t, string(ErrTimeout), h.recorder.last().ErrorKind)
}

func TestAskSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := h.p.Ask(ctx, Request{Question: "How did MSFT perform in 2023?", ConversationID: "c"})
	assert.Empty(t, resp.ErrorKind)
	assert.Equal(t, "MSFT", resp.EntityID)
}

func TestAskSerializesPerConversation(t *testing.T) {
	h := newHarness(t, Options{})
	h.exec.hold = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.p.Ask(context.Background(), Request{Question: "How did MSFT perform in 2023?", ConversationID: "same"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.exec.maxSeen.Load())
	st, ok := h.store.Get("same")
	require.True(t, ok)
	assert.Len(t, st.History, 8)
}

func TestChatRoute(t *testing.T) {
	h := newHarness(t, Options{})
	r := chi.NewRouter()
	RegisterRoutes(r, h.p, h.schema)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"question": "How did MSFT perform in 2023?", "conversation_id": "web"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "MSFT", resp.EntityID)
	assert.Equal(t, "web", resp.ConversationID)

	w = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(`{"question": ""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, ErrInvalidRequest, resp.ErrorKind)

	long, err := json.Marshal(map[string]string{"question": strings.Repeat("a", 2001)})
	require.NoError(t, err)
	w = post(string(long))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchemaRoute(t *testing.T) {
	h := newHarness(t, Options{})
	r := chi.NewRouter()
	RegisterRoutes(r, h.p, h.schema)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/schema", bytes.NewReader(nil)))
	require.Equal(t, http.StatusOK, w.Code)

	var body schemaResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Contains(t, body.Labels, "Company")
	assert.Contains(t, body.Relationships, "CORRELATED_WITH")
	assert.NotEmpty(t, body.Entities)
}

func TestKindOf(t *testing.T) {
	live := context.Background()
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want ErrorKind
	}{
		{"turn expired", expired, errors.New("anything"), ErrTimeout},
		{"entity", live, entity.ErrNotFound, ErrEntityNotFound},
		{"violation", live, &query.ViolationError{}, ErrSchemaViolation},
		{"execution", live, &graphstore.ExecutionError{Kind: graphstore.KindRejected, Err: errors.New("bad")}, ErrExecution},
		{"upstream", live, llm.ErrUpstream, ErrUpstreamService},
		{"call deadline", live, context.DeadlineExceeded, ErrUpstreamService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kindOf(tt.ctx, tt.err))
		})
	}
}
