package query

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/fingraph/internal/intent"
	"github.com/ziadkadry99/fingraph/internal/llm"
	"github.com/ziadkadry99/fingraph/internal/llm/llmtest"
	"github.com/ziadkadry99/fingraph/internal/schema"
	"github.com/ziadkadry99/fingraph/internal/telemetry"
)

const lookupQuery = `MATCH (c:Company {symbol: $symbol})-[r:PERFORMED_IN]->(y:Year {year: $year})
RETURN c.symbol AS symbol, r.return_pct AS return_pct`

var allParams = map[string]any{
	ParamSymbol:    "AAPL",
	ParamSymbol2:   "MSFT",
	ParamYear:      2023,
	ParamStartYear: 2020,
	ParamEndYear:   2023,
	ParamThreshold: 0.8,
	ParamSector:    "Technology",
	ParamLimit:     5,
}

func defaultSchema(t *testing.T) *schema.Descriptor {
	t.Helper()
	d, err := schema.Default()
	require.NoError(t, err)
	return d
}

func newGenerator(t *testing.T, p llm.Provider, opts Options) *Generator {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	}
	g, err := NewGenerator(p, defaultSchema(t), opts)
	require.NoError(t, err)
	return g
}

func kinds(vs []Violation) []ViolationKind {
	var out []ViolationKind
	for _, v := range vs {
		out = append(out, v.Kind)
	}
	return out
}

func TestExemplarsPassValidation(t *testing.T) {
	v := NewValidator(defaultSchema(t))
	for _, ex := range Exemplars {
		assert.Empty(t, v.Validate(ex.Query, allParams), ex.Question)
		assert.Equal(t, ex.Category, DetectCategory(ex.Question, ex.Query), ex.Question)
	}
}

func TestExemplarsCoverEveryCategory(t *testing.T) {
	seen := make(map[Category]bool)
	for _, ex := range Exemplars {
		seen[ex.Category] = true
	}
	for _, c := range Categories {
		assert.True(t, seen[c], "no exemplar for %s", c)
	}
}

func TestValidatorRejects(t *testing.T) {
	v := NewValidator(defaultSchema(t))
	tests := []struct {
		name  string
		query string
		want  ViolationKind
	}{
		{"empty", "  ", ViolationEmpty},
		{"syntax", "MATCH (c:Company RETURN c", ViolationSyntax},
		{"unknown label", "MATCH (c:Stock {symbol: $symbol}) RETURN c", ViolationUnknownLabel},
		{"unknown relationship", "MATCH (c:Company {symbol: $symbol})-[:OWNS]->(d:Company) RETURN d.symbol", ViolationUnknownRelationship},
		{"unknown property", "MATCH (c:Company {symbol: $symbol}) RETURN c.price", ViolationUnknownProperty},
		{"property on wrong label", "MATCH (p:PriceDay) RETURN p.symbol", ViolationUnknownProperty},
		{"string literal", "MATCH (c:Company {symbol: 'AAPL'}) RETURN c.name", ViolationLiteral},
		{"year literal", "MATCH (c:Company {symbol: $symbol})-[r:PERFORMED_IN]->(y:Year) WHERE y.year = 2023 RETURN r.return_pct", ViolationLiteral},
		{"threshold literal", "MATCH (a:Company)-[r:CORRELATED_WITH]-(b:Company) WHERE r.correlation > 0.8 RETURN b.symbol", ViolationLiteral},
		{"write keyword", "MATCH (c:Company) DETACH DELETE c RETURN c", ViolationWriteKeyword},
		{"call", "CALL db.labels() YIELD label RETURN label", ViolationWriteKeyword},
		{"multiple statements", "MATCH (c:Company) RETURN c.symbol; MATCH (d:Company) RETURN d.symbol", ViolationMultipleStatements},
		{"missing return", "MATCH (c:Company {symbol: $symbol})", ViolationMissingReturn},
		{"unbound parameter", "MATCH (c:Company {symbol: $ticker}) RETURN c.name", ViolationUnboundParameter},
		{"unknown label predicate", "MATCH (c) WHERE c:Stock RETURN c.symbol", ViolationUnknownLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.query, allParams)
			require.NotEmpty(t, got)
			assert.Contains(t, kinds(got), tt.want)
		})
	}
}

func TestValidatorAccepts(t *testing.T) {
	v := NewValidator(defaultSchema(t))
	for _, q := range []string{
		"MATCH (c:Company {symbol: $symbol}) RETURN c.name LIMIT 10",
		"MATCH (c:Company) WHERE c.sector = $sector RETURN c.symbol ORDER BY c.marketcap DESC LIMIT $limit",
		"MATCH (c:Company)-[:HAS_PRICE]->(p:PriceDay) WHERE c.symbol = $symbol RETURN max(p.high) AS high, min(p.low) AS low",
		"MATCH (c:Company {symbol: $symbol})-[:IN_STATE]->(s:State)-[:IN_COUNTRY]->(n:Country) RETURN s.name, n.name",
	} {
		assert.Empty(t, v.Validate(q, allParams), q)
	}
}

func TestViolationErrorIs(t *testing.T) {
	err := error(&ViolationError{Violations: []Violation{{Kind: ViolationLiteral, Detail: "x"}}})
	assert.ErrorIs(t, err, ErrSchemaViolation)
	assert.Contains(t, err.Error(), "literal: x")
}

func TestDetectCategoryFromWording(t *testing.T) {
	plain := "MATCH (c:Company {symbol: $symbol}) RETURN c.name"
	assert.Equal(t, CategoryCentrality, DetectCategory("Is AAPL influential?", plain))
	assert.Equal(t, CategoryCommunity, DetectCategory("Which cluster is AAPL in?", plain))
	assert.Equal(t, CategoryCorrelation, DetectCategory("what moves with AAPL", plain))
	assert.Equal(t, CategoryComparison, DetectCategory("AAPL versus MSFT", plain))
	assert.Equal(t, CategoryTrend, DetectCategory("AAPL history", plain))
	assert.Equal(t, CategoryLookup, DetectCategory("AAPL name", plain))
}

func TestExtractParams(t *testing.T) {
	d := defaultSchema(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	p := ExtractParams("Compare AAPL and MSFT from 2023 back to 2020", "AAPL", []string{"MSFT"}, d, now)
	assert.Equal(t, "AAPL", p[ParamSymbol])
	assert.Equal(t, "MSFT", p[ParamSymbol2])
	assert.Equal(t, 2023, p[ParamYear])
	assert.Equal(t, 2020, p[ParamStartYear])
	assert.Equal(t, 2023, p[ParamEndYear])

	p = ExtractParams("NVDA over the last 3 years", "NVDA", nil, d, now)
	assert.Equal(t, 2021, p[ParamStartYear])
	assert.Equal(t, 2024, p[ParamEndYear])
	assert.NotContains(t, p, ParamYear)
	assert.NotContains(t, p, ParamSymbol2)

	p = ExtractParams("TSLA since 2019", "TSLA", nil, d, now)
	assert.Equal(t, 2019, p[ParamStartYear])
	assert.Equal(t, 2024, p[ParamEndYear])

	p = ExtractParams("stocks that moved more than 5% with MSFT", "MSFT", nil, d, now)
	assert.InDelta(t, 0.05, p[ParamThreshold], 1e-9)

	p = ExtractParams("correlation above 0.8 with MSFT", "MSFT", nil, d, now)
	assert.InDelta(t, 0.8, p[ParamThreshold], 1e-9)

	p = ExtractParams("top 3 companies in the technology sector", "", nil, d, now)
	assert.Equal(t, 3, p[ParamLimit])
	assert.Equal(t, "Technology", p[ParamSector])
	assert.NotContains(t, p, ParamSymbol)

	p = ExtractParams("AAPL vs AAPL", "AAPL", []string{"AAPL"}, d, now)
	assert.NotContains(t, p, ParamSymbol2)
}

func TestCleanQuery(t *testing.T) {
	want := "MATCH (c:Company) RETURN c.symbol"
	for _, raw := range []string{
		"```cypher\nMATCH (c:Company) RETURN c.symbol;\n```",
		"Here you go:\n```\nMATCH (c:Company) RETURN c.symbol\n```\nThis returns symbols.",
		"Cypher: MATCH (c:Company) RETURN c.symbol",
		"\"MATCH (c:Company) RETURN c.symbol\"",
		"  MATCH (c:Company) RETURN c.symbol ;; ",
	} {
		assert.Equal(t, want, cleanQuery(raw), raw)
	}
}

func TestRepairLatest(t *testing.T) {
	q := "MATCH (c:Company {symbol: $symbol})-[:HAS_PRICE]->(p:PriceDay) RETURN p.close"
	assert.Equal(t, q+"\nORDER BY p.date DESC LIMIT 1", repairLatest("What is the current price of AAPL?", q))
	assert.Equal(t, q, repairLatest("What were the prices of AAPL?", q))

	ordered := q + " ORDER BY p.date DESC LIMIT 1"
	assert.Equal(t, ordered, repairLatest("latest price of AAPL", ordered))
}

func TestCacheKeyNormalizes(t *testing.T) {
	a := CacheKey("What is AAPL's price?", "aapl")
	b := CacheKey("  what is   aapl's PRICE ", "AAPL")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, CacheKey("What is AAPL's price?", "MSFT"))
	assert.NotEqual(t, CacheKey("compare", "AAPL", "MSFT"), CacheKey("compare", "AAPL", "NVDA"))
}

func TestGenerateCachesValidatedQueries(t *testing.T) {
	fake := llmtest.New().Always(llm.PurposeGenerate, llmtest.Text(lookupQuery))
	g := newGenerator(t, fake, Options{})
	ctx := context.Background()
	req := Request{Question: "How did AAPL perform in 2023?", EntityID: "AAPL", Intent: intent.DataQuery}

	hits := testutil.ToFloat64(telemetry.QueryCacheRequests.WithLabelValues("hit"))

	first, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "llm:lookup", first.TemplateID)
	assert.Equal(t, CategoryLookup, first.Category)
	assert.Equal(t, map[string]any{ParamSymbol: "AAPL", ParamYear: 2023}, first.Parameters)

	first.Parameters[ParamSymbol] = "mutated"

	req.Question = "how did aapl perform in 2023"
	second, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", second.Parameters[ParamSymbol])
	assert.Equal(t, first.Text, second.Text)

	assert.Equal(t, 1, fake.CallCount(llm.PurposeGenerate))
	assert.Equal(t, 1, g.Cache().Len())
	assert.Equal(t, hits+1, testutil.ToFloat64(telemetry.QueryCacheRequests.WithLabelValues("hit")))
}

func TestGenerateRegeneratesOnce(t *testing.T) {
	fake := llmtest.New().On(llm.PurposeGenerate,
		llmtest.Text("MATCH (c:Stock {symbol: $symbol}) RETURN c.symbol"),
		llmtest.Text(lookupQuery),
	)
	g := newGenerator(t, fake, Options{})

	q, err := g.Generate(context.Background(), Request{Question: "How did AAPL do in 2023?", EntityID: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, lookupQuery, q.Text)

	require.Equal(t, 2, fake.CallCount(llm.PurposeGenerate))
	retry := fake.LastPrompt(llm.PurposeGenerate)
	assert.Contains(t, retry, "previous query was rejected")
	assert.Contains(t, retry, "Stock")
}

func TestGenerateFailsAfterSecondRejection(t *testing.T) {
	bad := "MATCH (c:Company {symbol: 'AAPL'}) RETURN c.name"
	fake := llmtest.New().Always(llm.PurposeGenerate, llmtest.Text(bad))
	g := newGenerator(t, fake, Options{})

	_, err := g.Generate(context.Background(), Request{Question: "Who is AAPL?", EntityID: "AAPL"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)

	var verr *ViolationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, bad, verr.Query)
	assert.Contains(t, kinds(verr.Violations), ViolationLiteral)
	assert.Equal(t, 2, fake.CallCount(llm.PurposeGenerate))
	assert.Zero(t, g.Cache().Len(), "rejected queries are not cached")
}

func TestGenerateInvalidQuestion(t *testing.T) {
	fake := llmtest.New().Always(llm.PurposeGenerate, llmtest.Text("INVALID_QUESTION"))
	g := newGenerator(t, fake, Options{})

	_, err := g.Generate(context.Background(), Request{Question: "What is AAPL's favourite colour?", EntityID: "AAPL"})
	var verr *ViolationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []ViolationKind{ViolationInvalidQuestion}, kinds(verr.Violations))
}

func TestGenerateRetriesUpstreamOnce(t *testing.T) {
	fake := llmtest.New().On(llm.PurposeGenerate, llmtest.Fail(nil), llmtest.Text(lookupQuery))
	g := newGenerator(t, fake, Options{})

	_, err := g.Generate(context.Background(), Request{Question: "How did AAPL perform in 2023?", EntityID: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.CallCount())

	fake = llmtest.New().Always(llm.PurposeGenerate, llmtest.Fail(nil))
	g = newGenerator(t, fake, Options{})
	_, err = g.Generate(context.Background(), Request{Question: "How did AAPL perform in 2023?", EntityID: "AAPL"})
	assert.ErrorIs(t, err, llm.ErrUpstream)
	assert.Equal(t, 2, fake.CallCount())
}

func TestGenerateWrapsUnknownProviderErrors(t *testing.T) {
	fake := llmtest.New().Always(llm.PurposeGenerate, llmtest.Fail(errors.New("socket closed")))
	g := newGenerator(t, fake, Options{})
	_, err := g.Generate(context.Background(), Request{Question: "How did AAPL perform in 2023?", EntityID: "AAPL"})
	assert.ErrorIs(t, err, llm.ErrUpstream)
	assert.Contains(t, err.Error(), "socket closed")
}

func TestGenerateFastPath(t *testing.T) {
	fake := llmtest.New()
	g := newGenerator(t, fake, Options{FastPath: true})

	q, err := g.Generate(context.Background(), Request{Question: "What is the latest price of AAPL?", EntityID: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "latest_price", q.TemplateID)
	assert.Equal(t, CategoryLookup, q.Category)
	assert.Equal(t, map[string]any{ParamSymbol: "AAPL"}, q.Parameters)
	assert.Zero(t, fake.CallCount())

	fake.Always(llm.PurposeGenerate, llmtest.Text(lookupQuery))
	q, err = g.Generate(context.Background(), Request{Question: "What is the latest price trend of AAPL in 2023?", EntityID: "AAPL"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(q.TemplateID, "llm:"))
	assert.Equal(t, 1, fake.CallCount())
}

func TestGenerateRejectsNonDataIntent(t *testing.T) {
	fake := llmtest.New()
	g := newGenerator(t, fake, Options{})
	_, err := g.Generate(context.Background(), Request{Question: "thanks", Intent: intent.Conversational})
	assert.Error(t, err)
	assert.Zero(t, fake.CallCount())
}

func TestGenerateSharesConcurrentMisses(t *testing.T) {
	fake := llmtest.New().Always(llm.PurposeGenerate, llmtest.Text(lookupQuery))
	fake.Delay = 50 * time.Millisecond
	g := newGenerator(t, fake, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := g.Generate(context.Background(), Request{Question: "How did AAPL perform in 2023?", EntityID: "AAPL"})
			if assert.NoError(t, err) {
				assert.Equal(t, lookupQuery, q.Text)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fake.CallCount())
}

func TestGenerationPromptCarriesSchemaAndParams(t *testing.T) {
	fake := llmtest.New().Always(llm.PurposeGenerate, llmtest.Text(lookupQuery))
	g := newGenerator(t, fake, Options{})
	_, err := g.Generate(context.Background(), Request{Question: "How did AAPL perform in 2023?", EntityID: "AAPL"})
	require.NoError(t, err)

	prompt := fake.LastPrompt(llm.PurposeGenerate)
	assert.Contains(t, prompt, "CORRELATED_WITH")
	assert.Contains(t, prompt, "INVALID_QUESTION")
	assert.Contains(t, prompt, "$symbol:")
	assert.Contains(t, prompt, "$year:")
	assert.NotContains(t, prompt, "$threshold:")
}

func TestPlaceholdersBindEveryParameter(t *testing.T) {
	v := NewValidator(defaultSchema(t))
	for _, ex := range Exemplars {
		assert.Empty(t, v.Validate(ex.Query, Placeholders()), ex.Question)
	}
	vs := v.Validate("MATCH (c:Company {symbol: $ticker}) RETURN c.name", Placeholders())
	assert.Equal(t, []ViolationKind{ViolationUnboundParameter}, kinds(vs))
}

func TestValidatorAllowsKeywordMapKeys(t *testing.T) {
	v := NewValidator(defaultSchema(t))
	got := v.Validate("MATCH (c:Company) RETURN {set: c.symbol} AS m", nil)
	assert.NotContains(t, kinds(got), ViolationWriteKeyword)
}

func FuzzValidate(f *testing.F) {
	for _, ex := range Exemplars {
		f.Add(ex.Query)
	}
	f.Add("MATCH (c:Company {symbol: 'AAPL'}) DETACH DELETE c")
	f.Add("MATCH (c:Company) RETURN {set: c.symbol} AS m")
	f.Add("INVALID_QUESTION")
	f.Add("")
	d, err := schema.Default()
	if err != nil {
		f.Fatal(err)
	}
	v := NewValidator(d)
	f.Fuzz(func(t *testing.T, text string) {
		v.Validate(text, allParams)
		v.Validate(text, nil)
	})
}

func TestIsMarketWide(t *testing.T) {
	tests := []struct {
		question string
		want     bool
	}{
		{"What are the most influential companies?", true},
		{"Show the top 5 most important stocks", true},
		{"Rank companies by PageRank", true},
		{"Which companies are in the Technology sector?", true},
		{"List the stocks in the Communication Services sector", true},
		{"Which sectors are there?", true},
		{"What communities exist in the market?", true},
		{"Which companies are in the same group as MSFT?", false},
		{"Which sector is it in?", false},
		{"What is its pagerank?", false},
		{"How did AAPL perform in 2023?", false},
		{"What was the closing price in 2020?", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsMarketWide(tt.question), tt.question)
	}
}

func TestTimeRelative(t *testing.T) {
	assert.True(t, TimeRelative("How has NVDA done since 2020?"))
	assert.True(t, TimeRelative("NVDA over the last 3 years"))
	assert.False(t, TimeRelative("NVDA from 2020 to 2023"))
	assert.False(t, TimeRelative("How did NVDA do in 2023?"))
}

func TestGenerateCacheFollowsCurrentYear(t *testing.T) {
	const trend = `MATCH (c:Company {symbol: $symbol})-[:HAS_PRICE]->(p:PriceDay)-[:IN_YEAR]->(y:Year)
WHERE y.year >= $startYear AND y.year <= $endYear
WITH y.year AS year, avg(p.close) AS avg_close
RETURN year, avg_close
ORDER BY year`
	fake := llmtest.New().Always(llm.PurposeGenerate, llmtest.Text(trend))
	now := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	g := newGenerator(t, fake, Options{Now: func() time.Time { return now }})
	ctx := context.Background()
	req := Request{Question: "How has NVDA traded since 2020?", EntityID: "NVDA"}

	first, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2024, first.Parameters[ParamEndYear])

	again, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2024, again.Parameters[ParamEndYear])
	assert.Equal(t, 1, fake.CallCount(llm.PurposeGenerate))

	now = now.Add(2 * time.Hour)
	next, err := g.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2020, next.Parameters[ParamStartYear])
	assert.Equal(t, 2025, next.Parameters[ParamEndYear])
	assert.Equal(t, 2, fake.CallCount(llm.PurposeGenerate))
}

// Whatever mix of valid and invalid replies the model produces, a turn
// makes at most two calls, never returns a query the validator rejects
// and ends in a schema violation after two rejections.
func TestGenerateRejectionProperty(t *testing.T) {
	valid := []string{
		lookupQuery,
		`MATCH (c:Company {symbol: $symbol})-[:IN_SECTOR]->(s:Sector)
RETURN c.symbol AS symbol, s.name AS sector`,
		`MATCH (c:Company)
WHERE c.pagerank IS NOT NULL
RETURN c.symbol AS symbol, c.pagerank AS pagerank
ORDER BY c.pagerank DESC LIMIT 5`,
	}
	invalid := []string{
		"",
		"INVALID_QUESTION",
		"MATCH (c:Stock {symbol: $symbol}) RETURN c.symbol",
		"MATCH (c:Company {symbol: 'AAPL'}) RETURN c.name",
		"MATCH (c:Company) DETACH DELETE c",
		"MATCH (c:Company) RETURN c.ticker",
		"MATCH (c:Company {symbol: $symbol}) RETURN c.symbol; MATCH (d:Company) RETURN d",
		"MATCH (c:Company {symbol: $symbol2}) RETURN c.symbol",
		"MATCH (c:Company {symbol: $symbol}) SET c.name = $symbol RETURN c",
		"MATCH (c:Company RETURN c",
	}
	pick := func(rng *rand.Rand) (string, bool) {
		if rng.IntN(2) == 0 {
			return valid[rng.IntN(len(valid))], true
		}
		return invalid[rng.IntN(len(invalid))], false
	}

	rng := rand.New(rand.NewPCG(7, 11))
	v := NewValidator(defaultSchema(t))
	for i := 0; i < 200; i++ {
		first, firstOK := pick(rng)
		second, secondOK := pick(rng)
		fake := llmtest.New().On(llm.PurposeGenerate, llmtest.Text(first), llmtest.Text(second))
		g := newGenerator(t, fake, Options{})

		q, err := g.Generate(context.Background(), Request{Question: "How did AAPL perform in 2023?", EntityID: "AAPL"})
		calls := fake.CallCount(llm.PurposeGenerate)
		switch {
		case firstOK:
			require.NoError(t, err, "case %d: %q", i, first)
			assert.Equal(t, 1, calls, "case %d", i)
		case secondOK:
			require.NoError(t, err, "case %d: %q then %q", i, first, second)
			assert.Equal(t, 2, calls, "case %d", i)
		default:
			require.ErrorIs(t, err, ErrSchemaViolation, "case %d: %q then %q", i, first, second)
			assert.Equal(t, 2, calls, "case %d", i)
			continue
		}
		assert.Empty(t, v.Validate(q.Text, q.Parameters), "case %d returned a rejected query", i)
	}
}
