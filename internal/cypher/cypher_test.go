package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexKinds(t *testing.T) {
	toks, err := Lex("MATCH (c:`Company` {symbol: $symbol}) WHERE p.close >= 1.5e3 AND x <> 'a\\'b' // tail")
	require.NoError(t, err)

	var kinds []Kind
	var texts []string
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
		texts = append(texts, tok.Text)
	}
	assert.Equal(t, []string{
		"MATCH", "(", "c", ":", "Company", "{", "symbol", ":", "symbol", "}", ")",
		"WHERE", "p", ".", "close", ">=", "1.5e3", "AND", "x", "<>", "a'b",
	}, texts)
	assert.Equal(t, Param, kinds[8])
	assert.Equal(t, Number, kinds[16])
	assert.Equal(t, String, kinds[20])
	assert.True(t, toks[4].Quoted)
}

func TestLexRange(t *testing.T) {
	toks, err := Lex("[:HAS_PRICE*1..3]")
	require.NoError(t, err)
	var texts []string
	for _, tok := range toks {
		texts = append(texts, tok.Text)
	}
	assert.Equal(t, []string{"[", ":", "HAS_PRICE", "*", "1", "..", "3", "]"}, texts)
}

func TestLexErrors(t *testing.T) {
	for _, src := range []string{"RETURN 'open", "MATCH (`c", "RETURN $", "/* never closed"} {
		_, err := Lex(src)
		assert.Error(t, err, src)
	}
}

func TestParsePatterns(t *testing.T) {
	st, err := Parse(`MATCH (c:Company {symbol: $symbol})-[:HAS_PRICE]->(p:PriceDay)-[:IN_YEAR]->(y:Year)
WHERE y.year = $year
RETURN p.date AS date, p.close AS close
ORDER BY p.date DESC LIMIT 5`)
	require.NoError(t, err)

	require.Len(t, st.Nodes, 3)
	assert.Equal(t, NodePattern{Var: "c", Labels: []string{"Company"}, Keys: []string{"symbol"}, Pos: 6}, st.Nodes[0])
	assert.Equal(t, []string{"PriceDay"}, st.Nodes[1].Labels)

	require.Len(t, st.Rels, 2)
	assert.Equal(t, []string{"HAS_PRICE"}, st.Rels[0].Types)
	assert.Equal(t, []string{"IN_YEAR"}, st.Rels[1].Types)

	assert.Equal(t, []string{"symbol", "year"}, st.Params)
	assert.Equal(t, []string{"Company"}, st.Bindings["c"])
	assert.Equal(t, 1, st.Statements)

	var props []string
	for _, ref := range st.Properties {
		props = append(props, ref.Var+"."+ref.Prop)
	}
	assert.Equal(t, []string{"y.year", "p.date", "p.close", "p.date"}, props)

	require.Len(t, st.Literals, 1)
	assert.True(t, st.Literals[0].RowCount)
	assert.False(t, st.Literals[0].NearComparison)
}

func TestParseRelationshipVariablesAndAlternatives(t *testing.T) {
	st, err := Parse(`MATCH (a:Company)-[r:CORRELATED_WITH|GDS_SIMILAR]-(b) RETURN r.correlation`)
	require.NoError(t, err)
	require.Len(t, st.Rels, 1)
	assert.Equal(t, "r", st.Rels[0].Var)
	assert.Equal(t, []string{"CORRELATED_WITH", "GDS_SIMILAR"}, st.Rels[0].Types)
	assert.Equal(t, []string{"CORRELATED_WITH", "GDS_SIMILAR"}, st.Bindings["r"])
	require.Len(t, st.Nodes, 2)
	assert.Equal(t, "b", st.Nodes[1].Var)
}

func TestParseFunctionCallsAreNotPatterns(t *testing.T) {
	st, err := Parse(`MATCH (c:Company) RETURN count(c) AS n, round(avg(c.marketcap), 2) AS cap, date.truncate('month', x)`)
	require.NoError(t, err)
	assert.Len(t, st.Nodes, 1)
	var props []string
	for _, ref := range st.Properties {
		props = append(props, ref.Prop)
	}
	assert.Equal(t, []string{"marketcap"}, props)
}

func TestParseLabelPredicate(t *testing.T) {
	st, err := Parse(`MATCH (n) -[:IN_SECTOR]->(s) WHERE n:Company RETURN s.name`)
	require.NoError(t, err)
	require.Len(t, st.LabelChecks, 1)
	assert.Equal(t, LabelCheck{Var: "n", Label: "Company", Pos: st.LabelChecks[0].Pos}, st.LabelChecks[0])
}

func TestParseLiteralContexts(t *testing.T) {
	st, err := Parse(`MATCH (c:Company {symbol: 'AAPL'})-[r:CORRELATED_WITH]-(o) WHERE r.correlation > -0.5 AND 2023 = 2023 RETURN o.symbol * 100 SKIP 2`)
	require.NoError(t, err)
	require.Len(t, st.Literals, 6)

	assert.Equal(t, String, st.Literals[0].Token.Kind)
	assert.True(t, st.Literals[0].InPatternMap)

	assert.Equal(t, "0.5", st.Literals[1].Token.Text)
	assert.True(t, st.Literals[1].NearComparison)

	assert.True(t, st.Literals[2].NearComparison)
	assert.True(t, st.Literals[3].NearComparison)

	assert.Equal(t, "100", st.Literals[4].Token.Text)
	assert.False(t, st.Literals[4].NearComparison)
	assert.False(t, st.Literals[4].RowCount)

	assert.True(t, st.Literals[5].RowCount)
}

func TestParseMultipleStatements(t *testing.T) {
	st, err := Parse(`MATCH (c:Company) RETURN c; MATCH (d:Company) DETACH DELETE d`)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Statements)

	st, err = Parse(`MATCH (c:Company) RETURN c;`)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Statements)
}

func TestWordsSkipPropertiesAndLabels(t *testing.T) {
	st, err := Parse(`MATCH (p:PriceDay) RETURN p.open, p.close`)
	require.NoError(t, err)
	assert.True(t, st.HasWord("match"))
	assert.True(t, st.HasWord("RETURN"))
	assert.False(t, st.HasWord("close"))
	assert.False(t, st.HasWord("PriceDay"))
}

func TestWordsSkipMapKeys(t *testing.T) {
	st, err := Parse(`MATCH (c:Company) RETURN {set: c.symbol, delete: c.name} AS m`)
	require.NoError(t, err)
	assert.False(t, st.HasWord("SET"))
	assert.False(t, st.HasWord("delete"))

	st, err = Parse(`MATCH (c:Company {symbol: $symbol}) SET c.name = $name`)
	require.NoError(t, err)
	assert.True(t, st.HasWord("SET"))
	assert.False(t, st.HasWord("symbol"))
}

func FuzzParse(f *testing.F) {
	for _, seed := range []string{
		`MATCH (c:Company {symbol: $symbol})-[r:PERFORMED_IN]->(y:Year {year: $year}) RETURN c.symbol, r.return_pct`,
		`MATCH (c:Company) RETURN {set: c.symbol} AS m`,
		`MATCH (a)-[:X|Y*1..3]-(b) WHERE a:Company AND b.name =~ 'x.*' RETURN count(*)`,
		`RETURN 1; MATCH (d) DETACH DELETE d`,
		"MATCH (c:`Odd Label`) RETURN c",
		`RETURN "unterminated`,
		`)(}{][`,
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, src string) {
		st, err := Parse(src)
		if err != nil {
			return
		}
		st.Words()
		st.HasWord("RETURN")
	})
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"MATCH (c:Company RETURN c",
		"MATCH (c:) RETURN c",
		"MATCH (a)-[:X RETURN a",
		"RETURN (1",
		"RETURN 1)",
	} {
		_, err := Parse(src)
		assert.Error(t, err, src)
	}
}
