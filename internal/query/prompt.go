package query

import (
	"fmt"
	"strings"

	"github.com/ziadkadry99/fingraph/internal/schema"
)

// Exemplar is a worked question/query pair shown to the model.
type Exemplar struct {
	Category Category
	Question string
	Query    string
}

// Exemplars cover every category. Each one passes the validator when its
// parameters are bound.
var Exemplars = []Exemplar{
	{
		Category: CategoryLookup,
		Question: "What is the latest price of MSFT?",
		Query: `MATCH (c:Company {symbol: $symbol})-[:HAS_PRICE]->(p:PriceDay)
RETURN c.symbol AS symbol, p.date AS date, p.close AS close, p.volume AS volume
ORDER BY p.date DESC LIMIT 1`,
	},
	{
		Category: CategoryLookup,
		Question: "How did AAPL perform in 2023?",
		Query: `MATCH (c:Company {symbol: $symbol})-[r:PERFORMED_IN]->(y:Year {year: $year})
RETURN c.symbol AS symbol, y.year AS year, r.return_pct AS return_pct, r.start_price AS start_price, r.end_price AS end_price`,
	},
	{
		Category: CategoryLookup,
		Question: "Which sector is Apple in?",
		Query: `MATCH (c:Company {symbol: $symbol})-[:IN_SECTOR]->(s:Sector)
RETURN c.symbol AS symbol, s.name AS sector`,
	},
	{
		Category: CategoryLookup,
		Question: "Which companies are in the Technology sector?",
		Query: `MATCH (c:Company)-[:IN_SECTOR]->(s:Sector {name: $sector})
RETURN c.symbol AS symbol, c.name AS name
ORDER BY c.symbol`,
	},
	{
		Category: CategoryTrend,
		Question: "Show me the NVDA price trend from 2020 to 2023",
		Query: `MATCH (c:Company {symbol: $symbol})-[:HAS_PRICE]->(p:PriceDay)-[:IN_YEAR]->(y:Year)
WHERE y.year >= $startYear AND y.year <= $endYear
WITH y.year AS year, avg(p.close) AS avg_close, min(p.close) AS min_close, max(p.close) AS max_close
RETURN year, avg_close, min_close, max_close
ORDER BY year`,
	},
	{
		Category: CategoryTrend,
		Question: "How did TSLA trade quarter by quarter in 2022?",
		Query: `MATCH (c:Company {symbol: $symbol})-[:HAS_PRICE]->(p:PriceDay)-[:IN_QUARTER]->(q:Quarter {year: $year})
WITH q.quarter AS quarter, avg(p.close) AS avg_close
RETURN quarter, avg_close
ORDER BY quarter`,
	},
	{
		Category: CategoryComparison,
		Question: "Compare AAPL and MSFT performance in 2023",
		Query: `MATCH (c1:Company {symbol: $symbol})-[r1:PERFORMED_IN]->(y:Year {year: $year})
MATCH (c2:Company {symbol: $symbol2})-[r2:PERFORMED_IN]->(y)
RETURN c1.symbol AS symbol, r1.return_pct AS return_pct, c2.symbol AS other_symbol, r2.return_pct AS other_return_pct`,
	},
	{
		Category: CategoryComparison,
		Question: "Which stocks outperformed AAPL in 2022?",
		Query: `MATCH (c1:Company {symbol: $symbol})-[r1:PERFORMED_IN]->(y:Year {year: $year})
MATCH (c2:Company)-[r2:PERFORMED_IN]->(y)
WHERE c2 <> c1 AND r2.return_pct > r1.return_pct
RETURN c2.symbol AS symbol, r2.return_pct AS return_pct, r1.return_pct AS baseline_return_pct
ORDER BY r2.return_pct DESC LIMIT 5`,
	},
	{
		Category: CategoryCorrelation,
		Question: "Which stocks are most correlated with TSLA?",
		Query: `MATCH (c1:Company {symbol: $symbol})-[r:CORRELATED_WITH]-(c2:Company)
RETURN c2.symbol AS symbol, r.correlation AS correlation
ORDER BY abs(r.correlation) DESC LIMIT 5`,
	},
	{
		Category: CategoryCorrelation,
		Question: "Which stocks have a correlation above 0.8 with MSFT?",
		Query: `MATCH (c1:Company {symbol: $symbol})-[r:CORRELATED_WITH]-(c2:Company)
WHERE r.correlation >= $threshold
RETURN c2.symbol AS symbol, r.correlation AS correlation
ORDER BY r.correlation DESC`,
	},
	{
		Category: CategoryCorrelation,
		Question: "Which companies are similar to Apple?",
		Query: `MATCH (c1:Company {symbol: $symbol})-[r:GDS_SIMILAR]-(c2:Company)
RETURN c2.symbol AS symbol, r.score AS similarity_score
ORDER BY r.score DESC LIMIT 5`,
	},
	{
		Category: CategoryCentrality,
		Question: "What are the most influential companies?",
		Query: `MATCH (c:Company)
WHERE c.pagerank IS NOT NULL
RETURN c.symbol AS symbol, c.pagerank AS pagerank
ORDER BY c.pagerank DESC LIMIT 5`,
	},
	{
		Category: CategoryCommunity,
		Question: "Which companies are in the same group as MSFT?",
		Query: `MATCH (c1:Company {symbol: $symbol}), (c2:Company)
WHERE c1.community IS NOT NULL AND c2.community = c1.community AND c2 <> c1
RETURN c2.symbol AS symbol, c2.community AS community
ORDER BY c2.symbol`,
	},
}

const generationRules = `RULES:
1. Return ONLY the Cypher query. No explanation, no markdown, no code fences.
2. Use ONLY the node labels, relationship types and properties listed in the schema.
3. The query is read-only. Never use CREATE, MERGE, DELETE, DETACH, SET, REMOVE, DROP, FOREACH, LOAD or CALL.
4. Never write string literals, years or thresholds into the query. Use the parameters listed below.
5. For correlation questions use CORRELATED_WITH. For "similar" or "moves with" questions prefer GDS_SIMILAR.
6. For influence or importance use Company.pagerank. For groups or segments use Company.community.
7. For trends aggregate PriceDay.close over Year, Quarter or Month nodes.
8. If the schema cannot answer the question, return exactly INVALID_QUESTION.`

// systemPrompt is the fixed instruction block: schema, exemplars, rules.
func systemPrompt(d *schema.Descriptor) string {
	var b strings.Builder
	b.WriteString("You translate questions about a stock market knowledge graph into a single read-only Neo4j Cypher query.\n\n")
	b.WriteString("SCHEMA (use nothing else):\n")
	b.WriteString(d.Describe())
	b.WriteString("\nEXAMPLES:\n")
	for _, ex := range Exemplars {
		fmt.Fprintf(&b, "\n[%s] Question: %s\n%s\n", ex.Category, ex.Question, ex.Query)
	}
	b.WriteString("\n")
	b.WriteString(generationRules)
	return b.String()
}

// userPrompt carries the question and the parameters already bound.
func userPrompt(question string, params map[string]any, previous string, problems []Violation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Parameters available (already bound, reference them as $name):\n")
	for _, name := range boundNames(params) {
		fmt.Fprintf(&b, "- $%s: %s\n", name, paramDescriptions[name])
	}
	if len(params) == 0 {
		b.WriteString("- none\n")
	}
	if len(problems) > 0 {
		b.WriteString("\nYour previous query was rejected:\n")
		b.WriteString(previous)
		b.WriteString("\n\nProblems:\n")
		for _, p := range problems {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("Write a corrected query that fixes every problem.\n")
	}
	b.WriteString("\nCypher query:")
	return b.String()
}
