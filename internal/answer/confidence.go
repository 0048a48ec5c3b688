package answer

import (
	"math"
	"strings"

	"github.com/ziadkadry99/fingraph/internal/graphstore"
	"github.com/ziadkadry99/fingraph/internal/query"
)

// oversizeCap is the most a result larger than expected can score.
const oversizeCap = 0.60

// maxNullPenalty is taken off when every relevant value is null.
const maxNullPenalty = 0.5

type profile struct {
	base     float64
	expected int
	// columns are substrings of the column names the answer depends on.
	// Empty means every column.
	columns []string
}

var profiles = map[query.Category]profile{
	query.CategoryLookup:      {base: 0.90, expected: 25},
	query.CategoryTrend:       {base: 0.80, expected: 366, columns: []string{"close", "price", "return", "avg", "open", "high", "low"}},
	query.CategoryComparison:  {base: 0.75, expected: 20, columns: []string{"return", "close", "price"}},
	query.CategoryCorrelation: {base: 0.70, expected: 20, columns: []string{"correlation", "score", "similar"}},
	query.CategoryCentrality:  {base: 0.70, expected: 20, columns: []string{"pagerank", "rank", "score"}},
	query.CategoryCommunity:   {base: 0.65, expected: 50, columns: []string{"community", "group"}},
}

// Confidence scores how well result answers a question of category c.
// It depends only on the result shape, never on the model.
func Confidence(c query.Category, result graphstore.Result) float64 {
	if result.Len() == 0 {
		return 0
	}
	p, ok := profiles[c]
	if !ok {
		p = profiles[query.CategoryLookup]
	}

	score := p.base
	if result.Len() > p.expected {
		score = math.Min(score, oversizeCap)
	}
	score -= maxNullPenalty * nullFraction(result, p.columns)

	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

// nullFraction is the share of null values in the relevant columns. When no
// column name matches, every column counts.
func nullFraction(result graphstore.Result, hints []string) float64 {
	var total, nulls int
	count := func(match func(string) bool) {
		for _, r := range result.Records {
			for i, k := range r.Keys {
				if !match(k) {
					continue
				}
				total++
				if r.Values[i] == nil {
					nulls++
				}
			}
		}
	}
	if len(hints) > 0 {
		count(func(k string) bool { return hasHint(k, hints) })
	}
	if total == 0 {
		count(func(string) bool { return true })
	}
	if total == 0 {
		return 0
	}
	return float64(nulls) / float64(total)
}

func hasHint(key string, hints []string) bool {
	k := strings.ToLower(key)
	for _, h := range hints {
		if strings.Contains(k, h) {
			return true
		}
	}
	return false
}
