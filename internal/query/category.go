package query

import (
	"regexp"
	"strings"
)

// Category is the closed set of question kinds. It selects the answer
// instructions and the confidence baseline.
type Category string

const (
	CategoryLookup      Category = "lookup"
	CategoryTrend       Category = "trend"
	CategoryComparison  Category = "comparison"
	CategoryCorrelation Category = "correlation"
	CategoryCentrality  Category = "centrality"
	CategoryCommunity   Category = "community"
)

// Categories lists every category in prompt order.
var Categories = []Category{
	CategoryLookup, CategoryTrend, CategoryComparison,
	CategoryCorrelation, CategoryCentrality, CategoryCommunity,
}

var (
	trendWords       = []string{"trend", "over time", "historical", "history", "growth", "change over", "evolution", "over the last", "over the past", "quarter by quarter", "month by month", "year by year", "since"}
	comparisonWords  = []string{"compare", "comparison", " vs", "versus", "better", "worse", "outperform", "underperform", "difference between", "beat"}
	correlationWords = []string{"correlat", "similar", "moves with", "move with", "moves together", "move together", "relationship between"}
	centralityWords  = []string{"influential", "pagerank", "page rank", "central", "most important", "importance"}
	communityWords   = []string{"same group", "same community", "community", "same segment", "market segment", "cluster"}
)

// DetectCategory classifies a validated query. The query structure decides
// first; the question wording breaks ties.
func DetectCategory(question, text string) Category {
	q := strings.ToLower(question)
	upper := strings.ToUpper(text)

	switch {
	case strings.Contains(upper, "GDS_SIMILAR"), strings.Contains(upper, "CORRELATED_WITH"):
		return CategoryCorrelation
	case strings.Contains(upper, "PAGERANK"):
		return CategoryCentrality
	case strings.Contains(upper, "COMMUNITY"):
		return CategoryCommunity
	case strings.Contains(upper, "PERFORMED_IN") && (strings.Count(upper, "MATCH") > 1 || strings.Contains(text, "$symbol2")):
		return CategoryComparison
	case strings.Contains(text, "$symbol2"):
		return CategoryComparison
	case isTimeSeries(upper) && (hasAggregate(upper) || strings.Contains(text, "$startYear")):
		return CategoryTrend
	}

	switch {
	case containsAny(q, centralityWords):
		return CategoryCentrality
	case containsAny(q, communityWords):
		return CategoryCommunity
	case containsAny(q, correlationWords):
		return CategoryCorrelation
	case containsAny(q, comparisonWords):
		return CategoryComparison
	case containsAny(q, trendWords):
		return CategoryTrend
	}
	return CategoryLookup
}

func isTimeSeries(upper string) bool {
	return strings.Contains(upper, "IN_YEAR") || strings.Contains(upper, "IN_QUARTER") ||
		strings.Contains(upper, "IN_MONTH") || strings.Contains(upper, "HAS_PRICE")
}

func hasAggregate(upper string) bool {
	for _, fn := range []string{"AVG(", "MIN(", "MAX(", "SUM(", "COLLECT("} {
		if strings.Contains(upper, fn) {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

var (
	marketWideRe = regexp.MustCompile(`(?i)\b(` +
		`(most|top(\s+\d+)?(\s+most)?)\s+(influential|important|central|connected)|page\s?rank|` +
		`(companies|stocks)\s+(are\s+)?in\s+the\s+[\w&\s]+?\s+sector|(which|what|list\s+(the|all)?)\s*sectors|` +
		`(which|what|list\s+(the|all)?)\s*(communities|clusters|market\s+segments)` +
		`)\b`)
	subjectRe = regexp.MustCompile(`(?i)\b(same|similar|its|their|it|correlat\w*|moves?\s+with)\b`)
)

// IsMarketWide reports whether question asks about the market as a whole:
// a centrality ranking, the list of communities or the members of a
// sector. Questions that point back at a company ("the same group as",
// "its sector") are not market-wide.
func IsMarketWide(question string) bool {
	return marketWideRe.MatchString(question) && !subjectRe.MatchString(question)
}
