package query

import (
	"regexp"
	"strings"

	"github.com/ziadkadry99/fingraph/internal/cypher"
)

// invalidQuestionMarker is what the model answers when the schema cannot
// express the question.
const invalidQuestionMarker = "INVALID_QUESTION"

var (
	fenceRe      = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	leadLabelRe  = regexp.MustCompile(`(?i)^(?:cypher|query)\s*:\s*`)
	latestWordRe = regexp.MustCompile(`\b(latest|current|currently|most recent|right now|today|now)\b`)
)

// cleanQuery strips the decoration models tend to add around a query.
func cleanQuery(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = leadLabelRe.ReplaceAllString(s, "")
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}

// isInvalidQuestion reports whether the model declined to write a query.
func isInvalidQuestion(text string) bool {
	return strings.Contains(strings.ToUpper(text), invalidQuestionMarker)
}

// repairLatest appends newest-first ordering to price lookups for
// "latest"-style questions that came back without any ordering.
func repairLatest(question, text string) string {
	if !latestWordRe.MatchString(strings.ToLower(question)) {
		return text
	}
	upper := strings.ToUpper(text)
	if !strings.Contains(upper, "HAS_PRICE") || strings.Contains(upper, "ORDER BY") || strings.Contains(upper, "LIMIT") {
		return text
	}
	st, err := cypher.Parse(text)
	if err != nil {
		return text
	}
	for _, n := range st.Nodes {
		for _, l := range n.Labels {
			if l == "PriceDay" && n.Var != "" {
				return text + "\nORDER BY " + n.Var + ".date DESC LIMIT 1"
			}
		}
	}
	return text
}
