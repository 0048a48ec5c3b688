// Package entity maps mentions in a question onto the canonical company
// identifiers known to the schema.
package entity

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/ziadkadry99/fingraph/internal/conversation"
	"github.com/ziadkadry99/fingraph/internal/schema"
)

// ErrNotFound means no known entity could be resolved from the question or
// the conversation.
var ErrNotFound = errors.New("entity not found")

// MatchKind records how a mention was resolved.
type MatchKind string

const (
	ExactSymbol MatchKind = "exact_symbol"
	NameAlias   MatchKind = "name_alias"
	CarryOver   MatchKind = "contextual_carry_over"
)

// Confidence per resolution path.
const (
	confidenceExact     = 1.0
	confidenceAlias     = 0.9
	confidenceAmbiguous = 0.8
	confidenceCarryOver = 0.6
)

// ResolvedEntity is one resolved mention.
type ResolvedEntity struct {
	MentionText string
	CanonicalID string
	MatchKind   MatchKind
	Confidence  float64
}

// followUpMarkers introduce a question about the previously discussed
// company.
var followUpMarkers = [][]string{
	{"what", "about"}, {"how", "about"}, {"and"}, {"also"}, {"tell", "me", "more"},
	{"same", "for"}, {"what's", "its"}, {"whats", "its"}, {"its"}, {"their"},
}

// notTickers are all-caps words that look like tickers but are not.
var notTickers = map[string]bool{
	"I": true, "A": true, "AN": true, "US": true, "USA": true, "UK": true, "EU": true,
	"CEO": true, "CFO": true, "ETF": true, "IPO": true, "GDP": true, "AI": true,
	"EPS": true, "PE": true, "YTD": true, "EV": true, "OK": true, "VS": true,
	"USD": true, "NYSE": true, "SEC": true, "FAQ": true, "TL": true, "DR": true,
}

// everydayWords mark an ambiguous alias as the ordinary word even when a
// domain keyword is present ("the price of an apple at the grocery store").
var everydayWords = map[string]bool{
	"grocery": true, "groceries": true, "supermarket": true, "farmers": true, "fruit": true,
	"eat": true, "ate": true, "eating": true, "pie": true, "juice": true, "orchard": true,
	"recipe": true, "tree": true, "heart": true,
}

// Resolver resolves mentions against a schema's entity set.
type Resolver struct {
	schema  *schema.Descriptor
	aliases [][]string
	names   []string
}

// NewResolver builds a resolver over d's entities.
func NewResolver(d *schema.Descriptor) *Resolver {
	r := &Resolver{schema: d}
	for _, a := range d.Aliases() {
		r.aliases = append(r.aliases, words(a))
		r.names = append(r.names, a)
	}
	return r
}

type mention struct {
	ResolvedEntity
	pos int
}

// Resolve returns the primary entity of question. An explicit mention wins;
// otherwise the last entity of the conversation is carried over when the
// question reads as a follow-up.
func (r *Resolver) Resolve(question string, state conversation.State) (ResolvedEntity, error) {
	found, blocked := r.mentions(question)
	if len(found) > 0 {
		return found[0].ResolvedEntity, nil
	}
	if blocked || state.LastEntityID == "" {
		return ResolvedEntity{}, ErrNotFound
	}
	if _, ok := r.schema.Entity(state.LastEntityID); !ok {
		return ResolvedEntity{}, ErrNotFound
	}

	toks := tokens(question)
	cashtag, unknownTicker := r.unresolvedTickers(toks, question)
	if cashtag || (unknownTicker && !startsWithFollowUp(toks)) {
		return ResolvedEntity{}, ErrNotFound
	}
	return ResolvedEntity{
		CanonicalID: strings.ToUpper(state.LastEntityID),
		MatchKind:   CarryOver,
		Confidence:  confidenceCarryOver,
	}, nil
}

// ResolveAll returns every distinct explicit mention in question order.
func (r *Resolver) ResolveAll(question string) []ResolvedEntity {
	found, _ := r.mentions(question)
	out := make([]ResolvedEntity, len(found))
	for i, m := range found {
		out[i] = m.ResolvedEntity
	}
	return out
}

// mentions finds explicit mentions. blocked reports an ambiguous alias
// that was seen without a domain keyword.
func (r *Resolver) mentions(question string) ([]mention, bool) {
	var found []mention
	seen := make(map[string]bool)
	add := func(m mention) {
		if seen[m.CanonicalID] {
			return
		}
		seen[m.CanonicalID] = true
		found = append(found, m)
	}

	toks := tokens(question)
	for i, tok := range toks {
		if id, ok := r.symbol(tok); ok {
			add(mention{ResolvedEntity{MentionText: tok, CanonicalID: id, MatchKind: ExactSymbol, Confidence: confidenceExact}, i})
		}
	}

	ws := make([]string, len(toks))
	for i, t := range toks {
		ws[i] = normalizeWord(t)
	}
	domain, everyday := false, false
	for _, w := range ws {
		if r.schema.IsDomainKeyword(w) {
			domain = true
		}
		if everydayWords[w] {
			everyday = true
		}
	}

	covered := make([]bool, len(ws))
	blocked := false
	for ai, alias := range r.aliases {
		for i := 0; i+len(alias) <= len(ws); i++ {
			if !matchAt(ws, alias, i, covered) {
				continue
			}
			id, ambiguous, _ := r.schema.AliasTarget(r.names[ai])
			for j := range alias {
				covered[i+j] = true
			}
			if ambiguous && (!domain || everyday || articleBefore(ws, i)) {
				blocked = true
				continue
			}
			conf := confidenceAlias
			if ambiguous {
				conf = confidenceAmbiguous
			}
			add(mention{ResolvedEntity{
				MentionText: strings.Join(toks[i:i+len(alias)], " "),
				CanonicalID: id,
				MatchKind:   NameAlias,
				Confidence:  conf,
			}, i})
		}
	}

	sort.SliceStable(found, func(a, b int) bool { return found[a].pos < found[b].pos })
	return found, blocked && len(found) == 0
}

// Mentioned reports whether question names a company, counting an
// ambiguous alias that was read as the ordinary word.
func (r *Resolver) Mentioned(question string) bool {
	found, blocked := r.mentions(question)
	return len(found) > 0 || blocked
}

// symbol maps a token to a canonical id, tolerating a leading '$', a
// possessive and '.' as the share-class separator.
func (r *Resolver) symbol(tok string) (string, bool) {
	t := strings.TrimPrefix(tok, "$")
	t = strings.TrimSuffix(strings.TrimSuffix(t, "'s"), "'S")
	t = strings.Trim(t, ".-")
	if t == "" {
		return "", false
	}
	if e, ok := r.schema.Entity(t); ok {
		return e.ID, true
	}
	if e, ok := r.schema.Entity(strings.ReplaceAll(t, ".", "-")); ok {
		return e.ID, true
	}
	return "", false
}

// unresolvedTickers reports cashtags and all-caps ticker-like words that
// did not resolve. All-caps words are ignored when the whole question is
// upper case.
func (r *Resolver) unresolvedTickers(toks []string, question string) (cashtag, allCaps bool) {
	shouting := !strings.ContainsFunc(question, unicode.IsLower)
	for _, tok := range toks {
		if _, ok := r.symbol(tok); ok {
			continue
		}
		if strings.HasPrefix(tok, "$") && len(tok) > 1 && unicode.IsLetter(rune(tok[1])) {
			cashtag = true
			continue
		}
		t := strings.TrimSuffix(strings.Trim(tok, ".-"), "'s")
		if shouting || len(t) < 2 || len(t) > 5 || notTickers[t] {
			continue
		}
		if strings.IndexFunc(t, func(c rune) bool { return !unicode.IsUpper(c) && c != '-' && c != '.' }) < 0 {
			allCaps = true
		}
	}
	return cashtag, allCaps
}

// articleBefore reports an indefinite article before position i: "an apple"
// is fruit.
func articleBefore(ws []string, i int) bool {
	return i > 0 && (ws[i-1] == "a" || ws[i-1] == "an")
}

func startsWithFollowUp(toks []string) bool {
	ws := make([]string, len(toks))
	for i, t := range toks {
		ws[i] = normalizeWord(t)
	}
	for _, m := range followUpMarkers {
		if len(m) <= len(ws) && matchAt(ws, m, 0, nil) {
			return true
		}
	}
	return false
}

func matchAt(ws, seq []string, i int, covered []bool) bool {
	for j, w := range seq {
		if ws[i+j] != w || (covered != nil && covered[i+j]) {
			return false
		}
	}
	return true
}

// tokens splits on anything that cannot be part of a ticker or name.
func tokens(s string) []string {
	return strings.FieldsFunc(s, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '$' && c != '.' && c != '-' && c != '\'' && c != '&'
	})
}

func normalizeWord(t string) string {
	t = strings.ToLower(strings.Trim(t, ".-$'"))
	return strings.TrimSuffix(t, "'s")
}

func words(s string) []string {
	toks := tokens(s)
	for i, t := range toks {
		toks[i] = normalizeWord(t)
	}
	return toks
}
