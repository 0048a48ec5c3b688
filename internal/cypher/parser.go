package cypher

import (
	"fmt"
	"strings"
)

// NodePattern is a "(var:Label {key: ...})" element of a MATCH pattern.
type NodePattern struct {
	Var    string
	Labels []string
	Keys   []string
	Pos    int
}

// RelPattern is a "-[var:TYPE {key: ...}]-" element of a pattern.
type RelPattern struct {
	Var   string
	Types []string
	Keys  []string
	Pos   int
}

// LabelCheck is a "var:Label" predicate outside a pattern.
type LabelCheck struct {
	Var   string
	Label string
	Pos   int
}

// PropertyRef is a "var.prop" access.
type PropertyRef struct {
	Var  string
	Prop string
	Pos  int
}

// Literal is a string or number appearing in the query with the context
// the validator needs to decide whether it should have been a parameter.
type Literal struct {
	Token Token
	// InPatternMap is set for values inside a node or relationship map.
	InPatternMap bool
	// NearComparison is set when a comparison operator sits on either side.
	NearComparison bool
	// RowCount is set for the argument of LIMIT or SKIP.
	RowCount bool
}

// Statement is the structural view of one query text.
type Statement struct {
	Tokens      []Token
	Nodes       []NodePattern
	Rels        []RelPattern
	LabelChecks []LabelCheck
	Properties  []PropertyRef
	Params      []string
	Literals    []Literal
	// Bindings maps pattern variables to the labels or relationship types
	// they were declared with.
	Bindings map[string][]string
	// Statements counts the ';'-separated statements.
	Statements int
}

// Words returns the bare identifiers that can be clause keywords, i.e. the
// ones not used as a property name, label or map key.
func (s *Statement) Words() []Token {
	var out []Token
	braces := 0
	for i, t := range s.Tokens {
		switch {
		case t.isPunct("{"):
			braces++
		case t.isPunct("}"):
			braces--
		}
		if t.Kind != Ident || t.Quoted {
			continue
		}
		if i > 0 && s.Tokens[i-1].isPunct(".", ":", "|") {
			continue
		}
		if braces > 0 && i+1 < len(s.Tokens) && s.Tokens[i+1].isPunct(":") {
			continue
		}
		out = append(out, t)
	}
	return out
}

// HasWord reports whether the bare keyword w occurs in the statement.
func (s *Statement) HasWord(w string) bool {
	for _, t := range s.Words() {
		if strings.EqualFold(t.Text, w) {
			return true
		}
	}
	return false
}

// patternKeywords may directly precede a parenthesised pattern. Any other
// identifier before '(' makes it a function call.
var patternKeywords = map[string]bool{
	"MATCH": true, "WHERE": true, "AND": true, "OR": true, "NOT": true,
	"XOR": true, "EXISTS": true, "MERGE": true, "CREATE": true, "RETURN": true,
	"WITH": true,
}

var comparisonOps = []string{"=", "<>", "!=", "<", ">", "<=", ">=", "=~"}

type parser struct {
	toks   []Token
	i      int
	st     *Statement
	parens int
	brkts  int
	braces int
	seen   map[string]bool
}

// Parse lexes and structurally parses src.
func Parse(src string) (*Statement, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{
		toks: toks,
		st:   &Statement{Tokens: toks, Bindings: make(map[string][]string)},
		seen: make(map[string]bool),
	}
	if len(toks) > 0 {
		p.st.Statements = 1
	}
	for p.i < len(p.toks) {
		if err := p.step(false); err != nil {
			return nil, err
		}
	}
	switch {
	case p.parens != 0:
		return nil, fmt.Errorf("unbalanced parentheses")
	case p.brkts != 0:
		return nil, fmt.Errorf("unbalanced brackets")
	case p.braces != 0:
		return nil, fmt.Errorf("unbalanced braces")
	}
	return p.st, nil
}

func (p *parser) at(j int) Token {
	if j < 0 || j >= len(p.toks) {
		return Token{Kind: EOF, Pos: -1}
	}
	return p.toks[j]
}

func (p *parser) cur() Token { return p.at(p.i) }

func (p *parser) errorf(format string, args ...any) error {
	pos := p.cur().Pos
	if pos < 0 && len(p.toks) > 0 {
		last := p.toks[len(p.toks)-1]
		pos = last.Pos + len(last.Text)
	}
	return fmt.Errorf("at %d: %s", pos, fmt.Sprintf(format, args...))
}

func (p *parser) step(inMap bool) error {
	t := p.cur()
	switch {
	case t.isPunct("(") && p.patternStart():
		return p.node()

	case t.isPunct("[") && p.at(p.i-1).isPunct("-", "<-"):
		return p.rel()

	case t.Kind == Ident && p.at(p.i+1).isPunct(".") && p.at(p.i+2).Kind == Ident:
		// ns.fn(...) is a namespaced function, not a property.
		if !p.at(p.i + 3).isPunct("(") {
			p.st.Properties = append(p.st.Properties, PropertyRef{Var: t.Text, Prop: p.at(p.i + 2).Text, Pos: t.Pos})
		}
		p.i += 3
		return nil

	case t.Kind == Ident && p.braces == 0 && p.at(p.i+1).isPunct(":") && p.at(p.i+2).Kind == Ident:
		p.i++
		for p.cur().isPunct(":") && p.at(p.i+1).Kind == Ident {
			p.st.LabelChecks = append(p.st.LabelChecks, LabelCheck{Var: t.Text, Label: p.at(p.i + 1).Text, Pos: p.at(p.i + 1).Pos})
			p.i += 2
		}
		return nil

	case t.Kind == Param:
		p.param(t.Text)

	case t.Kind == String || t.Kind == Number:
		p.literal(p.i, inMap)

	case t.Kind == Punct:
		switch t.Text {
		case "(":
			p.parens++
		case ")":
			p.parens--
		case "[":
			p.brkts++
		case "]":
			p.brkts--
		case "{":
			p.braces++
		case "}":
			p.braces--
		case ";":
			if next := p.at(p.i + 1); next.Kind != EOF && !next.isPunct(";") {
				p.st.Statements++
			}
		}
		if p.parens < 0 || p.brkts < 0 || p.braces < 0 {
			return p.errorf("unexpected %q", t.Text)
		}
	}
	p.i++
	return nil
}

func (p *parser) patternStart() bool {
	prev := p.at(p.i - 1)
	if prev.Kind == Ident && (prev.Quoted || !patternKeywords[strings.ToUpper(prev.Text)]) {
		return false
	}
	j := p.i + 1
	if p.at(j).Kind == Ident {
		j++
	}
	next := p.at(j)
	switch {
	case next.isPunct(":"), next.isPunct("{") && j > p.i+1:
		return true
	case next.isPunct(")"):
		// A bare "(a)" or "()" is a node only when an arrow touches it.
		return p.at(j+1).isPunct("-", "<-", "->") || prev.isPunct("-", "->", "<-")
	}
	return false
}

func (p *parser) node() error {
	n := NodePattern{Pos: p.cur().Pos}
	p.i++
	if p.cur().Kind == Ident {
		n.Var = p.cur().Text
		p.i++
	}
	for p.cur().isPunct(":") {
		p.i++
		if p.cur().Kind != Ident {
			return p.errorf("expected label name")
		}
		n.Labels = append(n.Labels, p.cur().Text)
		p.i++
		for p.cur().isPunct("|", "&") {
			p.i++
			if p.cur().isPunct(":") {
				p.i++
			}
			if p.cur().Kind != Ident {
				return p.errorf("expected label name")
			}
			n.Labels = append(n.Labels, p.cur().Text)
			p.i++
		}
	}
	if p.cur().isPunct("{") {
		keys, err := p.patternMap()
		if err != nil {
			return err
		}
		n.Keys = keys
	}
	if !p.cur().isPunct(")") {
		return p.errorf("expected ')' to close node pattern")
	}
	p.i++
	p.st.Nodes = append(p.st.Nodes, n)
	p.bind(n.Var, n.Labels)
	return nil
}

func (p *parser) rel() error {
	r := RelPattern{Pos: p.cur().Pos}
	p.i++
	if p.cur().Kind == Ident {
		r.Var = p.cur().Text
		p.i++
	}
	if p.cur().isPunct(":") {
		p.i++
		for {
			if p.cur().Kind != Ident {
				return p.errorf("expected relationship type")
			}
			r.Types = append(r.Types, p.cur().Text)
			p.i++
			if !p.cur().isPunct("|") {
				break
			}
			p.i++
			if p.cur().isPunct(":") {
				p.i++
			}
		}
	}
	if p.cur().isPunct("*") {
		p.i++
		for p.cur().Kind == Number || p.cur().isPunct("..") {
			p.i++
		}
	}
	if p.cur().isPunct("{") {
		keys, err := p.patternMap()
		if err != nil {
			return err
		}
		r.Keys = keys
	}
	if !p.cur().isPunct("]") {
		return p.errorf("expected ']' to close relationship pattern")
	}
	p.i++
	p.st.Rels = append(p.st.Rels, r)
	p.bind(r.Var, r.Types)
	return nil
}

// patternMap consumes "{key: value, ...}" and returns its keys.
func (p *parser) patternMap() ([]string, error) {
	p.i++
	p.braces++
	defer func() { p.braces-- }()
	var keys []string
	depth := 0
	for {
		t := p.cur()
		switch {
		case t.Kind == EOF:
			return nil, p.errorf("unterminated property map")
		case t.isPunct("}") && depth == 0:
			p.i++
			return keys, nil
		case depth == 0 && t.Kind == Ident && p.at(p.i+1).isPunct(":") && p.at(p.i-1).isPunct("{", ","):
			keys = append(keys, t.Text)
			p.i += 2
			continue
		case t.isPunct("{"):
			depth++
		case t.isPunct("}"):
			depth--
		}
		if t.isPunct("{", "}") {
			p.i++
			continue
		}
		if err := p.step(true); err != nil {
			return nil, err
		}
	}
}

func (p *parser) param(name string) {
	if p.seen[name] {
		return
	}
	p.seen[name] = true
	p.st.Params = append(p.st.Params, name)
}

func (p *parser) literal(k int, inMap bool) {
	lit := Literal{Token: p.toks[k], InPatternMap: inMap}
	prev := p.at(k - 1)
	if prev.isPunct("-", "+") && (p.at(k-2).Kind == Punct && p.at(k-2).isPunct(comparisonOps...)) {
		prev = p.at(k - 2)
	}
	if prev.isPunct(comparisonOps...) || p.at(k+1).isPunct(comparisonOps...) {
		lit.NearComparison = true
	}
	if prev.IsWord("LIMIT") || prev.IsWord("SKIP") {
		lit.RowCount = true
	}
	p.st.Literals = append(p.st.Literals, lit)
}

func (p *parser) bind(v string, types []string) {
	if v == "" || len(types) == 0 {
		return
	}
	have := p.st.Bindings[v]
	for _, t := range types {
		dup := false
		for _, h := range have {
			if h == t {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, t)
		}
	}
	p.st.Bindings[v] = have
}
