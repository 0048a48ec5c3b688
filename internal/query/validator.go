package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ziadkadry99/fingraph/internal/cypher"
	"github.com/ziadkadry99/fingraph/internal/schema"
)

// ErrSchemaViolation is the errors.Is target for queries rejected by the
// validator.
var ErrSchemaViolation = errors.New("schema violation")

// ViolationKind names one class of validation failure.
type ViolationKind string

const (
	ViolationEmpty               ViolationKind = "empty"
	ViolationSyntax              ViolationKind = "syntax"
	ViolationUnknownLabel        ViolationKind = "unknown_label"
	ViolationUnknownRelationship ViolationKind = "unknown_relationship"
	ViolationUnknownProperty     ViolationKind = "unknown_property"
	ViolationLiteral             ViolationKind = "literal"
	ViolationWriteKeyword        ViolationKind = "write_keyword"
	ViolationMultipleStatements  ViolationKind = "multiple_statements"
	ViolationMissingReturn       ViolationKind = "missing_return"
	ViolationUnboundParameter    ViolationKind = "unbound_parameter"
	ViolationInvalidQuestion     ViolationKind = "invalid_question"
)

// Violation is one reason a query was rejected.
type Violation struct {
	Kind   ViolationKind
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
}

// ViolationError reports a query that failed validation.
type ViolationError struct {
	Query      string
	Violations []Violation
}

func (e *ViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "query rejected: " + strings.Join(parts, "; ")
}

func (e *ViolationError) Unwrap() error { return ErrSchemaViolation }

// writeKeywords may not appear anywhere in a generated query.
var writeKeywords = []string{
	"CREATE", "MERGE", "DELETE", "DETACH", "SET", "REMOVE", "DROP", "FOREACH", "LOAD", "CALL",
}

// Validator checks query text against a schema.
type Validator struct {
	schema *schema.Descriptor
}

// NewValidator returns a validator for d.
func NewValidator(d *schema.Descriptor) *Validator {
	return &Validator{schema: d}
}

// Validate returns every problem found in text. params are the bindings
// that will be sent with the query; a nil result means the query may run.
func (v *Validator) Validate(text string, params map[string]any) []Violation {
	if strings.TrimSpace(text) == "" {
		return []Violation{{Kind: ViolationEmpty, Detail: "no query text"}}
	}
	st, err := cypher.Parse(text)
	if err != nil {
		return []Violation{{Kind: ViolationSyntax, Detail: err.Error()}}
	}

	var out violations
	if st.Statements > 1 {
		out.add(ViolationMultipleStatements, "only one statement is allowed")
	}
	for _, kw := range writeKeywords {
		if st.HasWord(kw) {
			out.add(ViolationWriteKeyword, kw+" is not allowed; queries are read-only")
		}
	}
	if !st.HasWord("RETURN") {
		out.add(ViolationMissingReturn, "query has no RETURN clause")
	}

	d := v.schema
	for _, n := range st.Nodes {
		for _, l := range n.Labels {
			if !d.HasLabel(l) {
				out.add(ViolationUnknownLabel, fmt.Sprintf("node label %q is not in the schema", l))
			}
		}
		types := n.Labels
		if len(types) == 0 {
			types = st.Bindings[n.Var]
		}
		for _, k := range n.Keys {
			v.checkProperty(&out, n.Var, k, types)
		}
	}
	for _, r := range st.Rels {
		for _, t := range r.Types {
			if !d.HasRelationship(t) {
				out.add(ViolationUnknownRelationship, fmt.Sprintf("relationship type %q is not in the schema", t))
			}
		}
		for _, k := range r.Keys {
			v.checkProperty(&out, r.Var, k, r.Types)
		}
	}
	for _, c := range st.LabelChecks {
		if !d.HasLabel(c.Label) {
			out.add(ViolationUnknownLabel, fmt.Sprintf("label %q in predicate on %s is not in the schema", c.Label, c.Var))
		}
	}
	for _, ref := range st.Properties {
		v.checkProperty(&out, ref.Var, ref.Prop, st.Bindings[ref.Var])
	}

	for _, lit := range st.Literals {
		checkLiteral(&out, lit)
	}

	for _, name := range st.Params {
		if _, ok := params[name]; !ok {
			out.add(ViolationUnboundParameter, fmt.Sprintf("parameter $%s has no value", name))
		}
	}
	return out.list
}

func (v *Validator) checkProperty(out *violations, variable, prop string, types []string) {
	var known []string
	for _, t := range types {
		if v.schema.HasLabel(t) || v.schema.HasRelationship(t) {
			known = append(known, t)
		}
	}
	if len(known) == 0 {
		// Unbound or aliased variable: the property must exist somewhere.
		if !v.schema.HasPropertyAnywhere(prop) {
			out.add(ViolationUnknownProperty, fmt.Sprintf("property %q is not in the schema", prop))
		}
		return
	}
	for _, t := range known {
		if v.schema.HasProperty(t, prop) {
			return
		}
	}
	out.add(ViolationUnknownProperty, fmt.Sprintf("property %q does not exist on %s (%s)", prop, strings.Join(known, "|"), variable))
}

func checkLiteral(out *violations, lit cypher.Literal) {
	tok := lit.Token
	if tok.Kind == cypher.String {
		out.add(ViolationLiteral, fmt.Sprintf("string literal %q must be a parameter", tok.Text))
		return
	}
	if lit.RowCount {
		return
	}
	switch {
	case isYearLike(tok.Text):
		out.add(ViolationLiteral, fmt.Sprintf("year %s must be a parameter", tok.Text))
	case lit.InPatternMap:
		out.add(ViolationLiteral, fmt.Sprintf("number %s in a property map must be a parameter", tok.Text))
	case lit.NearComparison:
		out.add(ViolationLiteral, fmt.Sprintf("number %s in a comparison must be a parameter", tok.Text))
	}
}

func isYearLike(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 1900 && n <= 2099
}

type violations struct {
	list []Violation
	seen map[Violation]bool
}

func (vs *violations) add(kind ViolationKind, detail string) {
	v := Violation{Kind: kind, Detail: detail}
	if vs.seen == nil {
		vs.seen = make(map[Violation]bool)
	}
	if vs.seen[v] {
		return
	}
	vs.seen[v] = true
	vs.list = append(vs.list, v)
}
