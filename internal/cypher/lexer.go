// Package cypher tokenizes and structurally parses the read-only subset of
// Cypher that generated queries use. It does not evaluate anything; it
// extracts the labels, relationship types, property references, parameters
// and literals that a validator needs to check a query against a schema.
package cypher

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	Ident
	Param
	String
	Number
	Punct
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "EOF"
	case Ident:
		return "identifier"
	case Param:
		return "parameter"
	case String:
		return "string"
	case Number:
		return "number"
	case Punct:
		return "punctuation"
	}
	return "unknown"
}

// Token is one lexical element. For identifiers Text is the unquoted name,
// for parameters the name without '$', for strings the decoded contents.
type Token struct {
	Kind   Kind
	Text   string
	Quoted bool
	Pos    int
}

func (t Token) isPunct(options ...string) bool {
	if t.Kind != Punct {
		return false
	}
	for _, o := range options {
		if t.Text == o {
			return true
		}
	}
	return false
}

// IsWord reports whether t is the bare (unquoted) keyword w, ignoring case.
func (t Token) IsWord(w string) bool {
	return t.Kind == Ident && !t.Quoted && strings.EqualFold(t.Text, w)
}

var multiCharPunct = []string{"<=", ">=", "<>", "!=", "->", "<-", "..", "=~"}

// Lex splits src into tokens. Comments are dropped.
func Lex(src string) ([]Token, error) {
	var toks []Token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case strings.HasPrefix(src[i:], "//"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				i = len(src)
			} else {
				i += end + 1
			}

		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment at %d", i)
			}
			i += end + 4

		case r == '_' || unicode.IsLetter(r):
			start := i
			i = scanIdent(src, i)
			toks = append(toks, Token{Kind: Ident, Text: src[start:i], Pos: start})

		case r == '`':
			name, next, err := scanQuoted(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: Ident, Text: name, Quoted: true, Pos: i})
			i = next

		case r == '$':
			start := i
			i++
			var name string
			if i < len(src) && src[i] == '`' {
				n, next, err := scanQuoted(src, i)
				if err != nil {
					return nil, err
				}
				name, i = n, next
			} else {
				end := scanIdent(src, i)
				name, i = src[i:end], end
			}
			if name == "" {
				return nil, fmt.Errorf("empty parameter name at %d", start)
			}
			toks = append(toks, Token{Kind: Param, Text: name, Pos: start})

		case r == '\'' || r == '"':
			text, next, err := scanString(src, i, byte(r))
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: String, Text: text, Pos: i})
			i = next

		case r >= '0' && r <= '9':
			start := i
			i = scanNumber(src, i)
			toks = append(toks, Token{Kind: Number, Text: src[start:i], Pos: start})

		default:
			p := string(r)
			for _, m := range multiCharPunct {
				if strings.HasPrefix(src[i:], m) {
					p = m
					break
				}
			}
			toks = append(toks, Token{Kind: Punct, Text: p, Pos: i})
			i += len(p)
		}
	}
	return toks, nil
}

func scanIdent(src string, i int) int {
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		i += size
	}
	return i
}

func scanQuoted(src string, i int) (string, int, error) {
	var b strings.Builder
	j := i + 1
	for j < len(src) {
		if src[j] == '`' {
			if j+1 < len(src) && src[j+1] == '`' {
				b.WriteByte('`')
				j += 2
				continue
			}
			return b.String(), j + 1, nil
		}
		b.WriteByte(src[j])
		j++
	}
	return "", 0, fmt.Errorf("unterminated quoted identifier at %d", i)
}

func scanString(src string, i int, quote byte) (string, int, error) {
	var b strings.Builder
	j := i + 1
	for j < len(src) {
		c := src[j]
		switch {
		case c == '\\' && j+1 < len(src):
			b.WriteByte(src[j+1])
			j += 2
		case c == quote:
			return b.String(), j + 1, nil
		default:
			b.WriteByte(c)
			j++
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal at %d", i)
}

func scanNumber(src string, i int) int {
	digits := func() {
		for i < len(src) && src[i] >= '0' && src[i] <= '9' {
			i++
		}
	}
	digits()
	// "1..3" is a range, not a decimal.
	if i+1 < len(src) && src[i] == '.' && src[i+1] >= '0' && src[i+1] <= '9' {
		i++
		digits()
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && src[j] >= '0' && src[j] <= '9' {
			i = j
			digits()
		}
	}
	return i
}
