package loader

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// maxNestingDepth limits recursion in the expression parser so inputs like
// "[[[[...]]]]" cannot exhaust the stack.
const maxNestingDepth = 16

// ParseTypeExpr parses a type expression such as
//
//	@minLength(3) @maxLength(60) string
//	'eastus' | 'westus'
//	@discriminator('kind') StorageBackend | SqlBackend
//	[string, int]
//	Subnet[]?
//
// into a type reference.
func ParseTypeExpr(src string) (*types.TypeRef, error) {
	e, err := parseExpr(src)
	if err != nil {
		return nil, err
	}
	return e.ref, nil
}

// expr is a parsed expression plus the decorators that do not map onto the
// reference itself.
type expr struct {
	ref         *types.TypeRef
	description string
}

func parseExpr(src string) (expr, error) {
	toks, err := lex(src)
	if err != nil {
		return expr{}, fmt.Errorf("type expression %q: %w", src, err)
	}
	p := &parser{toks: toks}
	e, err := p.expr(0)
	if err != nil {
		return expr{}, fmt.Errorf("type expression %q: %w", src, err)
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return expr{}, fmt.Errorf("type expression %q: unexpected %s at offset %d", src, tok, tok.pos)
	}
	return e, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokInt
	tokAt
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
	tokPipe
	tokQuestion
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return strconv.Quote(t.text)
	default:
		return "'" + t.text + "'"
	}
}

var punct = map[rune]tokenKind{
	'@': tokAt,
	'(': tokLParen,
	')': tokRParen,
	'[': tokLBrack,
	']': tokRBrack,
	',': tokComma,
	'|': tokPipe,
	'?': tokQuestion,
}

func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case punct[r] != 0:
			toks = append(toks, token{kind: punct[r], text: string(r), pos: i})
			i++
		case r == '\'' || r == '"':
			var sb strings.Builder
			start := i
			i++
			closed := false
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				i++
				if c == r {
					closed = true
					break
				}
				sb.WriteRune(c)
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at offset %d", start)
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})
		case r == '-' || unicode.IsDigit(r):
			start := i
			i++
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			text := string(runes[start:i])
			if text == "-" {
				return nil, fmt.Errorf("unexpected '-' at offset %d", start)
			}
			toks = append(toks, token{kind: tokInt, text: text, pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[start:i]), pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(runes)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, found %s at offset %d", what, t, t.pos)
	}
	return t, nil
}

// term is one union member before it is folded into a reference. Bare
// literals and null are kept apart so a run of literals becomes a single
// PrimitiveUnion.
type term struct {
	ref     *types.TypeRef
	literal any
	null    bool
	// nullable marks a literal followed by '?'.
	nullable bool
}

func (t term) asRef() *types.TypeRef {
	if t.ref != nil {
		return t.ref
	}
	ref := types.InlineRef(types.PrimitiveUnion{Members: []any{t.literal}})
	if t.nullable {
		ref = ref.OrNull()
	}
	return ref
}

func (p *parser) expr(depth int) (expr, error) {
	if depth > maxNestingDepth {
		return expr{}, fmt.Errorf("expression nested too deep (max %d)", maxNestingDepth)
	}

	var (
		out           expr
		constraints   []types.Constraint
		discriminator string
		hasDisc       bool
	)
	for p.peek().kind == tokAt {
		p.next()
		name, err := p.expect(tokIdent, "decorator name")
		if err != nil {
			return expr{}, err
		}
		if _, err := p.expect(tokLParen, "'('"); err != nil {
			return expr{}, err
		}
		arg := p.next()
		switch name.text {
		case "discriminator", "description":
			if arg.kind != tokString {
				return expr{}, fmt.Errorf("@%s takes a string, found %s", name.text, arg)
			}
			if name.text == "discriminator" {
				discriminator, hasDisc = arg.text, true
			} else {
				out.description = arg.text
			}
		default:
			kind, err := types.ParseConstraintKind(name.text)
			if err != nil {
				return expr{}, fmt.Errorf("unknown decorator @%s", name.text)
			}
			if arg.kind != tokInt {
				return expr{}, fmt.Errorf("@%s takes an integer, found %s", name.text, arg)
			}
			limit, err := strconv.ParseInt(arg.text, 10, 64)
			if err != nil {
				return expr{}, fmt.Errorf("@%s: %w", name.text, err)
			}
			constraints = append(constraints, types.Constraint{Kind: kind, Limit: limit})
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return expr{}, err
		}
	}

	terms := make([]term, 0, 1)
	for {
		t, err := p.postfix(depth)
		if err != nil {
			return expr{}, err
		}
		terms = append(terms, t)
		if p.peek().kind != tokPipe {
			break
		}
		p.next()
	}

	ref, err := fold(terms, discriminator, hasDisc)
	if err != nil {
		return expr{}, err
	}
	if len(constraints) > 0 {
		ref = ref.With(constraints...)
	}
	out.ref = ref
	return out, nil
}

// fold turns the members of a '|' chain into one reference.
func fold(terms []term, discriminator string, hasDisc bool) (*types.TypeRef, error) {
	var nullable bool
	var members []term
	for _, t := range terms {
		if t.null {
			nullable = true
			continue
		}
		if t.nullable {
			nullable = true
		}
		members = append(members, t)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("null is only valid as a union member")
	}

	var ref *types.TypeRef
	switch {
	case hasDisc:
		variants := make([]*types.TypeRef, len(members))
		for i, m := range members {
			if m.ref == nil {
				return nil, fmt.Errorf("discriminated union variant %s must be a type", types.FormatLiteral(m.literal))
			}
			variants[i] = m.ref
		}
		ref = types.InlineRef(types.DiscriminatedUnion{Discriminator: discriminator, Variants: variants})
	case len(members) == 1:
		ref = members[0].asRef()
	default:
		lits := make([]any, len(members))
		for i, m := range members {
			if m.ref != nil {
				return nil, fmt.Errorf("union of %s requires @discriminator or literal members", m.ref)
			}
			lits[i] = m.literal
		}
		ref = types.InlineRef(types.PrimitiveUnion{Members: lits})
	}
	if nullable {
		ref = ref.OrNull()
	}
	return ref, nil
}

// postfix parses a primary followed by any number of "[]" and "?" suffixes.
func (p *parser) postfix(depth int) (term, error) {
	t, err := p.primary(depth)
	if err != nil {
		return term{}, err
	}
	for {
		switch p.peek().kind {
		case tokLBrack:
			if t.null {
				return term{}, fmt.Errorf("null cannot be an array element")
			}
			p.next()
			if _, err := p.expect(tokRBrack, "']'"); err != nil {
				return term{}, err
			}
			t = term{ref: types.InlineRef(types.Array{Elem: t.asRef()})}
		case tokQuestion:
			if t.null {
				return term{}, fmt.Errorf("null cannot be nullable")
			}
			p.next()
			if t.ref == nil {
				t.nullable = true
				continue
			}
			t = term{ref: t.ref.OrNull()}
		default:
			return t, nil
		}
	}
}

func (p *parser) primary(depth int) (term, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return term{literal: tok.text}, nil
	case tokInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return term{}, fmt.Errorf("integer literal %s: %w", tok.text, err)
		}
		return term{literal: n}, nil
	case tokIdent:
		return identTerm(tok)
	case tokLParen:
		e, err := p.expr(depth + 1)
		if err != nil {
			return term{}, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return term{}, err
		}
		return term{ref: e.ref}, nil
	case tokLBrack:
		var elems []*types.TypeRef
		if p.peek().kind == tokRBrack {
			return term{}, fmt.Errorf("tuple at offset %d has no elements", tok.pos)
		}
		for {
			e, err := p.expr(depth + 1)
			if err != nil {
				return term{}, err
			}
			elems = append(elems, e.ref)
			sep := p.next()
			if sep.kind == tokRBrack {
				break
			}
			if sep.kind != tokComma {
				return term{}, fmt.Errorf("expected ',' or ']', found %s at offset %d", sep, sep.pos)
			}
		}
		return term{ref: types.InlineRef(types.Tuple{Elems: elems})}, nil
	default:
		return term{}, fmt.Errorf("expected a type, found %s at offset %d", tok, tok.pos)
	}
}

func identTerm(tok token) (term, error) {
	name := tok.text
	if name == "null" {
		return term{null: true}, nil
	}
	if types.IsScalarKind(name) {
		return term{ref: types.InlineRef(types.NewScalar(types.ScalarKind(name)))}, nil
	}
	if ns, typ, ok := strings.Cut(name, "."); ok {
		if ns == "" || typ == "" || strings.Contains(typ, ".") {
			return term{}, fmt.Errorf("malformed qualified name %q at offset %d", name, tok.pos)
		}
		return term{ref: types.ImportRef(ns, typ, "")}, nil
	}
	return term{ref: types.Ref(name)}, nil
}
