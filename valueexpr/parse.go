package valueexpr

import (
	"strconv"
	"strings"

	"github.com/brightloop/recfetch/errs"
)

// Compile parses raw (a property reference, a literal, or a function
// call over either) against ctx and validates every reference it
// contains resolves against ctx (spec.md §4.2).
func Compile(ctx *Context, raw string) (*Expr, error) {
	p := &parser{src: raw, ctx: ctx}
	p.skipSpace()
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, errs.SpecSyntax.New("trailing input in value expression " + strconv.Quote(raw))
	}
	return &Expr{root: n}, nil
}

// Param parses a `param("name")` or `expr("...")` placeholder as it
// appears inside a filter spec's predicate argument list (spec.md §6).
// Any other value, a string included, becomes a literal; it is never
// resolved as a property reference.
func Param(ctx *Context, v any) (*Expr, error) {
	switch t := v.(type) {
	case paramPlaceholder:
		return &Expr{root: &paramRefNode{name: t.name}}, nil
	case exprPlaceholder:
		return Compile(ctx, t.raw)
	case string:
		return &Expr{root: &literalNode{value: t}}, nil
	default:
		return &Expr{root: &literalNode{value: t}}, nil
	}
}

// ParamRef builds the `param("name")` placeholder value recognized by
// Param and by the filter package's predicate argument handling.
func ParamRef(name string) any { return paramPlaceholder{name: name} }

// ExprRef builds the `expr("...")` placeholder value recognized by
// Param.
func ExprRef(raw string) any { return exprPlaceholder{raw: raw} }

type paramPlaceholder struct{ name string }
type exprPlaceholder struct{ raw string }

type parser struct {
	src string
	pos int
	ctx *Context
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) parseExpr() (node, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, errs.SpecSyntax.New("empty value expression")
	}
	c := p.src[p.pos]
	switch {
	case c == '\'' || c == '"':
		s, err := p.parseQuoted(c)
		if err != nil {
			return nil, err
		}
		return &literalNode{value: s}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return p.parseIdentOrCallOrRef()
	}
}

func (p *parser) parseQuoted(q byte) (string, error) {
	p.pos++ // opening quote
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != q {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return "", errs.SpecSyntax.New("unterminated string literal in " + strconv.Quote(p.src))
	}
	s := p.src[start:p.pos]
	p.pos++ // closing quote
	return s, nil
}

func (p *parser) parseNumber() (node, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	text := p.src[start:p.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, errs.SpecSyntax.New("invalid number " + strconv.Quote(text))
	}
	return &literalNode{value: f}, nil
}

func (p *parser) parseIdentOrCallOrRef() (node, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return nil, errs.SpecSyntax.New("expected identifier at position " + strconv.Itoa(p.pos) + " in " + strconv.Quote(p.src))
	}
	ident := p.src[start:p.pos]

	switch ident {
	case "true":
		return &literalNode{value: true}, nil
	case "false":
		return &literalNode{value: false}, nil
	case "null":
		return &literalNode{value: nil}, nil
	}

	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '(' {
		return p.parseCallArgs(strings.ToUpper(ident))
	}

	// A bare reference: may continue with "." segments and leading
	// "^." pops already consumed as part of ident since '^' and '.'
	// are identByte-legal below.
	abs, err := p.ctx.Normalize(ident)
	if err != nil {
		return nil, err
	}
	return &propRefNode{path: abs}, nil
}

func (p *parser) parseCallArgs(fn string) (node, error) {
	p.pos++ // '('
	var args []node
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ')' {
		p.pos++
		return &callNode{fn: fn, args: args}, nil
	}
	for {
		p.skipSpace()
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, errs.SpecSyntax.New("unterminated call " + fn + "(...) in " + strconv.Quote(p.src))
		}
		if p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.src[p.pos] == ')' {
			p.pos++
			break
		}
		return nil, errs.SpecSyntax.New("expected ',' or ')' in " + strconv.Quote(p.src))
	}
	return &callNode{fn: fn, args: args}, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentByte(b byte) bool {
	return b == '^' || b == '.' || b == '_' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
