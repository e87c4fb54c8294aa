package filter

import (
	"strings"

	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

// Build parses a filter specification in the predicate grammar of
// spec.md §4.3 into a Filter tree. spec is a []any where each element
// is itself a []any predicate entry: a junction ([":and"|":or"|...,
// []any of sub-entries]) or a value/collection predicate
// (["<expr>[ => <op>]", args...]).
func Build(s *schema.Schema, ctx *valueexpr.Context, spec []any) (Filter, error) {
	if len(spec) == 0 {
		return &Junction{Kind: And}, nil
	}
	elems := make([]Filter, len(spec))
	for i, e := range spec {
		entry, ok := e.([]any)
		if !ok {
			return nil, errs.SpecSyntax.New("filter entry must be a list")
		}
		f, err := buildEntry(s, ctx, entry)
		if err != nil {
			return nil, err
		}
		elems[i] = f
	}
	if len(elems) == 1 {
		return elems[0], nil
	}
	return &Junction{Kind: And, Elements: elems}, nil
}

func buildEntry(s *schema.Schema, ctx *valueexpr.Context, entry []any) (Filter, error) {
	if len(entry) == 0 {
		return nil, errs.SpecSyntax.New("empty filter entry")
	}
	head, ok := entry[0].(string)
	if !ok {
		return nil, errs.SpecSyntax.New("filter entry head must be a string")
	}

	invert := false
	marker := head
	if strings.HasPrefix(marker, "!") {
		invert = true
		marker = marker[1:]
	}

	switch marker {
	case ":and", ":all":
		return buildJunction(s, ctx, And, invert, entry)
	case ":or", ":any":
		return buildJunction(s, ctx, Or, invert, entry)
	case ":none":
		return buildJunction(s, ctx, Or, !invert, entry)
	}

	return buildPredicate(s, ctx, head, entry[1:])
}

func buildJunction(s *schema.Schema, ctx *valueexpr.Context, kind JunctionKind, invert bool, entry []any) (Filter, error) {
	if len(entry) != 2 {
		return nil, errs.SpecSyntax.New("junction entry must be [marker, [subentries...]]")
	}
	sub, ok := entry[1].([]any)
	if !ok {
		return nil, errs.SpecSyntax.New("junction entry's second element must be a list of sub-entries")
	}
	elems := make([]Filter, len(sub))
	for i, se := range sub {
		subEntry, ok := se.([]any)
		if !ok {
			return nil, errs.SpecSyntax.New("junction sub-entry must be a list")
		}
		f, err := buildEntry(s, ctx, subEntry)
		if err != nil {
			return nil, err
		}
		elems[i] = f
	}
	return &Junction{Kind: kind, Invert: invert, Elements: elems}, nil
}

func buildPredicate(s *schema.Schema, ctx *valueexpr.Context, head string, args []any) (Filter, error) {
	invert := false
	h := head
	if strings.HasPrefix(h, "!") {
		invert = true
		h = h[1:]
	}

	exprRaw, opToken, hasOp := splitArrow(h)
	op, opInvert, err := resolveOp(opToken, hasOp, len(args))
	if err != nil {
		return nil, errs.ErrInvalidPredicate.New(head, err.Error())
	}
	invert = invert != opInvert // xor

	expr, err := valueexpr.Compile(ctx, exprRaw)
	if err != nil {
		return nil, err
	}

	if op == Empty && isBareRef(exprRaw, expr) {
		if p, _, err := schema.ResolvePath(s, ctx.RecordType(), expr.UsedPaths()[0]); err == nil && p.IsCollection() {
			return &CollectionTest{CollectionBasePath: expr.UsedPaths()[0], Invert: invert}, nil
		}
	}

	return buildValueTest(ctx, expr, op, invert, args)
}

func isBareRef(raw string, e *valueexpr.Expr) bool {
	return !strings.Contains(raw, "(") && len(e.UsedPaths()) == 1
}

func buildValueTest(ctx *valueexpr.Context, expr *valueexpr.Expr, op Op, invert bool, args []any) (Filter, error) {
	vt := &ValueTest{Expr: expr, Op: op, Invert: invert}

	switch op {
	case Contains, ContainsI, Starts, StartsI:
		if len(args) != 1 {
			return nil, errs.ErrInvalidPredicate.New("", "pattern operators take exactly one argument")
		}
		if lit, ok := args[0].(string); ok {
			vt.PatternLiteral = &lit
		} else {
			pe, err := valueexpr.Param(ctx, args[0])
			if err != nil {
				return nil, err
			}
			vt.PatternExpr = pe
		}
		return vt, nil
	case In:
		ok := len(args) == 1
		var list []any
		if ok {
			list, ok = args[0].([]any)
		}
		if !ok {
			return nil, errs.ErrInvalidPredicate.New("", "in/oneof takes exactly one list argument")
		}
		for _, a := range list {
			pe, err := valueexpr.Param(ctx, a)
			if err != nil {
				return nil, err
			}
			vt.Params = append(vt.Params, pe)
		}
		return vt, nil
	case Between:
		if len(args) != 1 {
			return nil, errs.ErrInvalidPredicate.New("", "between takes exactly one 2-tuple argument")
		}
		tuple, ok := args[0].([]any)
		if !ok || len(tuple) != 2 {
			return nil, errs.ErrInvalidPredicate.New("", "between's argument must be a 2-tuple")
		}
		for _, a := range tuple {
			pe, err := valueexpr.Param(ctx, a)
			if err != nil {
				return nil, err
			}
			vt.Params = append(vt.Params, pe)
		}
		return vt, nil
	case Empty:
		if len(args) != 0 {
			return nil, errs.ErrInvalidPredicate.New("", "empty/present takes no arguments")
		}
		return vt, nil
	default: // eq/ne/lt/le/gt/ge/matches/matchesi
		if len(args) != 1 {
			return nil, errs.ErrInvalidPredicate.New("", "operator takes exactly one argument")
		}
		pe, err := valueexpr.Param(ctx, args[0])
		if err != nil {
			return nil, err
		}
		vt.Params = append(vt.Params, pe)
		return vt, nil
	}
}

func splitArrow(s string) (expr, op string, hasOp bool) {
	idx := strings.Index(s, "=>")
	if idx < 0 {
		return strings.TrimSpace(s), "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+2:]), true
}

// resolveOp maps an operator token (and its aliases) to an Op, per
// the alias table in spec.md §4.3. When hasOp is false the default is
// "is" (nArgs==1) or "present" (nArgs==0).
func resolveOp(token string, hasOp bool, nArgs int) (Op, bool, error) {
	if !hasOp {
		if nArgs == 0 {
			return Empty, true, nil // present
		}
		return Eq, false, nil // is
	}

	invert := false
	t := token
	if strings.HasPrefix(t, "!") {
		invert = true
		t = t[1:]
	}

	switch t {
	case "eq", "is":
		return Eq, invert, nil
	case "ne":
		return Ne, invert, nil
	case "lt":
		return Lt, invert, nil
	case "le", "max":
		return Le, invert, nil
	case "gt":
		return Gt, invert, nil
	case "ge", "min":
		return Ge, invert, nil
	case "in", "oneof":
		return In, invert, nil
	case "between":
		return Between, invert, nil
	case "contains":
		return Contains, invert, nil
	case "containsi", "substring":
		return ContainsI, invert, nil
	case "starts":
		return Starts, invert, nil
	case "startsi":
		return StartsI, invert, nil
	case "matches":
		return Matches, invert, nil
	case "matchesi", "re":
		return MatchesI, invert, nil
	case "empty":
		return Empty, invert, nil
	case "present":
		return Empty, !invert, nil
	default:
		return 0, false, errs.SpecSyntax.New("unknown filter operator " + t)
	}
}
