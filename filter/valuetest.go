package filter

import (
	"strings"

	"github.com/brightloop/recfetch/valueexpr"
)

// ValueTest is a typed predicate over a value expression (spec.md
// §4.3). Exactly one of the pattern fields is populated, and only for
// the contains/containsi/starts/startsi operators.
type ValueTest struct {
	Expr   *valueexpr.Expr
	Op     Op
	Invert bool

	// Params holds the operator's operands for eq/ne/lt/le/gt/ge,
	// in/between, and matches/matchesi (where it holds exactly one
	// regex operand).
	Params []*valueexpr.Expr

	// PatternLiteral/PatternExpr hold the single operand of
	// contains/containsi/starts/startsi, split at build time into a
	// compile-time string (PatternLiteral) or a runtime expression
	// (PatternExpr) so translation can pick the right driver encoder.
	PatternLiteral *string
	PatternExpr    *valueexpr.Expr
}

func (v *ValueTest) UsedPaths() []string {
	set := map[string]struct{}{}
	for _, p := range v.Expr.UsedPaths() {
		set[p] = struct{}{}
	}
	for _, p := range v.Params {
		for _, up := range p.UsedPaths() {
			set[up] = struct{}{}
		}
	}
	if v.PatternExpr != nil {
		for _, up := range v.PatternExpr.UsedPaths() {
			set[up] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func (v *ValueTest) Rebase(basePath string) Filter {
	params := make([]*valueexpr.Expr, len(v.Params))
	for i, p := range v.Params {
		params[i] = p.Rebase(basePath)
	}
	out := &ValueTest{Expr: v.Expr.Rebase(basePath), Op: v.Op, Invert: v.Invert, Params: params, PatternLiteral: v.PatternLiteral}
	if v.PatternExpr != nil {
		out.PatternExpr = v.PatternExpr.Rebase(basePath)
	}
	return out
}

func (v *ValueTest) Translate(tc valueexpr.TranslationContext, parentKind int) (string, error) {
	exprSQL, err := v.Expr.Translate(tc)
	if err != nil {
		return "", err
	}

	var body string
	switch v.Op {
	case Eq, Ne, Lt, Le, Gt, Ge:
		rhs, err := v.Params[0].Translate(tc)
		if err != nil {
			return "", err
		}
		body = exprSQL + " " + comparisonToken(v.Op) + " " + rhs
	case In:
		parts := make([]string, len(v.Params))
		for i, p := range v.Params {
			parts[i], err = p.Translate(tc)
			if err != nil {
				return "", err
			}
		}
		body = exprSQL + " IN (" + strings.Join(parts, ", ") + ")"
	case Between:
		lo, err := v.Params[0].Translate(tc)
		if err != nil {
			return "", err
		}
		hi, err := v.Params[1].Translate(tc)
		if err != nil {
			return "", err
		}
		body = exprSQL + " BETWEEN " + lo + " AND " + hi
	case Contains, ContainsI, Starts, StartsI:
		body, err = v.translatePattern(tc, exprSQL)
		if err != nil {
			return "", err
		}
		return body, nil // driver's PatternMatch already applies invert
	case Matches, MatchesI:
		pat, err := v.Params[0].Translate(tc)
		if err != nil {
			return "", err
		}
		return tc.DBDriver().RegexpMatch(exprSQL, pat, v.Invert, v.Op == Matches), nil
	case Empty:
		body = exprSQL + " IS NULL"
	}

	if v.Invert {
		return "NOT (" + body + ")", nil
	}
	return body, nil
}

func (v *ValueTest) translatePattern(tc valueexpr.TranslationContext, exprSQL string) (string, error) {
	d := tc.DBDriver()
	caseSensitive := v.Op == Contains || v.Op == Starts
	leading := v.Op == Contains || v.Op == ContainsI
	trailing := true

	var patternSQL string
	if v.PatternLiteral != nil {
		escaped := d.SafeLikePatternFromString(*v.PatternLiteral)
		if leading {
			escaped = "%" + escaped
		}
		if trailing {
			escaped = escaped + "%"
		}
		patternSQL = tc.ParamsHandler().BindLiteral(escaped)
	} else {
		patExprSQL, err := v.PatternExpr.Translate(tc)
		if err != nil {
			return "", err
		}
		patternSQL = d.SafeLikePatternFromExpr(patExprSQL, leading, trailing)
	}
	return d.PatternMatch(exprSQL, patternSQL, v.Invert, caseSensitive), nil
}

func comparisonToken(op Op) string {
	switch op {
	case Eq:
		return "="
	case Ne:
		return "<>"
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	}
	return "="
}
