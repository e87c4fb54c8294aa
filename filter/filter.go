// Package filter implements the Filter component (C3, spec.md §4.3):
// a tree of logical junctions and typed predicates built from the
// declarative predicate grammar, reporting the property paths it
// reads and rendering itself to SQL against a translation context.
package filter

import (
	"sort"
	"strings"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/valueexpr"
)

// JunctionKind is AND or OR (spec.md §4.3).
type JunctionKind int

const (
	And JunctionKind = iota
	Or
)

// Op is a ValueTest operator (spec.md §4.3).
type Op int

const (
	Eq Op = iota
	Ne
	Lt
	Le
	Gt
	Ge
	In
	Between
	Contains
	ContainsI
	Starts
	StartsI
	Matches
	MatchesI
	Empty
)

// Filter is the common interface of Junction, ValueTest, and
// CollectionTest.
type Filter interface {
	// UsedPaths returns every absolute property path the filter reads.
	UsedPaths() []string
	// Translate renders the filter to a SQL boolean expression. parentKind
	// is the junction kind of the enclosing context (or -1 at the root),
	// used to decide whether the rendered fragment needs parentheses.
	Translate(tc valueexpr.TranslationContext, parentKind int) (string, error)
	// Rebase prefixes every path the filter uses with basePath.
	Rebase(basePath string) Filter
}

const noParent = -1

// Junction is a tree of logical AND/OR (spec.md §4.3). An empty
// Junction is a no-op: it renders as the kind's identity (TRUE for
// AND, FALSE for OR, inverted accordingly).
type Junction struct {
	Kind     JunctionKind
	Invert   bool
	Elements []Filter
}

func (j *Junction) UsedPaths() []string {
	set := map[string]struct{}{}
	for _, e := range j.Elements {
		for _, p := range e.UsedPaths() {
			set[p] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func (j *Junction) Rebase(basePath string) Filter {
	elems := make([]Filter, len(j.Elements))
	for i, e := range j.Elements {
		elems[i] = e.Rebase(basePath)
	}
	return &Junction{Kind: j.Kind, Invert: j.Invert, Elements: elems}
}

func (j *Junction) Translate(tc valueexpr.TranslationContext, parentKind int) (string, error) {
	if len(j.Elements) == 0 {
		lit := j.Kind == And
		if j.Invert {
			lit = !lit
		}
		return tc.DBDriver().BooleanLiteral(lit), nil
	}

	parts := make([]string, len(j.Elements))
	for i, e := range j.Elements {
		s, err := e.Translate(tc, int(j.Kind))
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	joiner := " AND "
	if j.Kind == Or {
		joiner = " OR "
	}
	body := strings.Join(parts, joiner)
	if j.Invert {
		body = "NOT (" + body + ")"
	}
	if needsParenJunction(j, parentKind) {
		return "(" + body + ")", nil
	}
	return body, nil
}

// needsParenJunction implements spec.md §4.3's "a child needs parens
// iff it is a non-inverted junction of a different type" rule (an
// inverted junction is already self-delimiting via "NOT (...)").
func needsParenJunction(j *Junction, parentKind int) bool {
	if parentKind == noParent {
		return false
	}
	if j.Invert {
		return false
	}
	return int(j.Kind) != parentKind
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
