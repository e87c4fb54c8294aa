// Package order implements the Order/Range component (C4, spec.md
// §4.4): an ordered list of (value-expression, direction) elements and
// the offset/limit range that bounds a fetch.
package order

import (
	"strconv"
	"strings"

	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/valueexpr"
)

// Direction is ascending or descending.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Entry is one element of an Order: an expression plus its direction.
type Entry struct {
	Expr *valueexpr.Expr
	Dir  Direction
}

// Order is the ordered list of sort keys from spec.md §4.4.
type Order struct {
	Entries []Entry
}

// UsedPaths returns every absolute property path the order reads from.
func (o *Order) UsedPaths() []string {
	set := map[string]struct{}{}
	for _, e := range o.Entries {
		for _, p := range e.Expr.UsedPaths() {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// Rebase returns a new Order whose used paths are all prefixed with
// basePath, mirroring filter.Filter.Rebase for the same collection-
// scoping reason (spec.md §4.4).
func (o *Order) Rebase(basePath string) *Order {
	entries := make([]Entry, len(o.Entries))
	for i, e := range o.Entries {
		entries[i] = Entry{Expr: e.Expr.Rebase(basePath), Dir: e.Dir}
	}
	return &Order{Entries: entries}
}

// Translate renders the order to a SQL "ORDER BY"-clause body (without
// the "ORDER BY" keyword itself, so callers can merge it with an
// anchor-table ordering column).
func (o *Order) Translate(tc valueexpr.TranslationContext) (string, error) {
	parts := make([]string, len(o.Entries))
	for i, e := range o.Entries {
		sql, err := e.Expr.Translate(tc)
		if err != nil {
			return "", err
		}
		if e.Dir == Desc {
			sql += " DESC"
		}
		parts[i] = sql
	}
	return strings.Join(parts, ", "), nil
}

// Build parses an order specification, a []any each of whose elements
// is a string of the form "<expr> [=> asc|desc]" (spec.md §4.4).
func Build(ctx *valueexpr.Context, spec []any) (*Order, error) {
	entries := make([]Entry, len(spec))
	for i, e := range spec {
		s, ok := e.(string)
		if !ok {
			return nil, errs.ErrInvalidOrderEntry.New("", "order entry must be a string")
		}
		entry, err := buildEntry(ctx, s)
		if err != nil {
			return nil, err
		}
		entries[i] = entry
	}
	return &Order{Entries: entries}, nil
}

func buildEntry(ctx *valueexpr.Context, s string) (Entry, error) {
	exprRaw := s
	dir := Asc
	if idx := strings.Index(s, "=>"); idx >= 0 {
		exprRaw = strings.TrimSpace(s[:idx])
		dirToken := strings.TrimSpace(s[idx+2:])
		switch dirToken {
		case "asc":
			dir = Asc
		case "desc":
			dir = Desc
		default:
			return Entry{}, errs.ErrInvalidOrderEntry.New(s, "direction must be asc or desc, got "+strconv.Quote(dirToken))
		}
	}

	expr, err := valueexpr.Compile(ctx, exprRaw)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Expr: expr, Dir: dir}, nil
}

// Range is the offset/limit pair from spec.md §4.4.
type Range struct {
	Offset int
	Limit  int
}

// HasLimit reports whether the range actually bounds the result count.
// A Limit of 0 means "unbounded" (spec.md §4.4 allows limit == 0 to
// mean no cap, distinguished from an explicit zero-row request by
// callers never constructing the latter).
func (r Range) HasLimit() bool { return r.Limit > 0 }

// BuildRange validates and constructs a Range. Both offset and limit
// must be non-negative (spec.md §4.4).
func BuildRange(offset, limit int) (Range, error) {
	if offset < 0 || limit < 0 {
		return Range{}, errs.ErrInvalidRange.New(offset, limit)
	}
	return Range{Offset: offset, Limit: limit}, nil
}
