package querytree

import (
	"strings"

	"github.com/brightloop/recfetch/filter"
	"github.com/brightloop/recfetch/order"
)

// Statement is one SQL statement plus the metadata its result-set
// parser needs (spec.md §4.9, §6): the markup labels in select order,
// keyed by record type or super-type name.
type Statement struct {
	SQL            string
	RecordTypeName string
	Labels         []string
}

// AssembleDirect renders qt as a single SELECT over the record type's
// own table, with f/o/rng applied at the top level (spec.md §4.6
// forDirectQuery, §4.8 "single branch, no expanding child" case).
func (qt *QueryTree) AssembleDirect(f filter.Filter, o *order.Order, rng *order.Range) (*Statement, error) {
	selectSQL, err := qt.renderSelect(f, o)
	if err != nil {
		return nil, err
	}
	if rng != nil && rng.HasLimit() {
		selectSQL = qt.dialect.MakeRangedSelect(selectSQL, rng.Offset, rng.Limit)
	}
	resolved, err := qt.paramsH.Resolve(selectSQL)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: resolved, RecordTypeName: qt.recordType, Labels: qt.labelsInOrder()}, nil
}

// AssembleIdsOnly renders a SELECT restricted to the id column,
// dropping every other select item, for the anchor-table pre-statement
// (spec.md §4.6 forIdsOnlyQuery).
func (qt *QueryTree) AssembleIdsOnly(f filter.Filter, o *order.Order, rng *order.Range) (*Statement, error) {
	idItem := qt.Root.SelectItems[0]

	whereSQL, err := translateFilter(qt, f)
	if err != nil {
		return nil, err
	}
	orderSQL, err := translateOrder(qt, o)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(idItem.SQL)
	b.WriteString(" AS \"")
	b.WriteString(idItem.Label)
	b.WriteString("\" FROM ")
	b.WriteString(qt.renderFrom())
	if whereSQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereSQL)
	}
	if orderSQL != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderSQL)
	}
	sql := b.String()
	if rng != nil && rng.HasLimit() {
		sql = qt.dialect.MakeRangedSelect(sql, rng.Offset, rng.Limit)
	}
	resolved, err := qt.paramsH.Resolve(sql)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: resolved, RecordTypeName: qt.recordType, Labels: []string{idItem.Label}}, nil
}

// AssembleAnchored renders a SELECT joining the record type's table
// against a pre-populated anchor table (alias "q", columns id/ord),
// ordered by the anchor's own ordinal column (spec.md §4.6
// forAnchoredQuery, §4.8 multi-branch / single-branch-with-range path).
func (qt *QueryTree) AssembleAnchored(anchorTable string) (*Statement, error) {
	idItem := qt.Root.SelectItems[0]
	anchorJoin := "INNER JOIN " + anchorTable + " AS q ON q.id = " + idItem.SQL

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(qt.renderSelectList())
	b.WriteString(" FROM ")
	b.WriteString(qt.renderFrom())
	b.WriteString(" ")
	b.WriteString(anchorJoin)
	b.WriteString(" ORDER BY q.ord")

	resolved, err := qt.paramsH.Resolve(b.String())
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: resolved, RecordTypeName: qt.recordType, Labels: qt.labelsInOrder()}, nil
}

func (qt *QueryTree) renderSelect(f filter.Filter, o *order.Order) (string, error) {
	whereSQL, err := translateFilter(qt, f)
	if err != nil {
		return "", err
	}
	orderSQL, err := translateOrder(qt, o)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(qt.renderSelectList())
	b.WriteString(" FROM ")
	b.WriteString(qt.renderFrom())
	if whereSQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereSQL)
	}
	groupBy := qt.collectGroupBy()
	if len(groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupBy, ", "))
	}
	if orderSQL != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderSQL)
	}
	return b.String(), nil
}

func translateFilter(qt *QueryTree, f filter.Filter) (string, error) {
	if f == nil {
		return "", nil
	}
	return f.Translate(qt, -1)
}

// translateOrder strips any order entry that reads a path from inside
// an aggregated collection before rendering (spec.md §4.6
// "Aggregation": "Ordering under aggregation strips order elements
// that depend on rows inside the aggregated collection; the key
// column ordering is retained"). A raw per-row path under the
// aggregated axis varies across the rows a GROUP BY just collapsed, so
// ordering by it is meaningless post-aggregation; the aggregate's own
// computed value (its path lies outside the axis it summarizes) is
// unaffected and always retained.
func translateOrder(qt *QueryTree, o *order.Order) (string, error) {
	if o == nil || len(o.Entries) == 0 {
		return "", nil
	}
	filtered := qt.stripAggregatedOrderEntries(o)
	if len(filtered.Entries) == 0 {
		return "", nil
	}
	return filtered.Translate(qt)
}

// aggregatedAxes returns the absolute property path of every
// collection currently rolled up by an aggregate in qt.
func (qt *QueryTree) aggregatedAxes() []string {
	var axes []string
	var walk func(*QueryNode)
	walk = func(qn *QueryNode) {
		if qn.AggregatedBelow && qn.Src != nil && qn.Src.Prop != nil {
			if agg := qn.Src.Prop.Aggregate(); agg != nil {
				axes = append(axes, axisPath(qn.Src.Path, agg.CollectionPath))
			}
		}
		for _, c := range qn.Children {
			walk(c)
		}
	}
	walk(qt.Root)
	return axes
}

// axisPath joins an aggregate node's own absolute path's container
// with its AggregateSpec.CollectionPath (itself relative to that
// container) into the absolute path of the collection being rolled up.
func axisPath(aggNodePath, collectionPath string) string {
	container := aggNodePath
	if i := strings.LastIndex(aggNodePath, "."); i >= 0 {
		container = aggNodePath[:i]
	} else {
		container = ""
	}
	if container == "" {
		return collectionPath
	}
	return container + "." + collectionPath
}

// stripAggregatedOrderEntries drops every entry whose expression reads
// a path inside one of qt's aggregated axes.
func (qt *QueryTree) stripAggregatedOrderEntries(o *order.Order) *order.Order {
	axes := qt.aggregatedAxes()
	if len(axes) == 0 {
		return o
	}
	var kept []order.Entry
	for _, e := range o.Entries {
		if entryInsideAxis(e, axes) {
			continue
		}
		kept = append(kept, e)
	}
	return &order.Order{Entries: kept}
}

func entryInsideAxis(e order.Entry, axes []string) bool {
	for _, p := range e.Expr.UsedPaths() {
		for _, axis := range axes {
			if p == axis || strings.HasPrefix(p, axis+".") {
				return true
			}
		}
	}
	return false
}

func (qt *QueryTree) renderFrom() string {
	return qt.Root.Table + " AS " + qt.Root.Alias + qt.renderJoins(qt.Root)
}

func (qt *QueryTree) renderJoins(qn *QueryNode) string {
	var b strings.Builder
	for _, c := range qn.Children {
		kind := "INNER JOIN "
		if c.Outer {
			kind = "LEFT OUTER JOIN "
		}
		b.WriteString(" ")
		b.WriteString(kind)
		b.WriteString(c.Table)
		b.WriteString(" AS ")
		b.WriteString(c.Alias)
		b.WriteString(" ON ")
		b.WriteString(c.JoinOn)
		b.WriteString(qt.renderJoins(c))
	}
	return b.String()
}

func (qt *QueryTree) renderSelectList() string {
	var parts []string
	var walk func(*QueryNode)
	walk = func(qn *QueryNode) {
		for _, item := range qn.SelectItems {
			parts = append(parts, item.SQL+" AS \""+item.Label+"\"")
		}
		for _, c := range qn.Children {
			walk(c)
		}
	}
	walk(qt.Root)
	return strings.Join(parts, ", ")
}

func (qt *QueryTree) labelsInOrder() []string {
	var labels []string
	var walk func(*QueryNode)
	walk = func(qn *QueryNode) {
		for _, item := range qn.SelectItems {
			labels = append(labels, item.Label)
		}
		for _, c := range qn.Children {
			walk(c)
		}
	}
	walk(qt.Root)
	return labels
}

func (qt *QueryTree) collectGroupBy() []string {
	var cols []string
	var walk func(*QueryNode)
	walk = func(qn *QueryNode) {
		if qn.AggregatedBelow {
			cols = append(cols, qn.GroupByExprs...)
		}
		for _, c := range qn.Children {
			walk(c)
		}
	}
	walk(qt.Root)
	return cols
}
