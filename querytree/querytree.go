// Package querytree implements the Query Tree Builder (C6, spec.md
// §4.6) together with the Translation Context glue (C7, spec.md §4.7):
// since C7's entire job is mediating Filter/Order/ValueExpression
// translation against the query tree C6 just built, both live here as
// one cohesive type rather than split across two packages that would
// otherwise just pass the same tree back and forth.
package querytree

import (
	"sort"
	"strconv"
	"strings"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/filter"
	"github.com/brightloop/recfetch/proptree"
	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

// SelectItem is one column of an assembled SELECT list.
type SelectItem struct {
	SQL   string
	Label string
}

// QueryNode is one joined table of a query tree. The root node (Parent
// == nil) is the record type's own table, aliased "z" (spec.md §4.6
// markup convention).
type QueryNode struct {
	Alias    string
	Table    string
	Parent   *QueryNode
	Children []*QueryNode
	JoinOn   string
	Outer    bool

	SelectItems     []SelectItem
	AggregatedBelow bool
	GroupByExprs    []string

	// FanOutKey is "{alias}.{key-column}" when this node's join can
	// multiply the root's rows (the root itself, or a collection/
	// reference join reached by fanning out one row into many) -
	// empty for a same-row join (addOwnTableChild's 1:1 own-table
	// object, or addObjectChild's presence-anchor pass-through) that
	// never multiplies anything. ancestorFanOutChain walks these to
	// build a GROUP BY key that functionally determines every
	// ancestor row, however many fan-out joins separate an aggregate
	// from the root (spec.md §4.6 "Aggregation").
	FanOutKey string

	// RecordType is the record type whose table this node represents:
	// the root's own record type for every node reached without
	// crossing a reference, or the reference's target record type for a
	// node built by addReferenceChild. buildChildren and idColOf resolve
	// the id property against this field rather than the tree's overall
	// recordType, so a nested node under a reference to a different
	// record type resolves its own id column, not the outer one's.
	RecordType string

	// Src is the property-tree node this query node was built from (nil
	// for the root).
	Src *proptree.Node
}

// QueryTree is an assembled query ready for translation: the join
// tree plus the path→SQL map every TranslatePropPath lookup resolves
// against (spec.md §4.7 point 1).
type QueryTree struct {
	Root       *QueryNode
	PathSQL    map[string]string
	dialect    dbdriver.Dialect
	paramsH    *dbdriver.ParamsHandler
	s          *schema.Schema
	recordType string
	nextAlias  int
}

var _ valueexpr.TranslationContext = (*QueryTree)(nil)
var _ filter.ExistsBuilder = (*QueryTree)(nil)

// Assemble builds a query tree from a (already single-axis, spec.md
// §4.5-debranched) property tree rooted at recordType's table (spec.md
// §4.6 forDirectQuery / the shared shape every other query shape
// specializes).
func Assemble(s *schema.Schema, recordType string, tree *proptree.Node, dialect dbdriver.Dialect) (*QueryTree, error) {
	rt, err := s.GetRecordTypeDesc(recordType)
	if err != nil {
		return nil, err
	}
	idProp, ok := rt.TopContainer().Property(rt.IDProperty())
	if !ok {
		return nil, errs.Internal.New("record type " + recordType + " has no id property")
	}

	qt := &QueryTree{
		PathSQL:    map[string]string{},
		dialect:    dialect,
		paramsH:    dbdriver.NewParamsHandler(dialect),
		s:          s,
		recordType: recordType,
	}

	root := &QueryNode{Alias: "z", Table: rt.TopContainer().Table(), Src: tree, RecordType: recordType}
	root.FanOutKey = root.Alias + "." + idProp.SameTableColumn()
	qt.Root = root

	if err := qt.buildChildren(root, tree, idProp, ""); err != nil {
		return nil, err
	}
	return qt, nil
}

func (qt *QueryTree) allocAlias() string {
	letters := "abcdefghijklmnopqrstuvwxyz"
	n := qt.nextAlias
	qt.nextAlias++
	if n < len(letters) {
		return string(letters[n])
	}
	return "t" + strconv.Itoa(n)
}

// buildChildren walks the property tree's children, emitting a select
// item (same-table column) or a joined child QueryNode per spec.md
// §4.6's cardinality×kind×poly table, populating PathSQL as it goes.
func (qt *QueryTree) buildChildren(qn *QueryNode, src *proptree.Node, idProp *schema.PropertyDesc, labelPrefix string) error {
	idCol := idProp.SameTableColumn()
	qt.PathSQL[joinAbs(src.Path, idProp.Name())] = qn.Alias + "." + idCol
	if src.Path == "" {
		qn.SelectItems = append(qn.SelectItems, SelectItem{SQL: qn.Alias + "." + idCol, Label: "id"})
	}

	letterIdx := 0
	for _, child := range src.Children {
		if child.Name == idProp.Name() && src.Path == "" {
			continue // already emitted above, bare "id" label.
		}
		p := child.Prop
		label := labelPrefix + string(rune('a'+letterIdx)) + "$"
		letterIdx++

		// A node folded into the tree only to resolve a filter/order
		// reference (proptree.MergeUsedPaths) still needs its join and
		// PathSQL mapping below, but must not appear in the select list -
		// selectOnly gates every select-item append in this subtree's
		// single-column cases; the multi-step add*Child helpers check it
		// directly where they each append their own item.
		selectOnly := isSelected(child)

		switch {
		case p.Cardinality() == schema.Scalar && !p.IsObject() && !p.IsReference():
			// scalar simple.
			if p.SameTableColumn() != "" {
				sql := qn.Alias + "." + p.SameTableColumn()
				qt.PathSQL[child.Path] = sql
				if selectOnly {
					qn.SelectItems = append(qn.SelectItems, SelectItem{SQL: sql, Label: label + p.Name()})
				}
				continue
			}
			if err := qt.addOwnTableChild(qn, child, label); err != nil {
				return err
			}

		case p.Cardinality() != schema.Scalar && !p.IsReference():
			// array/map simple.
			if err := qt.addCollectionChild(qn, child, label); err != nil {
				return err
			}

		case p.IsReference():
			if err := qt.addReferenceChild(qn, child, label); err != nil {
				return err
			}

		case p.IsObject():
			if err := qt.addObjectChild(qn, child, label); err != nil {
				return err
			}
		}
	}
	return nil
}

// isSelected reports whether n was reached by the caller's own select
// patterns rather than folded in purely to resolve a filter/order
// reference. A node with no Clauses at all (an intermediate container
// proptree.MergeUsedPaths created on the way to a deeper merged leaf)
// is treated the same as a Where/OrderBy-only node: its own column
// never belongs in the result, only its descendants' do.
func isSelected(n *proptree.Node) bool {
	return n.Clauses&proptree.Select != 0
}

func (qt *QueryTree) addOwnTableChild(qn *QueryNode, child *proptree.Node, label string) error {
	p := child.Prop
	t := p.Table()
	alias := qt.allocAlias()
	cqn := &QueryNode{Alias: alias, Table: t.Table, Parent: qn, Src: child, Outer: p.Optional(), RecordType: qn.RecordType}
	cqn.JoinOn = qn.Alias + "." + idColOf(qt.s, qn.RecordType, qn) + " = " + alias + "." + t.ParentIDColumn
	qn.Children = append(qn.Children, cqn)
	qt.PathSQL[child.Path] = alias + "." + t.ValueColumn
	if isSelected(child) {
		cqn.SelectItems = append(cqn.SelectItems, SelectItem{SQL: alias + "." + t.ValueColumn, Label: label})
	}
	return qt.descendInto(cqn, child, label)
}

func (qt *QueryTree) addCollectionChild(qn *QueryNode, child *proptree.Node, label string) error {
	p := child.Prop
	t := p.Table()
	if t == nil {
		return errs.ErrNonScalarNeedsTable.New(p.Name(), qt.recordType)
	}
	alias := qt.allocAlias()
	cqn := &QueryNode{Alias: alias, Table: t.Table, Parent: qn, Src: child, Outer: true, RecordType: qn.RecordType}
	cqn.JoinOn = qn.Alias + "." + idColOf(qt.s, qn.RecordType, qn) + " = " + alias + "." + t.ParentIDColumn
	qn.Children = append(qn.Children, cqn)

	keyCol := t.KeyColumn
	if keyCol == "" {
		keyCol = t.IndexColumn
	}
	if keyCol != "" {
		cqn.SelectItems = append(cqn.SelectItems, SelectItem{SQL: alias + "." + keyCol, Label: label + "k"})
		cqn.FanOutKey = alias + "." + keyCol
	}
	qt.PathSQL[child.Path] = alias + "." + t.ValueColumn
	if isSelected(child) {
		cqn.SelectItems = append(cqn.SelectItems, SelectItem{SQL: alias + "." + t.ValueColumn, Label: label})
	}

	if agg := p.Aggregate(); agg != nil && isSelected(child) {
		cqn.AggregatedBelow = true
		fn := aggregateSQL(qt.dialect, agg.Function, alias+"."+t.ValueColumn)
		cqn.SelectItems[len(cqn.SelectItems)-1] = SelectItem{SQL: fn, Label: label}
		// The full ancestor fan-out chain, not just the immediate
		// parent, must be in GROUP BY: an aggregate nested behind
		// intermediate own-table/presence-anchor joins still leaves
		// every ancestor above those joins selected in the same
		// statement, and ONLY_FULL_GROUP_BY requires each of them be
		// functionally determined by GROUP BY (spec.md §4.6
		// "Aggregation").
		cqn.GroupByExprs = append(cqn.GroupByExprs, qt.ancestorFanOutChain(qn)...)
		if t.KeyColumn != "" {
			// A map-keyed aggregate also selects its own key column
			// un-aggregated (the "k" item above), so standard SQL
			// requires it in GROUP BY alongside the parent chain
			// (spec.md §8 property 6).
			cqn.GroupByExprs = append(cqn.GroupByExprs, alias+"."+t.KeyColumn)
		}
	}
	return qt.descendInto(cqn, child, label)
}

func (qt *QueryTree) addReferenceChild(qn *QueryNode, child *proptree.Node, label string) error {
	p := child.Prop
	targetRT, err := qt.s.GetRecordTypeDesc(p.TargetRecordType())
	if err != nil {
		return err
	}
	targetIDProp, _ := targetRT.TopContainer().Property(targetRT.IDProperty())

	switch p.RefStorage() {
	case schema.RefColumn:
		fkCol := p.SameTableColumn()
		fkSQL := qn.Alias + "." + fkCol
		qt.PathSQL[child.Path] = fkSQL
		if isSelected(child) {
			qn.SelectItems = append(qn.SelectItems, SelectItem{SQL: fkSQL, Label: labelOnly(label) + p.Name()})
		}
		if len(child.Children) == 0 {
			return nil
		}
		alias := qt.allocAlias()
		cqn := &QueryNode{Alias: alias, Table: targetRT.TopContainer().Table(), Parent: qn, Src: child, Outer: p.Optional(), RecordType: targetRT.Name()}
		cqn.JoinOn = fkSQL + " = " + alias + "." + targetIDProp.SameTableColumn()
		if p.Cardinality() != schema.Scalar {
			// An array-cardinality reference still needs a "k" column
			// (resultset.parseLabel's sole signal for "this path is a
			// repeated collection, not a singular nested object") the same
			// way addCollectionChild's plain arrays/maps get one.
			cqn.SelectItems = append(cqn.SelectItems, SelectItem{SQL: alias + "." + targetIDProp.SameTableColumn(), Label: label + "k"})
			cqn.FanOutKey = alias + "." + targetIDProp.SameTableColumn()
		}
		qn.Children = append(qn.Children, cqn)
		return qt.descendInto(cqn, child, label)

	case schema.RefReverse:
		alias := qt.allocAlias()
		cqn := &QueryNode{Alias: alias, Table: targetRT.TopContainer().Table(), Parent: qn, Src: child, Outer: true, RecordType: targetRT.Name()}
		revCol, _ := targetRT.TopContainer().Property(p.ReverseRefProperty())
		cqn.JoinOn = alias + "." + revCol.SameTableColumn() + " = " + qn.Alias + "." + idColOf(qt.s, qn.RecordType, qn)
		if p.Cardinality() != schema.Scalar {
			cqn.SelectItems = append(cqn.SelectItems, SelectItem{SQL: alias + "." + targetIDProp.SameTableColumn(), Label: label + "k"})
			cqn.FanOutKey = alias + "." + targetIDProp.SameTableColumn()
		}
		qn.Children = append(qn.Children, cqn)
		return qt.descendInto(cqn, child, label)

	default:
		return errs.ErrNotImplemented.New("reference storage kind " + refStorageName(p.RefStorage()))
	}
}

func (qt *QueryTree) addObjectChild(qn *QueryNode, child *proptree.Node, label string) error {
	p := child.Prop
	if p.Table() == nil {
		// Present-if object stored in the parent's own table: select its
		// presence predicate (or TRUE) as a synthetic anchor.
		if isSelected(child) {
			anchorSQL := qt.dialect.BooleanLiteral(true)
			qn.SelectItems = append(qn.SelectItems, SelectItem{SQL: anchorSQL, Label: labelOnly(label) + p.Name()})
		}
		return qt.descendInto(qn, child, label)
	}
	return qt.addOwnTableChild(qn, child, label)
}

// descendInto recurses buildChildren into qn using qn's OWN record
// type's id property - not the overall tree's qt.recordType - so a
// node reached by crossing a reference to a different record type (a
// node addReferenceChild stamped with that target's RecordType)
// resolves its own id column rather than the root record type's.
func (qt *QueryTree) descendInto(qn *QueryNode, child *proptree.Node, label string) error {
	idProp, err := qt.idPropFor(qn.RecordType)
	if err != nil {
		return err
	}
	return qt.buildChildren(qn, child, idProp, label)
}

func (qt *QueryTree) idPropFor(recordType string) (*schema.PropertyDesc, error) {
	rt, err := qt.s.GetRecordTypeDesc(recordType)
	if err != nil {
		return nil, err
	}
	p, ok := rt.TopContainer().Property(rt.IDProperty())
	if !ok {
		return nil, errs.Internal.New("record type " + recordType + " has no id property")
	}
	return p, nil
}

// topIDProp returns the id property of the query tree's own root
// record type (qt.recordType), as opposed to idPropFor, which resolves
// a specific node's record type - used where the whole tree's root
// identity is what's wanted (e.g. a fresh EXISTS subquery correlated
// back to this tree's own root row).
func (qt *QueryTree) topIDProp() (*schema.PropertyDesc, error) {
	return qt.idPropFor(qt.recordType)
}

// ancestorFanOutChain walks from qn up to the root, collecting every
// FanOutKey in root-to-qn order (including qn's own, if any). This is
// the GROUP BY key set that functionally determines every row an
// aggregate nested under qn rolls up.
func (qt *QueryTree) ancestorFanOutChain(qn *QueryNode) []string {
	var reversed []string
	for n := qn; n != nil; n = n.Parent {
		if n.FanOutKey != "" {
			reversed = append(reversed, n.FanOutKey)
		}
	}
	chain := make([]string, len(reversed))
	for i, k := range reversed {
		chain[len(reversed)-1-i] = k
	}
	return chain
}

func idColOf(s *schema.Schema, recordType string, qn *QueryNode) string {
	rt, err := s.GetRecordTypeDesc(recordType)
	if err != nil {
		return "id"
	}
	p, ok := rt.TopContainer().Property(rt.IDProperty())
	if !ok {
		return "id"
	}
	return p.SameTableColumn()
}

func labelOnly(label string) string { return strings.TrimSuffix(label, "$") }

func joinAbs(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func refStorageName(r schema.RefStorage) string {
	switch r {
	case schema.RefColumn:
		return "column"
	case schema.RefLinkTable:
		return "linkTable"
	case schema.RefReverse:
		return "reverse"
	case schema.RefAllRecords:
		return "allRecords"
	default:
		return "none"
	}
}

func aggregateSQL(d dbdriver.Dialect, fn schema.AggFunc, exprSQL string) string {
	switch fn {
	case schema.Count:
		return "COUNT(" + exprSQL + ")"
	case schema.Sum:
		return "SUM(" + exprSQL + ")"
	case schema.Min:
		return "MIN(" + exprSQL + ")"
	case schema.Max:
		return "MAX(" + exprSQL + ")"
	case schema.Avg:
		return "AVG(" + exprSQL + ")"
	default:
		return "COUNT(" + exprSQL + ")"
	}
}

// --- valueexpr.TranslationContext / filter.ExistsBuilder ---

func (qt *QueryTree) TranslatePropPath(absPath string) (string, error) {
	sql, ok := qt.PathSQL[absPath]
	if !ok {
		return "", errs.Internal.New("no SQL mapping for path " + absPath)
	}
	return sql, nil
}

func (qt *QueryTree) DBDriver() dbdriver.Dialect             { return qt.dialect }
func (qt *QueryTree) ParamsHandler() *dbdriver.ParamsHandler { return qt.paramsH }

// SupplyParams feeds the fetch call's params map (spec.md §6 "Query
// Specification" params argument) into this tree's ParamsHandler
// before any statement is assembled, so every `param("name")`
// placeholder a filter/order/value-expression bound during translation
// resolves instead of failing with errs.ErrMissingParam.
func (qt *QueryTree) SupplyParams(params map[string]any) {
	for name, value := range params {
		qt.paramsH.SupplyNamed(name, value)
	}
}

// Rebase returns a sibling translation context with paths resolved
// relative to basePath (spec.md §4.7 point 2), used when translating
// a collection-scoped filter's EXISTS subquery.
func (qt *QueryTree) Rebase(basePath string) *QueryTree {
	rebased := map[string]string{}
	prefix := basePath + "."
	for p, sql := range qt.PathSQL {
		if strings.HasPrefix(p, prefix) {
			rebased[strings.TrimPrefix(p, prefix)] = sql
		}
		rebased[p] = sql
	}
	clone := *qt
	clone.PathSQL = rebased
	return &clone
}

// BuildExistsSubquery implements filter.ExistsBuilder (spec.md
// §4.6 buildExistsSubquery): it locates the collection's own query
// node (already joined in this tree because the property tree
// included it on this axis) and re-emits it as a standalone correlated
// EXISTS clause instead of a join.
func (qt *QueryTree) BuildExistsSubquery(basePath string, nested filter.Filter) (string, error) {
	cqn := qt.findByPath(qt.Root, basePath)
	if cqn == nil || cqn.Parent == nil {
		return qt.buildFreshExistsSubquery(basePath, nested)
	}
	where := "TRUE"
	if nested != nil {
		sql, err := nested.Translate(qt, -1)
		if err != nil {
			return "", err
		}
		where = sql
	}
	return "EXISTS (SELECT TRUE FROM " + cqn.Table + " AS " + cqn.Alias + "_a WHERE " +
		strings.Replace(cqn.JoinOn, cqn.Alias+".", cqn.Alias+"_a.", 1) + " AND " + where + ")", nil
}

// buildFreshExistsSubquery handles a collection-existence test whose
// collection was never otherwise selected, so it has no query node
// already joined into this tree (spec.md §4.7 point 3: a scope the
// main branch doesn't already cover gets its own query tree re-built
// constrained to that single axis). It assembles a standalone join
// chain for basePath, correlated directly to this tree's own root row
// rather than re-selecting the record type's table a second time, so
// the EXISTS clause never changes the outer query's row count.
func (qt *QueryTree) buildFreshExistsSubquery(basePath string, nested filter.Filter) (string, error) {
	patterns := []string{basePath}
	if nested != nil {
		patterns = append(patterns, nested.UsedPaths()...)
	}
	simple, err := proptree.BuildSimple(qt.s, qt.recordType, patterns)
	if err != nil {
		return "", err
	}

	idProp, err := qt.topIDProp()
	if err != nil {
		return "", err
	}

	sub := &QueryTree{
		PathSQL:    map[string]string{},
		dialect:    qt.dialect,
		paramsH:    qt.paramsH,
		s:          qt.s,
		recordType: qt.recordType,
		nextAlias:  qt.nextAlias + 1000, // keep sub's allocated aliases disjoint from qt's
	}
	root := &QueryNode{Alias: qt.Root.Alias, Table: qt.Root.Table, RecordType: qt.recordType}
	sub.Root = root
	if err := sub.buildChildren(root, simple, idProp, ""); err != nil {
		return "", err
	}
	qt.nextAlias = sub.nextAlias

	cqn := sub.findByPath(root, basePath)
	if cqn == nil || cqn.Parent == nil {
		return "", errs.Internal.New("no query node for collection path " + basePath)
	}

	where := "TRUE"
	if nested != nil {
		sql, err := nested.Translate(sub, -1)
		if err != nil {
			return "", err
		}
		where = sql
	}

	from, correlation := renderExistsChain(cqn)
	return "EXISTS (SELECT TRUE FROM " + from + " WHERE " + correlation + " AND " + where + ")", nil
}

// renderExistsChain walks from cqn up to (but excluding) the tree's
// root, returning the FROM-clause text for every hop along the way
// (root-adjacent hop first) and the join condition that correlates the
// first hop back to the outer query's own root row.
func renderExistsChain(cqn *QueryNode) (from, correlation string) {
	var chain []*QueryNode
	for n := cqn; n.Parent != nil; n = n.Parent {
		chain = append([]*QueryNode{n}, chain...)
	}
	var b strings.Builder
	b.WriteString(chain[0].Table + " AS " + chain[0].Alias)
	for _, n := range chain[1:] {
		b.WriteString(" JOIN " + n.Table + " AS " + n.Alias + " ON " + n.JoinOn)
	}
	return b.String(), chain[0].JoinOn
}

func (qt *QueryTree) findByPath(qn *QueryNode, path string) *QueryNode {
	if qn.Src != nil && qn.Src.Path == path {
		return qn
	}
	for _, c := range qn.Children {
		if found := qt.findByPath(c, path); found != nil {
			return found
		}
	}
	return nil
}

// SortedSelectLabels returns every select label in the tree, sorted
// lexicographically, for tests asserting markup stability (spec.md §8
// property 3).
func (qt *QueryTree) SortedSelectLabels() []string {
	var out []string
	var walk func(*QueryNode)
	walk = func(qn *QueryNode) {
		for _, item := range qn.SelectItems {
			out = append(out, item.Label)
		}
		for _, c := range qn.Children {
			walk(c)
		}
	}
	walk(qt.Root)
	sort.Strings(out) // stable sort is irrelevant here; callers compare sets
	return out
}

// Assemble helpers for C8 (statement assembly) live in statement.go.
