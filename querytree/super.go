package querytree

import (
	"strings"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/filter"
	"github.com/brightloop/recfetch/proptree"
	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

// AssembleSuper builds a query tree answering a synthetic
// super-property selection (spec.md §4.6 forSuperPropsQuery). The
// super-type's "records" property (schema.RefAllRecords) is not a
// joined child table: it is recordType's own rows, unconditioned by
// any join column. So the root query node sits directly on
// recordType's table, and every requested super-property - the
// constant recordTypeName, count or a caller-declared aggregate over
// records, or a nested "records" expansion - is emitted against that
// same root instead of through a parent-id join.
func AssembleSuper(s *schema.Schema, recordType string, superTree *proptree.Node, dialect dbdriver.Dialect) (*QueryTree, error) {
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
	root := &QueryNode{Alias: "z", Table: rt.TopContainer().Table()}
	qt.Root = root
	qt.PathSQL["id"] = root.Alias + "." + idProp.SameTableColumn()

	letterIdx := 0
	for _, child := range superTree.Children {
		p := child.Prop
		label := string(rune('a'+letterIdx)) + "$"
		letterIdx++

		if constVal, isConst := p.ConstantValue(); isConst {
			sql := dialect.StringLiteral(constVal)
			qt.PathSQL[child.Path] = sql
			root.SelectItems = append(root.SelectItems, SelectItem{SQL: sql, Label: p.Name()})
			continue
		}

		if agg := p.Aggregate(); agg != nil {
			sql, err := superAggregateSQL(s, rt, root, idProp, dialect, agg)
			if err != nil {
				return nil, err
			}
			qt.PathSQL[child.Path] = sql
			root.SelectItems = append(root.SelectItems, SelectItem{SQL: sql, Label: p.Name()})
			continue
		}

		if p.RefStorage() == schema.RefAllRecords {
			if err := qt.buildChildren(root, child, idProp, label); err != nil {
				return nil, err
			}
			continue
		}

		return nil, errs.ErrNotImplemented.New("super-property " + p.Name())
	}

	// A filter declared against the record type and rebased onto
	// "records" (fetchcompiler's compileSuperQuery calls
	// filter.Rebase("records")) must resolve against this same root
	// table, since records *is* the root table: alias every path
	// already mapped under a "records." prefix too.
	for path, sql := range snapshotPathSQL(qt.PathSQL) {
		qt.PathSQL["records."+path] = sql
	}
	qt.PathSQL["records"] = root.Alias + "." + idProp.SameTableColumn()

	return qt, nil
}

func snapshotPathSQL(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// superAggregateSQL renders a super-type aggregate (the synthesized
// "count", or a caller-declared super aggregate, spec.md §3 invariant
// 6) over the whole recordType table. CollectionPath is always
// "records" for a super aggregate, so Function/Expr resolve directly
// against recordType's top container instead of through a join.
//
// A declared optional-filter (spec.md §3 AggregateSpec.Filter) is
// rendered as a CASE WHEN guard around the aggregated expression. The
// filter is translated against a disposable full-column assembly of
// recordType (every scalar same-table column, alias "z" - identical to
// this function's own root alias, since alias allocation is
// deterministic and starts fresh per Assemble call) rather than this
// half-built super tree, so it only resolves same-table scalar
// properties; a value test on any other path fails, since that path has
// no SQL mapping in the assembly.
func superAggregateSQL(s *schema.Schema, rt *schema.RecordTypeDesc, root *QueryNode, idProp *schema.PropertyDesc, dialect dbdriver.Dialect, agg *schema.AggregateSpec) (string, error) {
	exprSQL := root.Alias + "." + idProp.SameTableColumn()
	if agg.Expr != "" && agg.Expr != "*" && agg.Expr != idProp.Name() {
		ep, ok := rt.TopContainer().Property(agg.Expr)
		if !ok || ep.SameTableColumn() == "" {
			return "", errs.ErrNotImplemented.New("super aggregate expression " + agg.Expr)
		}
		exprSQL = root.Alias + "." + ep.SameTableColumn()
	}
	fn := aggregateSQL(dialect, agg.Function, exprSQL)
	if len(agg.Filter) == 0 {
		return fn, nil
	}

	var cols []string
	for _, p := range rt.TopContainer().Properties() {
		if p.SameTableColumn() != "" && !p.IsCollection() && !p.IsObject() && !p.IsReference() {
			cols = append(cols, p.Name())
		}
	}
	allTree, err := proptree.BuildSimple(s, rt.Name(), cols)
	if err != nil {
		return "", err
	}
	allQT, err := Assemble(s, rt.Name(), allTree, dialect)
	if err != nil {
		return "", err
	}
	rootCtx := valueexpr.ContextForContainer(s, rt.Name(), rt.TopContainer())
	f, err := filter.Build(s, rootCtx, agg.Filter)
	if err != nil {
		return "", err
	}
	whereSQL, err := f.Translate(allQT, -1)
	if err != nil {
		return "", err
	}
	return strings.Replace(fn, exprSQL, "CASE WHEN "+whereSQL+" THEN "+exprSQL+" ELSE NULL END", 1), nil
}

// AssembleSuperSelect renders qt (built by AssembleSuper) as a single
// SELECT with no pre/post statements (spec.md §4.8 "emit super-query =
// assembleSelect(super-tree, rebased filter, none)" - super queries
// never take an order or a range).
func (qt *QueryTree) AssembleSuperSelect(f filter.Filter) (*Statement, error) {
	whereSQL := ""
	if f != nil {
		sql, err := f.Translate(qt, -1)
		if err != nil {
			return nil, err
		}
		whereSQL = sql
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
	if groupBy := qt.collectGroupBy(); len(groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupBy, ", "))
	}

	resolved, err := qt.paramsH.Resolve(b.String())
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: resolved, RecordTypeName: qt.recordType, Labels: qt.labelsInOrder()}, nil
}
