// Package fetchcompiler implements the Fetch Compiler (C8, spec.md
// §4.8): it turns a query specification into the ordered list of SQL
// statements the Fetch Executor (C9, in package fetchexec) will run.
package fetchcompiler

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/hashstructure"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/filter"
	"github.com/brightloop/recfetch/order"
	"github.com/brightloop/recfetch/proptree"
	"github.com/brightloop/recfetch/querytree"
	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

// Spec is the query specification the engine's outward API accepts
// (spec.md §6 "Query Specification"). Props entries starting with "."
// select super-properties; everything else selects ordinary
// properties. Filter/Order/Range are nil when omitted.
type Spec struct {
	Props  []string
	Filter []any
	Order  []string
	Range  *RangeSpec
	// Params supplies the runtime values for every `param("name")`
	// placeholder referenced by Filter (spec.md §6 "Query Specification"
	// params argument). Anonymous literals embedded directly in Filter
	// need no entry here.
	Params map[string]any
}

// RangeSpec is the raw (offset, limit) pair before validation.
type RangeSpec struct {
	Offset int
	Limit  int
}

// Statement is one SQL statement to run, in the order the plan
// requires (spec.md §4.9 "super queries → pre-statements → main
// queries → post-statements").
type Statement struct {
	SQL            string
	RecordTypeName string
	Labels         []string
	Phase          Phase
}

// Phase names the four statement groups spec.md §4.8-§4.9 run in
// strict order.
type Phase int

const (
	PhaseSuper Phase = iota
	PhasePre
	PhaseMain
	PhasePost
)

// Plan is the compiled statement sequence for one fetch call.
type Plan struct {
	Statements []Statement
}

// Compile runs the top-level algorithm of spec.md §4.8: build
// filter/order/range, debranch the requested property tree, and
// decide between a direct select, an id-only-select-then-anchor
// multi-statement plan, or (if every requested prop is a
// super-property) no record query at all.
func Compile(s *schema.Schema, recordType string, spec Spec, dialect dbdriver.Dialect) (*Plan, error) {
	props := spec.Props
	if len(props) == 0 {
		props = []string{"*"}
	}

	var superProps, mainProps []string
	for _, p := range props {
		if strings.HasPrefix(p, ".") {
			superProps = append(superProps, p[1:])
		} else {
			mainProps = append(mainProps, p)
		}
	}

	plan := &Plan{}

	rootCtx, err := valueexpr.NewRootContext(s, recordType)
	if err != nil {
		return nil, err
	}

	var f filter.Filter
	if spec.Filter != nil {
		f, err = filter.Build(s, rootCtx, spec.Filter)
		if err != nil {
			return nil, err
		}
	}
	var o *order.Order
	if spec.Order != nil {
		orderSpec := make([]any, len(spec.Order))
		for i, e := range spec.Order {
			orderSpec[i] = e
		}
		o, err = order.Build(rootCtx, orderSpec)
		if err != nil {
			return nil, err
		}
	}
	var rng *order.Range
	if spec.Range != nil {
		r, err := order.BuildRange(spec.Range.Offset, spec.Range.Limit)
		if err != nil {
			return nil, err
		}
		rng = &r
	}

	if len(superProps) > 0 {
		stmt, err := compileSuperQuery(s, recordType, superProps, f, dialect, spec.Params)
		if err != nil {
			return nil, err
		}
		plan.Statements = append(plan.Statements, *stmt)
	}

	if len(mainProps) == 0 {
		return plan, nil
	}

	tree, err := proptree.Build(s, recordType, rootCtx, proptree.Select, mainProps, proptree.Options{})
	if err != nil {
		return nil, err
	}
	if err := mergeClauseUsedPaths(s, recordType, tree, f, o); err != nil {
		return nil, err
	}
	branches, err := proptree.Debranch(tree)
	if err != nil {
		return nil, err
	}

	if len(branches) > 1 {
		return compileMultiBranch(s, recordType, branches, f, o, rng, dialect, plan, spec.Params)
	}
	return compileSingleBranch(s, recordType, branches[0], f, o, rng, dialect, plan, spec.Params)
}

func compileSingleBranch(s *schema.Schema, recordType string, tree *proptree.Node, f filter.Filter, o *order.Order, rng *order.Range, dialect dbdriver.Dialect, plan *Plan, params map[string]any) (*Plan, error) {
	qt, err := querytree.Assemble(s, recordType, tree, dialect)
	if err != nil {
		return nil, err
	}
	qt.SupplyParams(params)

	if rng != nil && rng.HasLimit() && hasExpandingChild(tree) {
		return compileAnchoredSingle(s, recordType, tree, qt, f, o, rng, dialect, plan, params)
	}

	stmt, err := qt.AssembleDirect(f, o, rng)
	if err != nil {
		return nil, err
	}
	plan.Statements = append(plan.Statements, Statement{SQL: stmt.SQL, RecordTypeName: stmt.RecordTypeName, Labels: stmt.Labels, Phase: PhaseMain})
	return plan, nil
}

func compileMultiBranch(s *schema.Schema, recordType string, branches []*proptree.Node, f filter.Filter, o *order.Order, rng *order.Range, dialect dbdriver.Dialect, plan *Plan, params map[string]any) (*Plan, error) {
	idQT, err := querytree.Assemble(s, recordType, branches[0], dialect)
	if err != nil {
		return nil, err
	}
	idQT.SupplyParams(params)
	idStmt, err := idQT.AssembleIdsOnly(f, o, rng)
	if err != nil {
		return nil, err
	}

	anchorTable := anchorTableName(recordType, branches)
	createSQL, dropSQL := dialect.MakeSelectIntoTempTable(idStmt.SQL, anchorTable)

	plan.Statements = append(plan.Statements, Statement{SQL: createSQL, Phase: PhasePre})
	for _, branch := range branches {
		bqt, err := querytree.Assemble(s, recordType, branch, dialect)
		if err != nil {
			return nil, err
		}
		bqt.SupplyParams(params)
		stmt, err := bqt.AssembleAnchored(anchorTable)
		if err != nil {
			return nil, err
		}
		plan.Statements = append(plan.Statements, Statement{SQL: stmt.SQL, RecordTypeName: stmt.RecordTypeName, Labels: stmt.Labels, Phase: PhaseMain})
	}
	plan.Statements = append(plan.Statements, Statement{SQL: dropSQL, Phase: PhasePost})
	return plan, nil
}

func compileAnchoredSingle(s *schema.Schema, recordType string, tree *proptree.Node, qt *querytree.QueryTree, f filter.Filter, o *order.Order, rng *order.Range, dialect dbdriver.Dialect, plan *Plan, params map[string]any) (*Plan, error) {
	idStmt, err := qt.AssembleIdsOnly(f, o, rng)
	if err != nil {
		return nil, err
	}
	anchorTable := anchorTableName(recordType, []*proptree.Node{tree})
	createSQL, dropSQL := dialect.MakeSelectIntoTempTable(idStmt.SQL, anchorTable)

	plan.Statements = append(plan.Statements, Statement{SQL: createSQL, Phase: PhasePre})
	stmt, err := qt.AssembleAnchored(anchorTable)
	if err != nil {
		return nil, err
	}
	plan.Statements = append(plan.Statements, Statement{SQL: stmt.SQL, RecordTypeName: stmt.RecordTypeName, Labels: stmt.Labels, Phase: PhaseMain})
	plan.Statements = append(plan.Statements, Statement{SQL: dropSQL, Phase: PhasePost})
	return plan, nil
}

func compileSuperQuery(s *schema.Schema, recordType string, superProps []string, f filter.Filter, dialect dbdriver.Dialect, params map[string]any) (*Statement, error) {
	tree, err := proptree.BuildSuper(s, recordType, superProps)
	if err != nil {
		return nil, err
	}
	if f != nil {
		if vp := valueUsedPaths(f); len(vp) > 0 {
			rt, err := s.GetRecordTypeDesc(recordType)
			if err != nil {
				return nil, err
			}
			recordsNode, err := proptree.EnsureChild(s, rt.SuperType(), tree, "records")
			if err != nil {
				return nil, err
			}
			if err := proptree.MergeUsedPaths(s, nil, recordsNode, proptree.Where, vp); err != nil {
				return nil, err
			}
		}
	}
	qt, err := querytree.AssembleSuper(s, recordType, tree, dialect)
	if err != nil {
		return nil, err
	}
	qt.SupplyParams(params)
	var rebasedFilter filter.Filter
	if f != nil {
		rebasedFilter = f.Rebase("records")
	}
	stmt, err := qt.AssembleSuperSelect(rebasedFilter)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: stmt.SQL, RecordTypeName: recordType, Labels: stmt.Labels, Phase: PhaseSuper}, nil
}

// mergeClauseUsedPaths folds every property path f and o read, but
// that mainProps didn't already select, into tree (tagged Where/
// OrderBy respectively) before debranching - otherwise translating the
// filter or order against the assembled query tree would fail with "no
// SQL mapping for path ..." the moment either refers to a property the
// caller didn't also ask to fetch (spec.md §4.7's translation context
// needs a mapping for every path either clause reads).
func mergeClauseUsedPaths(s *schema.Schema, recordType string, tree *proptree.Node, f filter.Filter, o *order.Order) error {
	rt, err := s.GetRecordTypeDesc(recordType)
	if err != nil {
		return err
	}
	top := rt.TopContainer()
	if f != nil {
		if err := proptree.MergeUsedPaths(s, top, tree, proptree.Where, valueUsedPaths(f)); err != nil {
			return err
		}
	}
	if o != nil {
		if err := proptree.MergeUsedPaths(s, top, tree, proptree.OrderBy, o.UsedPaths()); err != nil {
			return err
		}
	}
	return nil
}

// valueUsedPaths collects the paths a filter reads as real SQL values
// (ValueTest operands), excluding a CollectionTest's own collection
// base path: that one resolves through a correlated EXISTS subquery
// (querytree.BuildExistsSubquery), which builds its own join chain on
// demand, rather than through a join folded into the main tree.
func valueUsedPaths(f filter.Filter) []string {
	switch t := f.(type) {
	case nil:
		return nil
	case *filter.Junction:
		var out []string
		for _, e := range t.Elements {
			out = append(out, valueUsedPaths(e)...)
		}
		return out
	case *filter.CollectionTest:
		if t.Nested != nil {
			return valueUsedPaths(t.Nested)
		}
		return nil
	default:
		return f.UsedPaths()
	}
}

func hasExpandingChild(n *proptree.Node) bool {
	for _, c := range n.Children {
		if c.IsExpanding() {
			return true
		}
	}
	return false
}

// anchorTableName derives a stable, collision-resistant temp table
// name from the record type and the branch shape, rather than a
// random value (spec.md §5 "named... so two anchored fetches in one
// transaction do not collide; names are derived structurally").
func anchorTableName(recordType string, branches []*proptree.Node) string {
	h, err := hashstructureBranchShape(branches)
	if err != nil {
		return "q_" + recordType
	}
	return "q_" + recordType + "_" + strconv.FormatUint(h, 16)
}

// hashstructureBranchShape computes a structural hash of the sorted set
// of property paths every branch touches, so that two fetch calls
// requesting the same shape against the same record type derive the
// same anchor table name (spec.md §5: "names are derived structurally"),
// while two differently-shaped fetches inside one transaction don't
// collide.
func hashstructureBranchShape(branches []*proptree.Node) (uint64, error) {
	var paths []string
	for _, b := range branches {
		collectPaths(b, &paths)
	}
	sort.Strings(paths)
	return hashstructure.Hash(paths, nil)
}

func collectPaths(n *proptree.Node, into *[]string) {
	if n.Path != "" {
		*into = append(*into, n.Path)
	}
	for _, c := range n.Children {
		collectPaths(c, into)
	}
}
