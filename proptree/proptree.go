// Package proptree implements the Property Tree Builder (C5, spec.md
// §4.5): it walks a selected-property pattern list against a schema,
// builds side value trees for calculated/aggregate/presence/filter/
// order-bearing properties, and debranches the result into single
// collection-axis trees the Query Tree Builder (C6) can turn into
// statements.
package proptree

import (
	"sort"
	"strings"

	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

// Clause is a bitmask of the clauses that caused a node to be
// included, used to gate options like noAggregates/noCalculated
// against the clause the property actually appears in.
type Clause int

const (
	Select Clause = 1 << iota
	Where
	OrderBy
)

// Options gates the wildcard/calculated/aggregate restrictions spec.md
// §4.5 lists per clause.
type Options struct {
	NoWildcards    bool
	NoCalculated   bool
	NoAggregates   bool
}

// Node is one property of a property tree. The root node has an empty
// Name and nil Prop; it stands for the top container being selected
// from (a record type or a collection scope).
type Node struct {
	Name     string
	Path     string // absolute path from the record type root
	Prop     *schema.PropertyDesc
	Children []*Node
	Clauses  Clause

	// SideTree, when non-nil, is the tree built over the record type
	// from this property's used-path set (valueExpr/aggregate/
	// presenceTest/filter/order), keyed by this node's Path (spec.md
	// §4.5 step 3).
	SideTree *Node

	childIdx map[string]int
}

func newNode(name, path string, prop *schema.PropertyDesc) *Node {
	return &Node{Name: name, Path: path, Prop: prop, childIdx: map[string]int{}}
}

// IsExpanding reports whether the node's own property is a collection
// edge (spec.md §4.5 step 5 "at most one expanding child").
func (n *Node) IsExpanding() bool {
	return n.Prop != nil && n.Prop.IsCollection()
}

func (n *Node) child(name string) (*Node, bool) {
	i, ok := n.childIdx[name]
	if !ok {
		return nil, false
	}
	return n.Children[i], true
}

func (n *Node) addChild(c *Node) {
	n.childIdx[c.Name] = len(n.Children)
	n.Children = append(n.Children, c)
}

// containerFor returns the Container this node's property enters (for
// the root node, rootContainer itself — the record type's top
// container for an ordinary tree, or its synthetic super-type
// container for a super-property tree).
func containerFor(s *schema.Schema, rootContainer *schema.Container, n *Node) (*schema.Container, error) {
	if n.Prop == nil {
		return rootContainer, nil
	}
	switch {
	case n.Prop.IsObject():
		return n.Prop.Container(), nil
	case n.Prop.IsReference():
		rt, err := s.GetRecordTypeDesc(n.Prop.TargetRecordType())
		if err != nil {
			return nil, err
		}
		return rt.TopContainer(), nil
	default:
		return nil, errs.ErrLeafObjectNotAllowed.New(n.Path)
	}
}

// Build runs the full C5 algorithm (steps 1-3) for one branch pass: it
// seeds a root node, walks every pattern (expanding wildcards and
// honoring `-path` exclusions to a fixed point), tags traversed nodes
// with clause, and attaches side value trees. Debranching (step 5) and
// scope checking (step 4) are separate passes; see Debranch and
// CheckScope.
func Build(s *schema.Schema, recordType string, baseCtx *valueexpr.Context, clause Clause, patterns []string, opts Options) (*Node, error) {
	rt, err := s.GetRecordTypeDesc(recordType)
	if err != nil {
		return nil, err
	}
	return buildFromContainer(s, recordType, rt.TopContainer(), clause, patterns, opts)
}

// BuildSimple implements spec.md §4.5 buildSimplePropsTree: a plain,
// wildcard-free selection (no scoping, no options) used by callers
// that just need a property tree over a fixed path list, such as the
// id-only query's own root-level needs or a test fixture.
func BuildSimple(s *schema.Schema, recordType string, paths []string) (*Node, error) {
	return Build(s, recordType, nil, Select, paths, Options{NoWildcards: true})
}

// BuildSuper runs the same algorithm rooted at recordType's synthetic
// super-type container instead of its ordinary top container (spec.md
// §4.5 buildSuperPropsTreeBranches), so patterns select among the
// super-properties spec.md §3 invariant 6 synthesizes (recordTypeName,
// count, and any caller-supplied super aggregates) rather than the
// record's own fields.
func BuildSuper(s *schema.Schema, recordType string, superPropNames []string) (*Node, error) {
	rt, err := s.GetRecordTypeDesc(recordType)
	if err != nil {
		return nil, err
	}
	return buildFromContainer(s, recordType, rt.SuperType(), Select, superPropNames, Options{NoWildcards: true})
}

func buildFromContainer(s *schema.Schema, recordType string, rootContainer *schema.Container, clause Clause, patterns []string, opts Options) (*Node, error) {
	root := newNode("", "", nil)

	var excludes []string
	var includes []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "-") {
			excludes = append(excludes, p[1:])
		} else {
			includes = append(includes, p)
		}
	}
	excludeSet := map[string]bool{}
	for _, e := range excludes {
		excludeSet[e] = true
	}

	queue := append([]string{}, includes...)
	seen := map[string]bool{}
	for len(queue) > 0 {
		pat := queue[0]
		queue = queue[1:]
		if seen[pat] {
			continue
		}
		seen[pat] = true
		if excludeSet[pat] {
			continue
		}

		more, err := walkPattern(s, recordType, rootContainer, root, clause, pat, opts, excludeSet)
		if err != nil {
			return nil, err
		}
		queue = append(queue, more...)
	}

	if err := attachSideTrees(s, recordType, rootContainer, root, opts); err != nil {
		return nil, err
	}
	return root, nil
}

// walkPattern walks one dotted pattern from root, creating nodes as it
// goes; a trailing "*" segment enumerates the current container's
// fetched-by-default children and returns them as further patterns to
// process (spec.md §4.5 step 2).
func walkPattern(s *schema.Schema, recordType string, rootContainer *schema.Container, root *Node, clause Clause, pattern string, opts Options, excludeSet map[string]bool) ([]string, error) {
	segs := strings.Split(pattern, ".")
	cur := root
	path := ""
	for i, name := range segs {
		if name == "*" {
			if opts.NoWildcards {
				return nil, errs.ErrWildcardNotAllowed.New()
			}
			c, err := containerFor(s, rootContainer, cur)
			if err != nil {
				return nil, err
			}
			var more []string
			for _, dn := range c.DefaultFetchedNames() {
				childPattern := dn
				if path != "" {
					childPattern = path + "." + dn
				}
				if !excludeSet[childPattern] {
					more = append(more, childPattern)
				}
			}
			return more, nil
		}

		if path == "" {
			path = name
		} else {
			path = path + "." + name
		}

		existing, ok := cur.child(name)
		if ok {
			cur = existing
			// A pattern like "address.city" necessarily traverses
			// "address" on its way to "city": tag it too, not just the
			// terminal segment, so an intermediate container's own
			// anchor/present column (addObjectChild) still counts as
			// selected rather than merely merged-for-reference.
			cur.Clauses |= clause
			continue
		}

		c, err := containerFor(s, rootContainer, cur)
		if err != nil {
			return nil, err
		}
		p, ok := c.Property(name)
		if !ok {
			return nil, errs.ErrInvalidPath.New(pattern, recordType, "")
		}
		isLast := i == len(segs)-1
		if !isLast && !p.IsObject() && !p.IsReference() {
			return nil, errs.ErrInvalidPath.New(pattern, recordType, ": "+name+" is not a container")
		}
		if p.IsCalculated() {
			if opts.NoCalculated {
				return nil, errs.ErrCalculatedNotAllowed.New(name)
			}
			if p.Aggregate() != nil && opts.NoAggregates {
				return nil, errs.ErrAggregateNotAllowed.New(name)
			}
		}

		n := newNode(name, path, p)
		n.Clauses |= clause
		cur.addChild(n)
		cur = n
	}
	return nil, nil
}

// attachSideTrees implements spec.md §4.5 step 3: every node whose
// property carries valueExpr/aggregate/presenceTest/filter/order gets
// a side tree rooted at rootContainer (the record type's top
// container for an ordinary tree, or its synthetic super-type
// container for a super-property tree - BuildSuper's "count" property,
// for instance, can only resolve its "records" collection path against
// the super-type container), covering the used-path set of that
// construct.
func attachSideTrees(s *schema.Schema, recordType string, rootContainer *schema.Container, n *Node, opts Options) error {
	if n.Prop != nil {
		paths, err := usedPathsOf(s, recordType, rootContainer, n)
		if err != nil {
			return err
		}
		if len(paths) > 0 {
			side, err := buildFromContainer(s, recordType, rootContainer, Select, paths, Options{})
			if err != nil {
				return err
			}
			n.SideTree = side
		}
	}
	for _, c := range n.Children {
		if err := attachSideTrees(s, recordType, rootContainer, c, opts); err != nil {
			return err
		}
	}
	return nil
}

func usedPathsOf(s *schema.Schema, recordType string, rootContainer *schema.Container, n *Node) ([]string, error) {
	p := n.Prop
	var paths []string

	add := func(ctx *valueexpr.Context, raw string) error {
		e, err := valueexpr.Compile(ctx, raw)
		if err != nil {
			return err
		}
		paths = append(paths, e.UsedPaths()...)
		return nil
	}

	ctx := valueexpr.ContextForContainer(s, recordType, rootContainer)
	// Value expressions and filter/order strings declared on a property
	// are relative to the property's own container, not rootContainer
	// itself; resolve a context there when present.
	relCtx := ctx
	if parentPath := parentOf(n.Path); parentPath != "" {
		if rc, err := ctx.Relative(parentPath); err == nil {
			relCtx = rc
		}
	}

	if p.ValueExpr() != "" {
		if err := add(relCtx, p.ValueExpr()); err != nil {
			return nil, err
		}
	}
	if agg := p.Aggregate(); agg != nil {
		collCtx, err := relCtx.Relative(agg.CollectionPath)
		if err == nil {
			if agg.Expr != "" && agg.Expr != "*" {
				_ = add(collCtx, agg.Expr)
			}
		}
		paths = append(paths, joinPath(parentOf(n.Path), agg.CollectionPath))
	}
	for _, fp := range p.PresenceTest() {
		if s, ok := fp.(string); ok {
			_ = add(relCtx, s)
		}
	}
	return dedupe(paths), nil
}

// MergeUsedPaths folds absolute property paths a filter or order
// clause reads into an already-built tree, creating whatever
// intermediate container nodes are missing and tagging the final node
// of each path with clause. This is how a filter/order reference to a
// property outside the originally selected patterns still gets a real
// query-tree join and a TranslatePropPath mapping, without being added
// to the tree's own select list (querytree gates SelectItem emission
// on Clause, spec.md §3's "clauses" field on a property tree node).
//
// A path that passes through a collection property before its last
// segment is left unmerged: joining it inline would change the main
// query's row cardinality for what is meant to be a pure existence or
// comparison check, not a second selected collection. Such references
// should be expressed as an explicit collection-existence test
// instead, which resolves through its own correlated subquery
// (querytree.BuildExistsSubquery) rather than a join.
func MergeUsedPaths(s *schema.Schema, rootContainer *schema.Container, tree *Node, clause Clause, paths []string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := mergeAbsPath(s, rootContainer, tree, clause, p); err != nil {
			return err
		}
	}
	return nil
}

// EnsureChild returns tree's existing child named name, or creates and
// attaches it (untagged: no Clauses bit set) if absent. Used to graft a
// synthetic attachment point - such as a super-property tree's
// "records" expansion - that a filter needs even though the caller
// never requested it as a selected property.
func EnsureChild(s *schema.Schema, rootContainer *schema.Container, tree *Node, name string) (*Node, error) {
	if c, ok := tree.child(name); ok {
		return c, nil
	}
	c, err := containerFor(s, rootContainer, tree)
	if err != nil {
		return nil, err
	}
	p, ok := c.Property(name)
	if !ok {
		return nil, errs.ErrInvalidPath.New(name, "", ": no such property")
	}
	n := newNode(name, name, p)
	tree.addChild(n)
	return n, nil
}

func mergeAbsPath(s *schema.Schema, rootContainer *schema.Container, root *Node, clause Clause, path string) error {
	segs := strings.Split(path, ".")
	cur := root
	cumPath := cur.Path
	for _, name := range segs {
		if cumPath == "" {
			cumPath = name
		} else {
			cumPath = cumPath + "." + name
		}

		existing, ok := cur.child(name)
		if ok {
			cur = existing
			continue
		}

		if cur.IsExpanding() {
			// cur is itself a collection reached mid-path: stop extending
			// this reference rather than silently joining a collection
			// into the main row stream for what is meant to be a scalar
			// comparison or sort key.
			return nil
		}

		c, err := containerFor(s, rootContainer, cur)
		if err != nil {
			return err
		}
		p, ok := c.Property(name)
		if !ok {
			return errs.ErrInvalidPath.New(path, "", "")
		}

		n := newNode(name, cumPath, p)
		cur.addChild(n)
		cur = n
	}
	if !cur.IsExpanding() {
		cur.Clauses |= clause
	}
	return nil
}

func parentOf(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func joinPath(base, rel string) string {
	if base == "" {
		return rel
	}
	return base + "." + rel
}

func dedupe(paths []string) []string {
	set := map[string]bool{}
	var out []string
	for _, p := range paths {
		if !set[p] {
			set[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
