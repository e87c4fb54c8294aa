package proptree

import (
	"fmt"
	"strings"

	"github.com/mitchellh/hashstructure"

	"github.com/brightloop/recfetch/errs"
)

// aggregateKey is hashed to decide whether two aggregate properties
// are "compatible" and may share one branch (spec.md §4.5 step 5):
// same container, same aggregated collection, same scalar-ness, same
// filter.
type aggregateKey struct {
	ContainerPath  string
	CollectionPath string
	IsMapAggregate bool
	Filter         string
}

// Debranch partitions tree into single collection-axis branches
// (spec.md §4.5 step 5). Every node anywhere in the tree whose own
// property is a collection edge is an "expanding" node; two expanding
// nodes may coexist in the same branch when either they lie on the
// same axis (one's collection path is a prefix of the other's, per
// the Axis glossary entry — an ancestor collection and its nested
// descendant collection are never split apart) or both are aggregates
// that hash to the same aggregateKey (they are emitted as one GROUP BY
// query). Every other node (non-expanding) is copied into every
// resulting branch. A tree with no expanding node anywhere debranches
// to itself, unchanged.
func Debranch(root *Node) ([]*Node, error) {
	var expanding []*Node
	collectExpanding(root, &expanding)

	if len(expanding) == 0 {
		return []*Node{root}, nil
	}

	clusters, err := clusterExpanding(expanding)
	if err != nil {
		return nil, err
	}

	branches := make([]*Node, len(clusters))
	for i, cluster := range clusters {
		keep := map[*Node]bool{}
		for _, n := range cluster {
			keep[n] = true
		}
		branches[i] = pruneClone(root, expanding, keep)
	}
	return branches, nil
}

// CheckScope implements spec.md §4.5 step 4/"exactly one branch" rule:
// when a scopePath is given, debranching a tree built under that scope
// must yield exactly one branch, and every expanding node in it must
// lie on scopePath's own axis.
func CheckScope(branches []*Node, scopePath string) (*Node, error) {
	if len(branches) != 1 {
		return nil, errs.ErrMultiAxisScope.New(scopePath)
	}
	var expanding []*Node
	collectExpanding(branches[0], &expanding)
	for _, n := range expanding {
		if !sameAxis(n.Path, scopePath) {
			return nil, errs.ErrAxisViolation.New(n.Path, scopePath)
		}
	}
	return branches[0], nil
}

func collectExpanding(n *Node, into *[]*Node) {
	if n.IsExpanding() {
		*into = append(*into, n)
	}
	for _, c := range n.Children {
		collectExpanding(c, into)
	}
}

// clusterExpanding groups expanding nodes that may coexist in one
// branch. Two expanding nodes are unioned into the same cluster when
// either sameAxis holds between them (one's path is an ancestor of
// the other's — they walk the same collection chain, just at
// different depths) or both are aggregates sharing an aggregateKey
// hash. Everything else forms its own singleton cluster.
func clusterExpanding(expanding []*Node) ([][]*Node, error) {
	uf := newUnionFind(len(expanding))

	byHash := map[uint64][]int{}
	for i, n := range expanding {
		agg := n.Prop.Aggregate()
		if agg == nil {
			continue
		}
		key := aggregateKey{
			ContainerPath:  parentOf(n.Path),
			CollectionPath: agg.CollectionPath,
			IsMapAggregate: n.Prop.Cardinality() != 0, // Array(1) or Map(2); Scalar(0) never reaches here
			Filter:         fmt.Sprint(agg.Filter),
		}
		h, err := hashstructure.Hash(key, nil)
		if err != nil {
			return nil, errs.Internal.New("hashing aggregate compatibility key: " + err.Error())
		}
		for _, j := range byHash[h] {
			uf.union(i, j)
		}
		byHash[h] = append(byHash[h], i)
	}

	for i := range expanding {
		for j := i + 1; j < len(expanding); j++ {
			if sameAxis(expanding[i].Path, expanding[j].Path) {
				uf.union(i, j)
			}
		}
	}

	byRoot := map[int][]*Node{}
	var order []int
	for i, n := range expanding {
		r := uf.find(i)
		if _, ok := byRoot[r]; !ok {
			order = append(order, r)
		}
		byRoot[r] = append(byRoot[r], n)
	}

	clusters := make([][]*Node, len(order))
	for i, r := range order {
		clusters[i] = byRoot[r]
	}
	return clusters, nil
}

// sameAxis reports whether a and b are absolute property paths on the
// same collection axis: one is a (dotted-segment) prefix of the
// other, per the Axis glossary entry.
func sameAxis(a, b string) bool {
	if a == b {
		return true
	}
	if strings.HasPrefix(b, a+".") {
		return true
	}
	return strings.HasPrefix(a, b+".")
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		u.parent[ri] = rj
	}
}

// pruneClone copies tree, dropping every node in expanding that is not
// in keep (along with that node's whole subtree), wherever in the
// tree it occurs.
func pruneClone(n *Node, expanding []*Node, keep map[*Node]bool) *Node {
	out := newNode(n.Name, n.Path, n.Prop)
	out.Clauses = n.Clauses
	out.SideTree = n.SideTree
	for _, c := range n.Children {
		if c.IsExpanding() && !keep[c] {
			continue
		}
		out.addChild(pruneClone(c, expanding, keep))
	}
	return out
}
