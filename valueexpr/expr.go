package valueexpr

import (
	"fmt"
	"sort"

	"github.com/brightloop/recfetch/dbdriver"
)

// TranslationContext is what a compiled Expr needs at render time
// (spec.md §4.2): a way to turn an absolute property path into SQL, a
// handle on the driver's dialect capabilities, and a parameter binder.
type TranslationContext interface {
	TranslatePropPath(absPath string) (string, error)
	DBDriver() dbdriver.Dialect
	ParamsHandler() *dbdriver.ParamsHandler
}

// node is the internal, already-resolved AST of a compiled expression.
type node interface {
	translate(tc TranslationContext) (string, error)
	collectPaths(into map[string]struct{})
	rebase(prefix string) node
}

// Expr is a compiled value expression (spec.md §4.2). Its leaves are
// absolute property paths; UsedPaths reports every one of them.
type Expr struct {
	root node
}

// UsedPaths returns every absolute property path this expression
// reads from, sorted for determinism.
func (e *Expr) UsedPaths() []string {
	set := map[string]struct{}{}
	e.root.collectPaths(set)
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Translate renders the expression to SQL against tc.
func (e *Expr) Translate(tc TranslationContext) (string, error) {
	return e.root.translate(tc)
}

// Rebase returns a new expression whose used paths are all prefixed
// with basePath (spec.md §4.2), used when lifting an expression
// declared against a record type onto a super-type's "records"
// sub-path, or onto a collection-scoped filter's outer context.
func (e *Expr) Rebase(basePath string) *Expr {
	return &Expr{root: e.root.rebase(basePath)}
}

// --- node kinds ---

type propRefNode struct{ path string }

func (n *propRefNode) translate(tc TranslationContext) (string, error) {
	return tc.TranslatePropPath(n.path)
}
func (n *propRefNode) collectPaths(into map[string]struct{}) { into[n.path] = struct{}{} }
func (n *propRefNode) rebase(prefix string) node {
	return &propRefNode{path: prefix + "." + n.path}
}

type literalNode struct{ value any }

func (n *literalNode) translate(tc TranslationContext) (string, error) {
	return tc.ParamsHandler().BindLiteral(n.value), nil
}
func (n *literalNode) collectPaths(map[string]struct{}) {}
func (n *literalNode) rebase(string) node              { return n }

type paramRefNode struct{ name string }

func (n *paramRefNode) translate(tc TranslationContext) (string, error) {
	return tc.ParamsHandler().BindNamed(n.name), nil
}
func (n *paramRefNode) collectPaths(map[string]struct{}) {}
func (n *paramRefNode) rebase(string) node              { return n }

// callNode is the extension point spec.md §4.2 reserves for richer
// function calls; translation dispatches to the driver's string
// functions for the small fixed set this module implements.
type callNode struct {
	fn   string
	args []node
}

func (n *callNode) collectPaths(into map[string]struct{}) {
	for _, a := range n.args {
		a.collectPaths(into)
	}
}
func (n *callNode) rebase(prefix string) node {
	args := make([]node, len(n.args))
	for i, a := range n.args {
		args[i] = a.rebase(prefix)
	}
	return &callNode{fn: n.fn, args: args}
}

func (n *callNode) translate(tc TranslationContext) (string, error) {
	args := make([]string, len(n.args))
	for i, a := range n.args {
		s, err := a.translate(tc)
		if err != nil {
			return "", err
		}
		args[i] = s
	}
	d := tc.DBDriver()
	switch n.fn {
	case "LENGTH":
		return d.StringLength(arg(args, 0)), nil
	case "LOWER":
		return d.StringLowercase(arg(args, 0)), nil
	case "UPPER":
		return d.StringUppercase(arg(args, 0)), nil
	case "LPAD":
		return d.StringLeftPad(arg(args, 0), arg(args, 1), arg(args, 2)), nil
	case "SUBSTRING":
		return d.StringSubstring(arg(args, 0), arg(args, 1), arg(args, 2)), nil
	case "CONCAT":
		return d.NullableConcat(args...), nil
	case "CAST_STRING":
		return d.CastToString(arg(args, 0)), nil
	case "BOOL_TO_NULL":
		return d.BooleanToNull(arg(args, 0)), nil
	case "COALESCE":
		return d.Coalesce(args...), nil
	default:
		return "", fmt.Errorf("unknown value expression function %q", n.fn)
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
