// Package valueexpr implements the Value Expression (C1) and Value
// Expression Context (C2) components of spec.md §4.1-§4.2.
package valueexpr

import (
	"strings"

	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/internal/similartext"
	"github.com/brightloop/recfetch/schema"
)

// Context is a (base-path, container-chain) pair that resolves
// relative property references, including parent-ups ("^."), into
// absolute paths (spec.md §4.1).
type Context struct {
	schema     *schema.Schema
	recordType string
	basePath   string
	// chain[0] is the record type's top container. chain[i] (i>0) is
	// the container entered by traversing the i-th path segment of
	// basePath. len(chain) == len(segments)+1.
	chain    []*schema.Container
	segments []string
}

// NewRootContext builds the context at the root of recordType: empty
// base path, chain containing just the top container.
func NewRootContext(s *schema.Schema, recordType string) (*Context, error) {
	rt, err := s.GetRecordTypeDesc(recordType)
	if err != nil {
		return nil, err
	}
	return &Context{schema: s, recordType: recordType, chain: []*schema.Container{rt.TopContainer()}}, nil
}

// newContextAt builds a context rooted at an already-resolved
// container chain, used internally by Relative.
func newContextAt(s *schema.Schema, recordType string, chain []*schema.Container, segments []string) *Context {
	return &Context{schema: s, recordType: recordType, basePath: strings.Join(segments, "."), chain: chain, segments: segments}
}

// ContextForContainer builds the root context directly at an
// arbitrary container rather than recordType's ordinary top
// container. This is what lets a synthetic super-type container
// (spec.md §3 invariant 6) resolve its own "records"/"count" property
// references the same way an ordinary record type resolves its
// fields: the super-type container is not reachable from recordType's
// top container by any property path, so NewRootContext cannot be
// used for it.
func ContextForContainer(s *schema.Schema, recordType string, container *schema.Container) *Context {
	return &Context{schema: s, recordType: recordType, chain: []*schema.Container{container}}
}

func (ctx *Context) BasePath() string     { return ctx.basePath }
func (ctx *Context) RecordType() string   { return ctx.recordType }
func (ctx *Context) Depth() int           { return len(ctx.segments) }
func (ctx *Context) Container() *schema.Container {
	return ctx.chain[len(ctx.chain)-1]
}

// Normalize accepts strings of the form "(^.)*name(.name)*". Each
// "^." pops one container from the chain; Normalize fails with
// errs.ErrInvalidReference when pops exceed the chain depth or an
// intermediate segment fails to resolve to an existing property, or
// resolves to one that is not a container (object or reference).
// Returns the absolute path.
func (ctx *Context) Normalize(ref string) (string, error) {
	abs, _, err := ctx.resolve(ref)
	return abs, err
}

// Relative returns a new Context rooted at the referenced property.
// It fails under the same conditions as Normalize, and additionally
// whenever the resolved property itself is not a container (a
// relative context must be able to host further traversal).
func (ctx *Context) Relative(ref string) (*Context, error) {
	abs, chain, err := ctx.resolve(ref)
	if err != nil {
		return nil, err
	}
	segs := splitPath(abs)
	// The final segment must itself be a container to be a valid base
	// for further relative references.
	last := chain[len(chain)-1]
	container, err := containerOfLastSegment(ctx.schema, chain, segs)
	if err != nil {
		return nil, err
	}
	_ = last
	return newContextAt(ctx.schema, ctx.recordType, append(chain, container), segs), nil
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// resolve pops per leading "^." tokens, then walks the remaining name
// path from the popped container, validating every intermediate
// segment resolves to an existing, container-valued property. It
// returns the absolute path and the container chain reached by the
// intermediate (non-final) segments (i.e. not descending into the
// final segment's own container, even if it has one).
func (ctx *Context) resolve(ref string) (string, []*schema.Container, error) {
	tokens := strings.Split(ref, ".")
	k := 0
	for k < len(tokens) && tokens[k] == "^" {
		k++
	}
	rest := tokens[k:]
	if len(rest) == 0 || rest[0] == "" {
		return "", nil, errs.ErrInvalidReference.New(ref, "missing property name")
	}
	if k > ctx.Depth() {
		return "", nil, errs.ErrInvalidReference.New(ref, "pops past the root of the context")
	}

	baseSegs := append([]string{}, ctx.segments[:len(ctx.segments)-k]...)
	chain := append([]*schema.Container{}, ctx.chain[:len(ctx.chain)-k]...)

	cur := chain[len(chain)-1]
	for i, name := range rest {
		p, ok := cur.Property(name)
		if !ok {
			return "", nil, errs.ErrInvalidReference.New(ref, unknownPropMsg(cur, name))
		}
		isLast := i == len(rest)-1
		baseSegs = append(baseSegs, name)
		if !isLast {
			next, err := containerOf(ctx.schema, p)
			if err != nil {
				return "", nil, errs.ErrInvalidReference.New(ref, err.Error())
			}
			chain = append(chain, next)
			cur = next
		}
	}
	return strings.Join(baseSegs, "."), chain, nil
}

func unknownPropMsg(c *schema.Container, name string) string {
	return "unknown property " + name + similartext.Find(c.PropertyNames(), name)
}

// containerOf returns the container entered by traversing a
// container-valued property (object or reference). It errors for a
// scalar non-container property.
func containerOf(s *schema.Schema, p *schema.PropertyDesc) (*schema.Container, error) {
	switch {
	case p.IsObject():
		return p.Container(), nil
	case p.IsReference():
		rt, err := s.GetRecordTypeDesc(p.TargetRecordType())
		if err != nil {
			return nil, err
		}
		return rt.TopContainer(), nil
	default:
		return nil, errIntermediateNotContainer(p.Name())
	}
}

// containerOfLastSegment resolves the container for the final segment
// of an already-walked path (used by Relative, which needs the final
// segment itself to be a container).
func containerOfLastSegment(s *schema.Schema, chain []*schema.Container, segs []string) (*schema.Container, error) {
	cur := chain[len(chain)-1]
	name := segs[len(segs)-1]
	p, ok := cur.Property(name)
	if !ok {
		return nil, errs.ErrInvalidReference.New(name, unknownPropMsg(cur, name))
	}
	return containerOf(s, p)
}

func errIntermediateNotContainer(name string) error {
	return errs.ErrInvalidReference.New(name, "is not an object or reference property")
}
