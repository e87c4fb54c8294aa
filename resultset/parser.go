// Package resultset is the result-set parser spec.md §6 names as an
// external collaborator: given the markup-labelled header and the
// flat rows a compiled statement (fetchcompiler.Plan) produces, it
// reassembles the hierarchical object graph the markup encodes
// (spec.md §3 "Query Tree Node", §4.6 "Deterministic markup").
//
// Labels follow the convention querytree emits: a sequence of
// "<letter>$" nesting tokens followed by a terminal field name, e.g.
// "id", "a$name", "a$b$k" (a collection's key column under nesting
// "a.b"). A path segment is treated as a repeated collection iff any
// label under it carries the reserved "k" field name - querytree
// selects a "k" column for an array or map child whose table declares
// a key or index column (querytree.addCollectionChild), and for a
// column-stored or reverse reference collection
// (querytree.addReferenceChild), and never for a singular nested object - so
// the discriminator works purely from the label shapes, with no access
// to the schema. A collection whose table has neither a key nor an
// index column gets no "k" column and is read as a singular object.
//
// querytree assigns every property of a container - including a
// record type's own top-level scalar fields - a letter token before
// recursing, so a named leaf's own trailing path token is always its
// own position within its immediate container, not a real nesting
// level (e.g. "a$name" is the flat field "name", not "name" nested
// under a container "a"). Whenever the terminal token is a genuine
// field name (not the reserved "k" marker or a bare collection value),
// that last path token is dropped as redundant. A collection's own
// key/value columns carry no embedded field name at all, so for those
// the full letter path is kept and the trailing letter stands in as
// the collection's own (synthetic) key.
package resultset

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/brightloop/recfetch/dbdriver"
)

// reservedKeyField is the terminal field name querytree uses for a
// collection's key/index column (querytree.go addCollectionChild:
// "Label: label + \"k\"").
const reservedKeyField = "k"

// reservedValueField is the synthetic field name this package assigns
// to a label that ends exactly on a nesting token with no trailing
// name (e.g. "a$"): querytree uses that bare form for a simple
// collection's own value column.
const reservedValueField = "value"

type parsedLabel struct {
	path  []string
	field string
}

func parseLabel(label string) parsedLabel {
	trimmed := strings.TrimSuffix(label, ":")
	parts := strings.Split(trimmed, "$")
	if len(parts) == 1 {
		return parsedLabel{field: orDefault(parts[0])}
	}

	path := parts[:len(parts)-1]
	last := parts[len(parts)-1]
	if last != "" && last != reservedKeyField {
		// last is a real field name: the final path token is just this
		// field's own position among its container's siblings, not a
		// further nesting level, so it is dropped.
		path = path[:len(path)-1]
	}
	return parsedLabel{path: path, field: orDefault(last)}
}

func orDefault(field string) string {
	if field == "" {
		return reservedValueField
	}
	return field
}

// labelTreeNode groups the flat label list into the nested shape the
// markup encodes, computed once from the header rather than per row.
type labelTreeNode struct {
	fieldIdx     map[string]int
	children     map[string]*labelTreeNode
	isCollection bool
}

func newLabelTreeNode() *labelTreeNode {
	return &labelTreeNode{fieldIdx: map[string]int{}, children: map[string]*labelTreeNode{}}
}

func buildLabelTree(labels []string) *labelTreeNode {
	root := newLabelTreeNode()
	for i, label := range labels {
		pl := parseLabel(label)
		cur := root
		for _, seg := range pl.path {
			child, ok := cur.children[seg]
			if !ok {
				child = newLabelTreeNode()
				cur.children[seg] = child
			}
			cur = child
		}
		cur.fieldIdx[pl.field] = i
		if pl.field == reservedKeyField {
			cur.isCollection = true
		}
	}
	return root
}

// object is one reconstructed record (or nested same-table/owned-table
// object) in progress. Collection-valued fields hold *collection until
// Result() materializes them into plain []any.
type object map[string]any

// collection accumulates a repeated child in insertion (first-seen)
// order, deduplicating by its key/anchor column so SQL join fan-out
// does not produce duplicate elements (spec.md §4.9 "every row of a
// selected parent is fetched exactly once").
type collection struct {
	order []string
	items map[string]object
}

func newCollection() *collection { return &collection{items: map[string]object{}} }

func (c *collection) upsert(key string) object {
	if o, ok := c.items[key]; ok {
		return o
	}
	o := object{}
	c.items[key] = o
	c.order = append(c.order, key)
	return o
}

// Parser accumulates header + rows for one statement (spec.md §4.9
// "For each SELECT, build a result-set parser keyed by (schema,
// record-type-or-super-type-name)") and reassembles them into a
// nested object graph on completion.
type Parser struct {
	recordTypeName string
	tree           *labelTreeNode
	rootOrder      []string
	roots          map[string]object
	err            error
}

// NewParser returns a parser for one statement's rows, identified by
// the record type (or super-type) name the statement was compiled
// against.
func NewParser(recordTypeName string) *Parser {
	return &Parser{recordTypeName: recordTypeName, roots: map[string]object{}}
}

// Handler adapts the parser to the driver's four-method callback
// surface (spec.md §6, §9).
func (p *Parser) Handler() dbdriver.RowHandler {
	return dbdriver.RowHandler{
		OnHeader:  p.onHeader,
		OnRow:     p.onRow,
		OnSuccess: func() {},
		OnError:   func(err error) { p.err = err },
	}
}

func (p *Parser) onHeader(fields []string) error {
	p.tree = buildLabelTree(fields)
	return nil
}

func (p *Parser) onRow(row []any) error {
	if p.err != nil {
		return nil
	}
	rootIdx, hasID := p.tree.fieldIdx["id"]
	var key string
	if hasID {
		key = stringifyKey(row[rootIdx])
	} else {
		key = strconv.Itoa(len(p.rootOrder))
	}
	obj, ok := p.roots[key]
	if !ok {
		obj = object{}
		p.roots[key] = obj
		p.rootOrder = append(p.rootOrder, key)
	}
	ingest(obj, p.tree, row)
	return nil
}

// ingest merges one row's fields into obj according to tree, recursing
// into nested objects/collections as the label tree shape dictates.
func ingest(obj object, tree *labelTreeNode, row []any) {
	for field, idx := range tree.fieldIdx {
		if field == reservedKeyField {
			continue // consumed by the parent collection's upsert key, not a field of the item itself
		}
		obj[field] = row[idx]
	}
	for seg, child := range tree.children {
		if child.isCollection {
			coll, ok := obj[seg].(*collection)
			if !ok {
				coll = newCollection()
				obj[seg] = coll
			}
			keyIdx, hasKey := child.fieldIdx[reservedKeyField]
			var key string
			if hasKey {
				key = stringifyKey(row[keyIdx])
			} else {
				key = strconv.Itoa(len(coll.order))
			}
			item := coll.upsert(key)
			ingest(item, child, row)
			continue
		}
		nested, ok := obj[seg].(object)
		if !ok {
			nested = object{}
			obj[seg] = nested
		}
		ingest(nested, child, row)
	}
}

// Result materializes every object/collection accumulated so far into
// plain map[string]any/[]any values, in first-seen order, ready for
// the caller to merge into the final fetch result (spec.md §4.9
// "{recordTypeName, records?, referredRecords?, ...}").
func (p *Parser) Result() ([]map[string]any, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([]map[string]any, 0, len(p.rootOrder))
	for _, key := range p.rootOrder {
		out = append(out, materialize(p.roots[key]))
	}
	return out, nil
}

// RecordTypeName is the record type (or super-type) this parser's
// rows were compiled against.
func (p *Parser) RecordTypeName() string { return p.recordTypeName }

func materialize(obj object) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case object:
			out[k] = materialize(t)
		case *collection:
			items := make([]any, len(t.order))
			for i, key := range t.order {
				items[i] = materialize(t.items[key])
			}
			out[k] = items
		default:
			out[k] = t
		}
	}
	return out
}

func stringifyKey(v any) string {
	if v == nil {
		return "\x00nil"
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
