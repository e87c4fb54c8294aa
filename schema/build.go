package schema

import (
	"fmt"
	"sort"

	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/internal/similartext"
)

// PropertySpec is the plain-data input to Builder.AddRecordType; it is
// converted into immutable PropertyDesc values during Freeze. This is
// the "phase-1 registers descriptors and defers validators" shape
// described in spec.md §9: specs are collected eagerly, and every
// invariant in §3 is checked once, at Freeze, after the whole schema
// is known (so forward references between record types resolve).
type PropertySpec struct {
	Name             string
	ValueKind        ValueKind
	IsObject         bool
	IsReference      bool
	Cardinality      Cardinality
	Optional         bool
	FetchedByDefault bool

	SameTableColumn string
	Table           *TableStorage

	RefStorage         RefStorage
	ReverseRefProperty string
	TargetRecordType   string

	ValueExpr    string
	Aggregate    *AggregateSpec
	PresenceTest []any
	Filter       []any
	Order        []string

	// Properties holds the nested property specs of an object property.
	Properties []PropertySpec
}

// RecordTypeSpec is the plain-data input describing one record type.
type RecordTypeSpec struct {
	Name       string
	Table      string
	IDProperty string
	Properties []PropertySpec
	// SuperProperties lets callers attach extra aggregate/calculated
	// properties onto the synthesized super-type (spec.md §3 invariant 6).
	SuperProperties []PropertySpec
}

// Schema is the frozen arena of record-type descriptors.
type Schema struct {
	recordTypes map[string]*RecordTypeDesc
	names       []string
}

func (s *Schema) HasRecordType(name string) bool {
	_, ok := s.recordTypes[name]
	return ok
}

func (s *Schema) GetRecordTypeDesc(name string) (*RecordTypeDesc, error) {
	rt, ok := s.recordTypes[name]
	if !ok {
		return nil, errs.ErrUnknownRecordType.New(name, suggestRecordType(s.names, name))
	}
	return rt, nil
}

func (s *Schema) RecordTypeNames() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Builder accumulates RecordTypeSpecs and freezes them into a Schema,
// running every invariant check in spec.md §3 exactly once.
type Builder struct {
	specs []RecordTypeSpec
	err   error
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) AddRecordType(spec RecordTypeSpec) *Builder {
	b.specs = append(b.specs, spec)
	return b
}

// Freeze performs phase 2: build every descriptor, run the deferred
// validators, synthesize each record type's super-type, and return the
// immutable Schema. After Freeze, the Builder must not be reused.
func (b *Builder) Freeze() (*Schema, error) {
	s := &Schema{recordTypes: map[string]*RecordTypeDesc{}}

	for _, spec := range b.specs {
		if s.HasRecordType(spec.Name) {
			return nil, errs.Schema.New(fmt.Sprintf("duplicate record type %q", spec.Name))
		}
		top := buildContainer(spec.Name, spec.Table, spec.Properties)
		rt := &RecordTypeDesc{name: spec.Name, idProperty: spec.IDProperty, top: top}
		s.recordTypes[spec.Name] = rt
		s.names = append(s.names, spec.Name)
	}
	sort.Strings(s.names)

	for _, spec := range b.specs {
		rt := s.recordTypes[spec.Name]
		if err := validateContainer(s, rt.name, rt.top, rt.idProperty); err != nil {
			return nil, err
		}
		rt.superType = synthesizeSuperType(rt, spec.SuperProperties)
	}

	return s, nil
}

func buildContainer(recordType, table string, specs []PropertySpec) *Container {
	c := &Container{recordType: recordType, table: table, properties: map[string]*PropertyDesc{}}
	id := 0
	for _, ps := range specs {
		c.properties[ps.Name] = buildProperty(recordType, id, ps)
		c.order = append(c.order, ps.Name)
		id++
	}
	return c
}

func buildProperty(recordType string, id int, ps PropertySpec) *PropertyDesc {
	p := &PropertyDesc{
		id:                 id,
		name:               ps.Name,
		valueKind:          ps.ValueKind,
		isObject:           ps.IsObject,
		isReference:        ps.IsReference,
		cardinality:        ps.Cardinality,
		optional:           ps.Optional,
		fetchedByDefault:   ps.FetchedByDefault,
		sameTableColumn:    ps.SameTableColumn,
		table:              ps.Table,
		refStorage:         ps.RefStorage,
		reverseRefProperty: ps.ReverseRefProperty,
		targetRecordType:   ps.TargetRecordType,
		valueExpr:          ps.ValueExpr,
		aggregate:          ps.Aggregate,
		presenceTest:       ps.PresenceTest,
		filter:             ps.Filter,
		order:              ps.Order,
	}
	if ps.IsObject {
		p.container = buildContainer(recordType, "", ps.Properties)
	}
	return p
}

func suggestRecordType(names []string, target string) string {
	return similartext.Find(names, target)
}
