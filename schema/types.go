// Package schema models the record-type schema that the query
// compiler binds against (spec.md §3). It is the arena of immutable
// descriptors: once NewBuilder()...Freeze() returns a *Schema, every
// descriptor it reaches is read-only and safe to share across
// concurrently running fetches (spec.md §5).
package schema

// ValueKind is the scalar value kind of a non-container property.
type ValueKind int

const (
	String ValueKind = iota
	Number
	Boolean
	DateTime
)

func (k ValueKind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	case DateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// Cardinality is how many values a property holds.
type Cardinality int

const (
	Scalar Cardinality = iota
	Array
	Map
)

// RefStorage distinguishes the three ways a reference property can be
// physically stored (spec.md §3, §4.6 table).
type RefStorage int

const (
	// NotRef marks a non-reference property.
	NotRef RefStorage = iota
	// RefColumn stores the target id as a column (same table or a
	// separate owned table).
	RefColumn
	// RefLinkTable stores the association in its own link table.
	RefLinkTable
	// RefReverse is not stored on this container at all: it is
	// surfaced by a scalar, non-calculated reference on the target
	// container that points back (ReverseRefProperty).
	RefReverse
	// RefAllRecords marks the synthetic super-type's "records"
	// property (spec.md §3 invariant 6): every row of the target
	// record type's table, unconditioned by any join column.
	RefAllRecords
)

// TableStorage describes a property stored in a table other than its
// container's own table (spec.md §3: "(table, parent-id-column[,
// key-column, index-column])").
type TableStorage struct {
	Table          string
	ParentIDColumn string
	// KeyColumn is the map key column, or the link table's own target-id
	// column for RefLinkTable. Empty when not applicable.
	KeyColumn string
	// IndexColumn is the array index column. Empty when not applicable
	// (maps use KeyColumn instead).
	IndexColumn string
	// ValueColumn is the column holding the scalar value (simple
	// array/map) or the target id (ref array/map stored as column).
	ValueColumn string
}

// AggFunc is one of the aggregate functions in spec.md §3.
type AggFunc int

const (
	Count AggFunc = iota
	Sum
	Min
	Max
	Avg
)

// AggregateSpec is the definition of a calculated aggregate property.
type AggregateSpec struct {
	// CollectionPath is the path (relative to the aggregate property's
	// container) of the collection being aggregated over.
	CollectionPath string
	Function       AggFunc
	// Expr is the value expression aggregated (ignored, conventionally
	// "*", for Count). Relative to CollectionPath.
	Expr string
	// Filter optionally restricts which elements of the collection
	// participate, relative to CollectionPath.
	Filter []any
}

// PropertyDesc is one property of a Container.
type PropertyDesc struct {
	id   int
	name string

	valueKind    ValueKind
	isObject     bool
	isReference  bool
	cardinality  Cardinality
	optional     bool
	fetchedByDefault bool

	// sameTableColumn is set when the property is stored as a column of
	// its owning container's own table (scalar simple, scalar object
	// "present-if" marker column is not here; presence is a filter).
	sameTableColumn string

	// table is set when the property lives in a separate table.
	table *TableStorage

	refStorage         RefStorage
	reverseRefProperty string

	// targetRecordType names the target RecordType of a reference
	// property. Resolved against the owning Schema by name (never a raw
	// pointer, so record types may reference each other before either
	// is fully built).
	targetRecordType string

	valueExpr    string
	aggregate    *AggregateSpec
	presenceTest []any
	filter       []any
	order        []string

	// constantValue is set only for the synthesized recordTypeName
	// super-property: it renders as a string literal, never a column.
	constantValue *string

	// container is non-nil (and holds this property's own nested
	// properties) iff isObject is true.
	container *Container
}

func (p *PropertyDesc) Name() string              { return p.name }
func (p *PropertyDesc) ID() int                    { return p.id }
func (p *PropertyDesc) ValueKind() ValueKind       { return p.valueKind }
func (p *PropertyDesc) IsObject() bool             { return p.isObject }
func (p *PropertyDesc) IsReference() bool          { return p.isReference }
func (p *PropertyDesc) Cardinality() Cardinality   { return p.cardinality }
func (p *PropertyDesc) IsCollection() bool         { return p.cardinality != Scalar }
func (p *PropertyDesc) Optional() bool             { return p.optional }
func (p *PropertyDesc) FetchedByDefault() bool     { return p.fetchedByDefault }
func (p *PropertyDesc) SameTableColumn() string    { return p.sameTableColumn }
func (p *PropertyDesc) Table() *TableStorage       { return p.table }
func (p *PropertyDesc) RefStorage() RefStorage      { return p.refStorage }
func (p *PropertyDesc) ReverseRefProperty() string { return p.reverseRefProperty }
func (p *PropertyDesc) TargetRecordType() string   { return p.targetRecordType }
func (p *PropertyDesc) Container() *Container      { return p.container }
func (p *PropertyDesc) ValueExpr() string          { return p.valueExpr }
func (p *PropertyDesc) Aggregate() *AggregateSpec  { return p.aggregate }
func (p *PropertyDesc) PresenceTest() []any        { return p.presenceTest }
func (p *PropertyDesc) Filter() []any              { return p.filter }
func (p *PropertyDesc) Order() []string            { return p.order }
func (p *PropertyDesc) ConstantValue() (string, bool) {
	if p.constantValue == nil {
		return "", false
	}
	return *p.constantValue, true
}

// IsCalculated reports whether the property is a valueExpr, aggregate,
// or is otherwise computed rather than stored.
func (p *PropertyDesc) IsCalculated() bool {
	return p.valueExpr != "" || p.aggregate != nil
}

// Container is a properties carrier: a record type's top container or
// a nested object property's inner schema (spec.md GLOSSARY).
type Container struct {
	// recordType is the owning record type's id; containers nested
	// inside object properties still point at the enclosing record
	// type so relative references can be resolved.
	recordType string
	table      string
	properties map[string]*PropertyDesc
	order      []string // insertion order, for deterministic iteration
}

func (c *Container) RecordType() string { return c.recordType }
func (c *Container) Table() string      { return c.table }

func (c *Container) Property(name string) (*PropertyDesc, bool) {
	p, ok := c.properties[name]
	return p, ok
}

// Properties returns the container's properties in declaration order.
func (c *Container) Properties() []*PropertyDesc {
	out := make([]*PropertyDesc, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.properties[n])
	}
	return out
}

// PropertyNames returns the declared property names, in declaration order.
func (c *Container) PropertyNames() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// DefaultFetchedNames returns the subset of PropertyNames fetched by
// default, for wildcard expansion (spec.md §4.5).
func (c *Container) DefaultFetchedNames() []string {
	var out []string
	for _, n := range c.order {
		if c.properties[n].fetchedByDefault {
			out = append(out, n)
		}
	}
	return out
}

// RecordTypeDesc is a top-level entity type (spec.md GLOSSARY).
type RecordTypeDesc struct {
	name       string
	idProperty string
	top        *Container
	superType  *Container
}

func (r *RecordTypeDesc) Name() string         { return r.name }
func (r *RecordTypeDesc) IDProperty() string   { return r.idProperty }
func (r *RecordTypeDesc) TopContainer() *Container { return r.top }
func (r *RecordTypeDesc) SuperType() *Container    { return r.superType }
