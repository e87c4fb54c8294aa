// Package yamlschema loads a record-type schema descriptor from YAML
// fixtures (spec.md §1 "a schema descriptor... typically loaded from a
// configuration file") and turns it into the schema.Builder calls that
// produce a frozen *schema.Schema. It mirrors the plain-data shape of
// schema.RecordTypeSpec/PropertySpec one-for-one, so the YAML document
// is close to a literal transcription of spec.md §3's data model.
package yamlschema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/schema"
)

// Document is the top-level YAML shape: a list of record types.
type Document struct {
	RecordTypes []RecordType `yaml:"recordTypes"`
}

// RecordType mirrors schema.RecordTypeSpec.
type RecordType struct {
	Name            string     `yaml:"name"`
	Table           string     `yaml:"table"`
	IDProperty      string     `yaml:"idProperty"`
	Properties      []Property `yaml:"properties"`
	SuperProperties []Property `yaml:"superProperties,omitempty"`
}

// TableStorage mirrors schema.TableStorage.
type TableStorage struct {
	Table          string `yaml:"table"`
	ParentIDColumn string `yaml:"parentIdColumn,omitempty"`
	KeyColumn      string `yaml:"keyColumn,omitempty"`
	IndexColumn    string `yaml:"indexColumn,omitempty"`
	ValueColumn    string `yaml:"valueColumn,omitempty"`
}

// AggregateSpec mirrors schema.AggregateSpec.
type AggregateSpec struct {
	CollectionPath string `yaml:"collectionPath"`
	Function       string `yaml:"function"`
	Expr           string `yaml:"expr,omitempty"`
	Filter         []any  `yaml:"filter,omitempty"`
}

// Property mirrors schema.PropertySpec. ValueKind/Cardinality/RefStorage
// are lowercase strings in YAML (e.g. "string", "array", "linkTable")
// and translated by parseX below; every other field maps straight
// across.
type Property struct {
	Name             string `yaml:"name"`
	ValueKind        string `yaml:"valueKind,omitempty"`
	IsObject         bool   `yaml:"isObject,omitempty"`
	IsReference      bool   `yaml:"isReference,omitempty"`
	Cardinality      string `yaml:"cardinality,omitempty"`
	Optional         bool   `yaml:"optional,omitempty"`
	FetchedByDefault bool   `yaml:"fetchedByDefault,omitempty"`

	SameTableColumn string        `yaml:"sameTableColumn,omitempty"`
	Table           *TableStorage `yaml:"table,omitempty"`

	RefStorage         string `yaml:"refStorage,omitempty"`
	ReverseRefProperty string `yaml:"reverseRefProperty,omitempty"`
	TargetRecordType   string `yaml:"targetRecordType,omitempty"`

	ValueExpr    string         `yaml:"valueExpr,omitempty"`
	Aggregate    *AggregateSpec `yaml:"aggregate,omitempty"`
	PresenceTest []any          `yaml:"presenceTest,omitempty"`
	Filter       []any          `yaml:"filter,omitempty"`
	Order        []string       `yaml:"order,omitempty"`

	Properties []Property `yaml:"properties,omitempty"`
}

// LoadFile reads path and builds a frozen schema from it.
func LoadFile(path string) (*schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Usage.New(fmt.Sprintf("reading schema file %q: %s", path, err))
	}
	return LoadBytes(data)
}

// LoadBytes parses a YAML document and builds a frozen schema from it.
func LoadBytes(data []byte) (*schema.Schema, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Usage.New(fmt.Sprintf("parsing schema YAML: %s", err))
	}
	return Build(doc)
}

// Build converts a parsed Document into a frozen *schema.Schema,
// running the schema.Builder two-phase build (spec.md §9).
func Build(doc Document) (*schema.Schema, error) {
	b := schema.NewBuilder()
	for _, rt := range doc.RecordTypes {
		spec, err := toRecordTypeSpec(rt)
		if err != nil {
			return nil, err
		}
		b.AddRecordType(spec)
	}
	return b.Freeze()
}

func toRecordTypeSpec(rt RecordType) (schema.RecordTypeSpec, error) {
	props, err := toPropertySpecs(rt.Properties)
	if err != nil {
		return schema.RecordTypeSpec{}, err
	}
	superProps, err := toPropertySpecs(rt.SuperProperties)
	if err != nil {
		return schema.RecordTypeSpec{}, err
	}
	return schema.RecordTypeSpec{
		Name:            rt.Name,
		Table:           rt.Table,
		IDProperty:      rt.IDProperty,
		Properties:      props,
		SuperProperties: superProps,
	}, nil
}

func toPropertySpecs(props []Property) ([]schema.PropertySpec, error) {
	out := make([]schema.PropertySpec, 0, len(props))
	for _, p := range props {
		ps, err := toPropertySpec(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

func toPropertySpec(p Property) (schema.PropertySpec, error) {
	valueKind, err := parseValueKind(p.ValueKind)
	if err != nil {
		return schema.PropertySpec{}, err
	}
	cardinality, err := parseCardinality(p.Cardinality)
	if err != nil {
		return schema.PropertySpec{}, err
	}
	refStorage, err := parseRefStorage(p.RefStorage)
	if err != nil {
		return schema.PropertySpec{}, err
	}

	var table *schema.TableStorage
	if p.Table != nil {
		table = &schema.TableStorage{
			Table:          p.Table.Table,
			ParentIDColumn: p.Table.ParentIDColumn,
			KeyColumn:      p.Table.KeyColumn,
			IndexColumn:    p.Table.IndexColumn,
			ValueColumn:    p.Table.ValueColumn,
		}
	}

	var agg *schema.AggregateSpec
	if p.Aggregate != nil {
		fn, err := parseAggFunc(p.Aggregate.Function)
		if err != nil {
			return schema.PropertySpec{}, err
		}
		agg = &schema.AggregateSpec{
			CollectionPath: p.Aggregate.CollectionPath,
			Function:       fn,
			Expr:           p.Aggregate.Expr,
			Filter:         p.Aggregate.Filter,
		}
	}

	nested, err := toPropertySpecs(p.Properties)
	if err != nil {
		return schema.PropertySpec{}, err
	}

	return schema.PropertySpec{
		Name:               p.Name,
		ValueKind:          valueKind,
		IsObject:           p.IsObject,
		IsReference:        p.IsReference,
		Cardinality:        cardinality,
		Optional:           p.Optional,
		FetchedByDefault:   p.FetchedByDefault,
		SameTableColumn:    p.SameTableColumn,
		Table:              table,
		RefStorage:         refStorage,
		ReverseRefProperty: p.ReverseRefProperty,
		TargetRecordType:   p.TargetRecordType,
		ValueExpr:          p.ValueExpr,
		Aggregate:          agg,
		PresenceTest:       p.PresenceTest,
		Filter:             p.Filter,
		Order:              p.Order,
		Properties:         nested,
	}, nil
}

func parseValueKind(s string) (schema.ValueKind, error) {
	switch s {
	case "", "string":
		return schema.String, nil
	case "number":
		return schema.Number, nil
	case "boolean":
		return schema.Boolean, nil
	case "datetime":
		return schema.DateTime, nil
	default:
		return 0, errs.Usage.New(fmt.Sprintf("unknown valueKind %q", s))
	}
}

func parseCardinality(s string) (schema.Cardinality, error) {
	switch s {
	case "", "scalar":
		return schema.Scalar, nil
	case "array":
		return schema.Array, nil
	case "map":
		return schema.Map, nil
	default:
		return 0, errs.Usage.New(fmt.Sprintf("unknown cardinality %q", s))
	}
}

func parseRefStorage(s string) (schema.RefStorage, error) {
	switch s {
	case "":
		return schema.NotRef, nil
	case "column":
		return schema.RefColumn, nil
	case "linkTable":
		return schema.RefLinkTable, nil
	case "reverse":
		return schema.RefReverse, nil
	case "allRecords":
		return schema.RefAllRecords, nil
	default:
		return 0, errs.Usage.New(fmt.Sprintf("unknown refStorage %q", s))
	}
}

func parseAggFunc(s string) (schema.AggFunc, error) {
	switch s {
	case "", "count":
		return schema.Count, nil
	case "sum":
		return schema.Sum, nil
	case "min":
		return schema.Min, nil
	case "max":
		return schema.Max, nil
	case "avg":
		return schema.Avg, nil
	default:
		return 0, errs.Usage.New(fmt.Sprintf("unknown aggregate function %q", s))
	}
}
