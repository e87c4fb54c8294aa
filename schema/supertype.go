package schema

// synthesizeSuperType implements spec.md §3 invariant 6: every record
// type gains a synthetic super-type exposing
//   { recordTypeName, records: [ref(T)], count: aggregate(records), ...extra }
// extra carries any caller-declared super-properties (additional
// aggregates or calculated properties over "records").
func synthesizeSuperType(rt *RecordTypeDesc, extra []PropertySpec) *Container {
	c := &Container{recordType: rt.name, properties: map[string]*PropertyDesc{}}

	name := rt.name
	recordTypeNameProp := &PropertyDesc{
		id:            0,
		name:          "recordTypeName",
		valueKind:     String,
		cardinality:   Scalar,
		constantValue: &name,
	}
	c.properties["recordTypeName"] = recordTypeNameProp
	c.order = append(c.order, "recordTypeName")

	recordsProp := &PropertyDesc{
		id:               1,
		name:             "records",
		isReference:      true,
		cardinality:      Array,
		fetchedByDefault: false,
		refStorage:       RefAllRecords,
		targetRecordType: rt.name,
	}
	c.properties["records"] = recordsProp
	c.order = append(c.order, "records")

	countProp := &PropertyDesc{
		id:          2,
		name:        "count",
		valueKind:   Number,
		cardinality: Scalar,
		aggregate: &AggregateSpec{
			CollectionPath: "records",
			Function:       Count,
			Expr:           rt.idProperty,
		},
	}
	c.properties["count"] = countProp
	c.order = append(c.order, "count")

	id := 3
	for _, ps := range extra {
		p := buildProperty(rt.name, id, ps)
		c.properties[ps.Name] = p
		c.order = append(c.order, ps.Name)
		id++
	}

	return c
}
