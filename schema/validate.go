package schema

import (
	"fmt"

	"github.com/brightloop/recfetch/errs"
)

// validateContainer runs the five schema-bind-time invariants of
// spec.md §3 over rt's top container and recursively over every
// nested object container. idProperty is only checked against the
// top container (a nested object's own properties have no id).
func validateContainer(s *Schema, recordTypeName string, top *Container, idProperty string) error {
	return validateRecurse(s, recordTypeName, top, idProperty, true)
}

func validateRecurse(s *Schema, recordTypeName string, c *Container, idProperty string, isTop bool) error {
	for _, name := range c.order {
		p := c.properties[name]

		// Invariant 2: id property is never calculated.
		if isTop && name == idProperty && p.IsCalculated() {
			return errs.ErrIDPropertyCalculated.New(name, recordTypeName)
		}

		// Invariant 4: calculated/aggregate conflicts with storage/scoping.
		if p.IsCalculated() {
			var bad []string
			if p.sameTableColumn != "" {
				bad = append(bad, "column")
			}
			if p.table != nil {
				bad = append(bad, "table")
			}
			if p.presenceTest != nil {
				bad = append(bad, "presenceTest")
			}
			if p.order != nil {
				bad = append(bad, "order")
			}
			if p.filter != nil {
				bad = append(bad, "filter")
			}
			if p.reverseRefProperty != "" {
				bad = append(bad, "reverseRefProperty")
			}
			if len(bad) > 0 {
				return errs.ErrCalculatedConflict.New(name, recordTypeName, fmt.Sprint(bad))
			}
		}

		// Invariant 1: optional scalar object stored in the parent
		// table must have a presence test.
		if p.isObject && p.cardinality == Scalar && p.table == nil && p.optional && !p.IsCalculated() {
			if p.presenceTest == nil {
				return errs.ErrOptionalObjectNeedsPresenceTest.New(name, recordTypeName)
			}
		}

		// Invariant 5: non-scalar stored properties need a separate
		// table with a parent-id column. Calculated (e.g. aggregate
		// map) properties are exempt: they have no storage of their
		// own. A reverse-reference collection is likewise exempt: its
		// rows live in the target record type's own table, keyed by
		// the target's reverseRefProperty column, not by a table of
		// this property's own.
		isReverseRef := p.isReference && p.refStorage == RefReverse
		if p.cardinality != Scalar && !p.IsCalculated() && !isReverseRef {
			if p.table == nil || p.table.ParentIDColumn == "" {
				return errs.ErrNonScalarNeedsTable.New(name, recordTypeName)
			}
		}

		// Invariant 3: reverse references.
		if p.isReference && p.refStorage == RefReverse {
			if err := validateReverseRef(s, recordTypeName, name, p); err != nil {
				return err
			}
		}

		if p.isObject && p.container != nil {
			if err := validateRecurse(s, recordTypeName, p.container, idProperty, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateReverseRef(s *Schema, recordTypeName, propName string, p *PropertyDesc) error {
	target, ok := s.recordTypes[p.targetRecordType]
	if !ok {
		return errs.ErrReverseRefTargetInvalid.New(propName, recordTypeName, p.targetRecordType, recordTypeName)
	}
	rp, ok := target.top.Property(p.reverseRefProperty)
	if !ok || !rp.isReference || rp.cardinality != Scalar || rp.IsCalculated() || rp.targetRecordType != recordTypeName {
		return errs.ErrReverseRefTargetInvalid.New(propName, recordTypeName, p.targetRecordType, recordTypeName)
	}
	return nil
}
