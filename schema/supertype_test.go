package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuperTypeSynthesizesRecordTypeNameRecordsAndCount(t *testing.T) {
	require := require.New(t)
	b := NewBuilder()
	b.AddRecordType(simpleSpec())
	s, err := b.Freeze()
	require.NoError(err)

	rt, err := s.GetRecordTypeDesc("Person")
	require.NoError(err)
	super := rt.SuperType()
	require.NotNil(super)

	nameProp, ok := super.Property("recordTypeName")
	require.True(ok)
	v, ok := nameProp.ConstantValue()
	require.True(ok)
	require.Equal("Person", v)

	recordsProp, ok := super.Property("records")
	require.True(ok)
	require.True(recordsProp.IsReference())
	require.Equal(Array, recordsProp.Cardinality())
	require.Equal(RefAllRecords, recordsProp.RefStorage())
	require.Equal("Person", recordsProp.TargetRecordType())

	countProp, ok := super.Property("count")
	require.True(ok)
	require.True(countProp.IsCalculated())
	require.Equal("records", countProp.Aggregate().CollectionPath)
	require.Equal(Count, countProp.Aggregate().Function)
}

func TestSuperTypeCarriesCallerDeclaredExtraProperties(t *testing.T) {
	require := require.New(t)
	b := NewBuilder()
	spec := simpleSpec()
	spec.SuperProperties = []PropertySpec{
		{Name: "activeCount", ValueKind: Number, Aggregate: &AggregateSpec{
			CollectionPath: "records", Function: Count,
			Filter: []any{[]any{"name => present"}},
		}},
	}
	b.AddRecordType(spec)
	s, err := b.Freeze()
	require.NoError(err)

	rt, err := s.GetRecordTypeDesc("Person")
	require.NoError(err)
	extra, ok := rt.SuperType().Property("activeCount")
	require.True(ok)
	require.True(extra.IsCalculated())
}

// TestSuperTypeSkipsInvariant5ForRecordsProperty proves the synthetic
// "records" property - a RefAllRecords array with no table of its own
// - is exempt from invariant 5 because super-type synthesis runs
// after validateContainer, on a container validateContainer never
// sees (build.go's Freeze calls validateContainer on rt.top before
// synthesizeSuperType).
func TestSuperTypeSkipsInvariant5ForRecordsProperty(t *testing.T) {
	require := require.New(t)
	b := NewBuilder()
	b.AddRecordType(simpleSpec())
	s, err := b.Freeze()
	require.NoError(err)

	rt, err := s.GetRecordTypeDesc("Person")
	require.NoError(err)
	recordsProp, ok := rt.SuperType().Property("records")
	require.True(ok)
	require.Nil(recordsProp.Table())
}
