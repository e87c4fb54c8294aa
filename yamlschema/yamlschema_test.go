package yamlschema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightloop/recfetch/schema"
)

const personDoc = `
recordTypes:
  - name: Person
    table: people
    idProperty: id
    properties:
      - name: id
        valueKind: number
        sameTableColumn: id
        fetchedByDefault: true
      - name: name
        valueKind: string
        sameTableColumn: name
        fetchedByDefault: true
      - name: pets
        isReference: true
        cardinality: array
        targetRecordType: Pet
        refStorage: column
        table:
          table: pet
          parentIdColumn: owner_id
          valueColumn: id
    superProperties:
      - name: petCount
        aggregate:
          collectionPath: records
          function: count
  - name: Pet
    table: pet
    idProperty: id
    properties:
      - name: id
        valueKind: number
        sameTableColumn: id
        fetchedByDefault: true
`

func TestLoadBytesBuildsFrozenSchema(t *testing.T) {
	require := require.New(t)

	s, err := LoadBytes([]byte(personDoc))
	require.NoError(err)
	require.True(s.HasRecordType("Person"))
	require.True(s.HasRecordType("Pet"))

	rt, err := s.GetRecordTypeDesc("Person")
	require.NoError(err)

	idProp, ok := rt.TopContainer().Property("id")
	require.True(ok)
	require.Equal(schema.Number, idProp.ValueKind())

	petsProp, ok := rt.TopContainer().Property("pets")
	require.True(ok)
	require.True(petsProp.IsReference())
	require.Equal(schema.Array, petsProp.Cardinality())
	require.Equal(schema.RefColumn, petsProp.RefStorage())
	require.Equal("Pet", petsProp.TargetRecordType())
	require.NotNil(petsProp.Table())
	require.Equal("owner_id", petsProp.Table().ParentIDColumn)

	countProp, ok := rt.SuperType().Property("petCount")
	require.True(ok)
	require.NotNil(countProp.Aggregate())
	require.Equal(schema.Count, countProp.Aggregate().Function)
}

func TestLoadBytesRejectsUnknownValueKind(t *testing.T) {
	require := require.New(t)
	_, err := LoadBytes([]byte(`
recordTypes:
  - name: Bad
    table: bad
    idProperty: id
    properties:
      - name: id
        valueKind: bogus
`))
	require.Error(err)
}

func TestLoadFileMissing(t *testing.T) {
	require := require.New(t)
	_, err := LoadFile("/nonexistent/path/schema.yaml")
	require.Error(err)
}
