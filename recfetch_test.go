package recfetch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightloop/recfetch"
	"github.com/brightloop/recfetch/dbdriver/refmysql"
	"github.com/brightloop/recfetch/dbdriver/refmysql/memtx"
	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

func buildSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	b.AddRecordType(schema.RecordTypeSpec{
		Name:       "R",
		Table:      "R",
		IDProperty: "id",
		Properties: []schema.PropertySpec{
			{Name: "id", ValueKind: schema.Number, SameTableColumn: "id", FetchedByDefault: true},
			{Name: "name", ValueKind: schema.String, SameTableColumn: "name", FetchedByDefault: true},
		},
	})
	s, err := b.Freeze()
	require.NoError(t, err)
	return s
}

// TestFetchSimpleScalar is spec.md §8's E1 scenario driven end to end
// through the outward API: compile, execute against a canned driver,
// get back the reassembled record graph.
func TestFetchSimpleScalar(t *testing.T) {
	require := require.New(t)
	s := buildSchema(t)

	script := memtx.NewScript().On(`SELECT z.id AS "id", z.name AS "a$name" FROM R AS z`, memtx.Result{
		Header: []string{"id", "a$name"},
		Rows: [][]any{
			{int64(1), "Alice"},
			{int64(2), "Bob"},
		},
	})
	dialect := refmysql.New(memtx.NewConnector(script))

	result, err := recfetch.Fetch(context.Background(), s, dialect, "R", recfetch.Query{Props: []string{"*"}}, nil, nil)
	require.NoError(err)
	require.Equal("R", result.RecordTypeName)
	require.Len(result.Records, 2)
	require.Equal("Alice", result.Records[0]["name"])
	require.Equal("Bob", result.Records[1]["name"])
}

// TestFetchNamedParam proves a param("name") placeholder in a Query's
// Filter resolves against the params map passed to Fetch, not against
// an inline literal (spec.md §6 "Placeholders inside filter specs:
// param(\"name\") -> bound later by params").
func TestFetchNamedParam(t *testing.T) {
	require := require.New(t)
	s := buildSchema(t)

	script := memtx.NewScript().On(`SELECT z.id AS "id", z.name AS "a$name" FROM R AS z WHERE z.name = 'Alice'`, memtx.Result{
		Header: []string{"id", "a$name"},
		Rows:   [][]any{{int64(1), "Alice"}},
	})
	dialect := refmysql.New(memtx.NewConnector(script))

	result, err := recfetch.Fetch(context.Background(), s, dialect, "R", recfetch.Query{
		Props:  []string{"*"},
		Filter: []any{[]any{"name => eq", valueexpr.ParamRef("who")}},
	}, map[string]any{"who": "Alice"}, nil)
	require.NoError(err)
	require.Len(result.Records, 1)
	require.Equal("Alice", result.Records[0]["name"])
}
