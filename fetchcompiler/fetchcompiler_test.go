package fetchcompiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightloop/recfetch/dbdriver/refmysql"
	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

func rSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	b.AddRecordType(schema.RecordTypeSpec{
		Name:       "R",
		Table:      "R",
		IDProperty: "id",
		Properties: []schema.PropertySpec{
			{Name: "id", ValueKind: schema.Number, SameTableColumn: "id", FetchedByDefault: true},
			{Name: "name", ValueKind: schema.String, SameTableColumn: "name", FetchedByDefault: true},
			{Name: "score", ValueKind: schema.Number, SameTableColumn: "score", FetchedByDefault: true},
			{Name: "tags", ValueKind: schema.String, Cardinality: schema.Array,
				Table: &schema.TableStorage{Table: "R_tags", ParentIDColumn: "parent_id", IndexColumn: "idx", ValueColumn: "val"}},
			{Name: "notes", ValueKind: schema.String, Cardinality: schema.Array,
				Table: &schema.TableStorage{Table: "R_notes", ParentIDColumn: "parent_id", IndexColumn: "idx", ValueColumn: "val"}},
		},
	})
	s, err := b.Freeze()
	require.NoError(t, err)
	return s
}

func orderSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	b.AddRecordType(schema.RecordTypeSpec{
		Name:       "Order",
		Table:      "Order",
		IDProperty: "id",
		Properties: []schema.PropertySpec{
			{Name: "id", ValueKind: schema.Number, SameTableColumn: "id", FetchedByDefault: true},
			{Name: "items", ValueKind: schema.Number, Cardinality: schema.Array, FetchedByDefault: true,
				Table: &schema.TableStorage{Table: "Order_items", ParentIDColumn: "order_id", IndexColumn: "idx", ValueColumn: "id"}},
			{Name: "itemsByStatus", ValueKind: schema.Number, Cardinality: schema.Map, FetchedByDefault: true,
				Table: &schema.TableStorage{Table: "Order_items", ParentIDColumn: "order_id", KeyColumn: "status", ValueColumn: "id"},
				Aggregate: &schema.AggregateSpec{CollectionPath: "items", Function: schema.Count}},
		},
	})
	s, err := b.Freeze()
	require.NoError(t, err)
	return s
}

func customerOrderSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	b.AddRecordType(schema.RecordTypeSpec{
		Name:       "Order",
		Table:      "Order",
		IDProperty: "id",
		Properties: []schema.PropertySpec{
			{Name: "id", ValueKind: schema.Number, SameTableColumn: "id", FetchedByDefault: true},
			{Name: "customer_id", IsReference: true, RefStorage: schema.RefColumn,
				SameTableColumn: "customer_id", TargetRecordType: "Customer"},
		},
	})
	b.AddRecordType(schema.RecordTypeSpec{
		Name:       "Customer",
		Table:      "Customer",
		IDProperty: "id",
		Properties: []schema.PropertySpec{
			{Name: "id", ValueKind: schema.Number, SameTableColumn: "id", FetchedByDefault: true},
			{Name: "orders", IsReference: true, Cardinality: schema.Array, FetchedByDefault: true,
				RefStorage: schema.RefReverse, ReverseRefProperty: "customer_id", TargetRecordType: "Order"},
		},
	})
	s, err := b.Freeze()
	require.NoError(t, err)
	return s
}

func TestCompileSimpleScalarFetch(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "R", Spec{Props: []string{"id", "name"}}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	require.Equal(PhaseMain, plan.Statements[0].Phase)
	require.Equal(`SELECT z.id AS "id", z.name AS "a$name" FROM R AS z`, plan.Statements[0].SQL)
}

func TestCompileFilterOrderRange(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "R", Spec{
		Props:  []string{"id", "name"},
		Filter: []any{[]any{"name => startsi", "Al"}},
		Order:  []string{"name => asc"},
		Range:  &RangeSpec{Offset: 10, Limit: 5},
	}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	sql := plan.Statements[0].SQL
	require.Contains(sql, `WHERE z.name COLLATE utf8_general_ci LIKE '`)
	require.Contains(sql, "Al%")
	require.Contains(sql, "ORDER BY z.name")
	require.Contains(sql, "LIMIT 10, 5")
}

// TestCompileFilterOnUnselectedProperty exercises the
// proptree.MergeUsedPaths path: "score" is never in Props, only in the
// filter, so it must still resolve to a real column instead of failing
// translation with "no SQL mapping for path score" - and it must not
// appear in the select list, since the caller never asked to fetch it.
func TestCompileFilterOnUnselectedProperty(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "R", Spec{
		Props:  []string{"id", "name"},
		Filter: []any{[]any{"score => gt", float64(10)}},
	}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	sql := plan.Statements[0].SQL
	require.Contains(sql, "WHERE z.score >")
	require.NotContains(sql, `"score"`)
	require.NotContains(sql, `z.score AS`)
}

// TestCompileOrderOnUnselectedProperty is the OrderBy-clause analogue of
// TestCompileFilterOnUnselectedProperty.
func TestCompileOrderOnUnselectedProperty(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "R", Spec{
		Props: []string{"id"},
		Order: []string{"score => desc"},
	}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	sql := plan.Statements[0].SQL
	require.Contains(sql, "ORDER BY z.score DESC")
	require.NotContains(sql, `z.score AS`)
}

func TestCompileMultiBranchWithRange(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	// "tags" and "notes" are two incompatible collection axes (neither is
	// an aggregate, so they can never share one branch): debranching
	// must split them into two main statements around a shared anchor.
	plan, err := Compile(s, "R", Spec{
		Props: []string{"id", "name", "tags", "notes"},
		Range: &RangeSpec{Offset: 0, Limit: 100},
	}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 4)
	require.Equal(PhasePre, plan.Statements[0].Phase)
	require.Contains(plan.Statements[0].SQL, "CREATE TEMPORARY TABLE")
	require.Contains(plan.Statements[0].SQL, "LIMIT 100")
	require.Equal(PhaseMain, plan.Statements[1].Phase)
	require.Equal(PhaseMain, plan.Statements[2].Phase)
	require.Equal(PhasePost, plan.Statements[3].Phase)
	require.Contains(plan.Statements[3].SQL, "DROP TABLE IF EXISTS")

	mains := plan.Statements[1].SQL + " " + plan.Statements[2].SQL
	require.Contains(mains, "R_tags")
	require.Contains(mains, "R_notes")
}

// TestCompileSingleCollectionWithRangeAnchors covers the other
// range-safety branch (spec.md §8 property 5): a single expanding
// child still can't take a direct LIMIT (row fan-out would truncate
// parents, not rows), so it goes through the same anchor-table dance
// even though debranching itself produces only one branch.
func TestCompileSingleCollectionWithRangeAnchors(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "R", Spec{
		Props: []string{"id", "name", "tags"},
		Range: &RangeSpec{Offset: 0, Limit: 100},
	}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 3)
	require.Equal(PhasePre, plan.Statements[0].Phase)
	require.Equal(PhaseMain, plan.Statements[1].Phase)
	require.Contains(plan.Statements[1].SQL, "R_tags")
	require.Equal(PhasePost, plan.Statements[2].Phase)
}

func TestCompileAggregateMapGroupsByParentAndKey(t *testing.T) {
	require := require.New(t)
	s := orderSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "Order", Spec{Props: []string{"id", "itemsByStatus"}}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	sql := plan.Statements[0].SQL
	require.Contains(sql, "COUNT(")
	require.Contains(sql, "GROUP BY z.id,")
	require.Contains(sql, ".status")
}

func TestCompileCollectionExistenceTestOnUnselectedCollection(t *testing.T) {
	require := require.New(t)
	s := orderSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "Order", Spec{
		Props:  []string{"id"},
		Filter: []any{[]any{":and", []any{[]any{"items => !empty"}}}},
	}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	sql := plan.Statements[0].SQL
	require.Contains(sql, "EXISTS (SELECT TRUE FROM Order_items")
	require.Contains(sql, "z.id =")
}

func TestCompileReverseRefFetch(t *testing.T) {
	require := require.New(t)
	s := customerOrderSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "Customer", Spec{Props: []string{"id", "orders"}}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	sql := plan.Statements[0].SQL
	require.Contains(sql, ".customer_id = z.id")
	require.NotContains(sql, "link")
}

// TestCompileNamedParam exercises spec.md §6's params argument: a
// filter's param("name") placeholder resolves against Spec.Params
// rather than against an inline literal.
func TestCompileNamedParam(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "R", Spec{
		Props:  []string{"id", "name"},
		Filter: []any{[]any{"name => eq", valueexpr.ParamRef("wantedName")}},
		Params: map[string]any{"wantedName": "Alice"},
	}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	require.Contains(plan.Statements[0].SQL, "WHERE z.name = 'Alice'")
}

// TestCompileMissingNamedParamFails proves the opposite case: a
// param("name") referenced by the filter but never supplied in
// Spec.Params surfaces as errs.ErrMissingParam instead of silently
// emitting an unresolved "?{name}" placeholder.
func TestCompileMissingNamedParamFails(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	_, err := Compile(s, "R", Spec{
		Props:  []string{"id", "name"},
		Filter: []any{[]any{"name => eq", valueexpr.ParamRef("wantedName")}},
	}, dialect)
	require.Error(err)
	require.True(errs.ErrMissingParam.Is(err))
}

func TestCompileSuperPropsOnly(t *testing.T) {
	require := require.New(t)
	s := rSchema(t)
	dialect := refmysql.New(nil)

	plan, err := Compile(s, "R", Spec{Props: []string{".count"}}, dialect)
	require.NoError(err)
	require.Len(plan.Statements, 1)
	require.Equal(PhaseSuper, plan.Statements[0].Phase)
	require.Equal(`SELECT COUNT(z.id) AS "count" FROM R AS z`, plan.Statements[0].SQL)
}
