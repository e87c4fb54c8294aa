package proptree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	b.AddRecordType(schema.RecordTypeSpec{
		Name:       "R",
		Table:      "R",
		IDProperty: "id",
		Properties: []schema.PropertySpec{
			{Name: "id", ValueKind: schema.Number, SameTableColumn: "id", FetchedByDefault: true},
			{Name: "name", ValueKind: schema.String, SameTableColumn: "name", FetchedByDefault: true},
			{Name: "tags", Cardinality: schema.Array, ValueKind: schema.String, FetchedByDefault: true,
				Table: &schema.TableStorage{Table: "R_tags", ParentIDColumn: "parent_id", ValueColumn: "val"}},
			{Name: "notes", Cardinality: schema.Array, ValueKind: schema.String, FetchedByDefault: true,
				Table: &schema.TableStorage{Table: "R_notes", ParentIDColumn: "parent_id", ValueColumn: "val"}},
		},
	})
	s, err := b.Freeze()
	require.NoError(t, err)
	return s
}

func rootCtx(t *testing.T, s *schema.Schema) *valueexpr.Context {
	t.Helper()
	ctx, err := valueexpr.NewRootContext(s, "R")
	require.NoError(t, err)
	return ctx
}

func TestBuildSimplePattern(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	tree, err := Build(s, "R", ctx, Select, []string{"name"}, Options{})
	require.NoError(err)
	require.Len(tree.Children, 1)
	require.Equal("name", tree.Children[0].Name)
}

func TestBuildWildcardExpandsDefaultFetched(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	tree, err := Build(s, "R", ctx, Select, []string{"*"}, Options{})
	require.NoError(err)
	names := map[string]bool{}
	for _, c := range tree.Children {
		names[c.Name] = true
	}
	require.True(names["id"])
	require.True(names["name"])
	require.True(names["tags"])
	require.True(names["notes"])
}

func TestBuildWildcardHonorsExclusion(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	tree, err := Build(s, "R", ctx, Select, []string{"*", "-tags"}, Options{})
	require.NoError(err)
	for _, c := range tree.Children {
		require.NotEqual("tags", c.Name)
	}
}

func TestBuildWildcardForbidden(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	_, err := Build(s, "R", ctx, Select, []string{"*"}, Options{NoWildcards: true})
	require.Error(err)
}

func TestDebranchMultiBranch(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	tree, err := Build(s, "R", ctx, Select, []string{"*"}, Options{})
	require.NoError(err)

	branches, err := Debranch(tree)
	require.NoError(err)
	require.Len(branches, 2) // "tags" and "notes" are incompatible collection axes

	for _, b := range branches {
		expandingCount := 0
		for _, c := range b.Children {
			if c.IsExpanding() {
				expandingCount++
			}
		}
		require.LessOrEqual(expandingCount, 1)
	}
}

func TestDebranchSingleBranchWhenNoCollection(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	tree, err := Build(s, "R", ctx, Select, []string{"id", "name"}, Options{})
	require.NoError(err)

	branches, err := Debranch(tree)
	require.NoError(err)
	require.Len(branches, 1)
}

func TestCheckScopeRejectsMultiAxisBranches(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	tree, err := Build(s, "R", ctx, Select, []string{"*"}, Options{})
	require.NoError(err)
	branches, err := Debranch(tree)
	require.NoError(err)
	require.Len(branches, 2)

	_, err = CheckScope(branches, "tags")
	require.Error(err)
}

func TestCheckScopeAcceptsSingleBranch(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	tree, err := Build(s, "R", ctx, Select, []string{"tags"}, Options{})
	require.NoError(err)
	branches, err := Debranch(tree)
	require.NoError(err)
	require.Len(branches, 1)

	got, err := CheckScope(branches, "tags")
	require.NoError(err)
	require.Same(branches[0], got)
}

// nestedAxisSchema models an array-of-objects ("items") whose own
// container has a further nested array ("items.tags") - a valid
// schema-legal chain on one collection axis (schema/validate.go
// recurses into an object property's container regardless of
// cardinality).
func nestedAxisSchema(t *testing.T) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder()
	b.AddRecordType(schema.RecordTypeSpec{
		Name:       "N",
		Table:      "N",
		IDProperty: "id",
		Properties: []schema.PropertySpec{
			{Name: "id", ValueKind: schema.Number, SameTableColumn: "id", FetchedByDefault: true},
			{Name: "items", IsObject: true, Cardinality: schema.Array, FetchedByDefault: true,
				Table: &schema.TableStorage{Table: "N_items", ParentIDColumn: "parent_id"},
				Properties: []schema.PropertySpec{
					{Name: "id", ValueKind: schema.Number, SameTableColumn: "id"},
					{Name: "label", ValueKind: schema.String, SameTableColumn: "label", FetchedByDefault: true},
					{Name: "tags", Cardinality: schema.Array, ValueKind: schema.String, FetchedByDefault: true,
						Table: &schema.TableStorage{Table: "N_items_tags", ParentIDColumn: "parent_id", ValueColumn: "val"}},
				}},
		},
	})
	s, err := b.Freeze()
	require.NoError(t, err)
	return s
}

func TestDebranchKeepsNestedAxisCollectionsInOneBranch(t *testing.T) {
	require := require.New(t)
	s := nestedAxisSchema(t)
	ctx := rootCtx(t, s)

	tree, err := Build(s, "N", ctx, Select, []string{"items.label", "items.tags"}, Options{})
	require.NoError(err)

	branches, err := Debranch(tree)
	require.NoError(err)
	require.Len(branches, 1, "items and items.tags share one collection axis and must not split")

	items, ok := branches[0].child("items")
	require.True(ok, "items must survive debranching")
	tags, ok := items.child("tags")
	require.True(ok, "items.tags must survive debranching alongside its ancestor")
	require.Equal("tags", tags.Name)
}
