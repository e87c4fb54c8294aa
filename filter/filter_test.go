package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/schema"
	"github.com/brightloop/recfetch/valueexpr"
)

// fakeDialect is a minimal dbdriver.Dialect stand-in for rendering
// assertions; it does not need to produce runnable SQL, only
// deterministic fragments.
type fakeDialect struct{}

func (fakeDialect) SQL(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return "'" + t + "'", nil
	case nil:
		return "NULL", nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}
func (fakeDialect) BooleanLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
func (fakeDialect) StringLiteral(s string) string { return "'" + s + "'" }
func (fakeDialect) SafeLabel(label string) string { return label }
func (fakeDialect) SafeLikePatternFromString(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}
func (fakeDialect) SafeLikePatternFromExpr(exprSQL string, leading, trailing bool) string {
	return "ESCAPE(" + exprSQL + ")"
}
func (fakeDialect) PatternMatch(exprSQL, patternSQL string, invert, caseSensitive bool) string {
	op := "LIKE"
	if !caseSensitive {
		op = "COLLATE utf8_general_ci LIKE"
	}
	if invert {
		return exprSQL + " NOT " + op + " " + patternSQL
	}
	return exprSQL + " " + op + " " + patternSQL
}
func (fakeDialect) RegexpMatch(exprSQL, patternSQL string, invert, caseSensitive bool) string {
	op := "REGEXP"
	if invert {
		return exprSQL + " NOT " + op + " " + patternSQL
	}
	return exprSQL + " " + op + " " + patternSQL
}
func (fakeDialect) StringLength(e string) string                 { return "LENGTH(" + e + ")" }
func (fakeDialect) StringLowercase(e string) string               { return "LOWER(" + e + ")" }
func (fakeDialect) StringUppercase(e string) string               { return "UPPER(" + e + ")" }
func (fakeDialect) StringLeftPad(e, l, p string) string           { return "LPAD(" + e + "," + l + "," + p + ")" }
func (fakeDialect) StringSubstring(e, f, n string) string         { return "SUBSTRING(" + e + "," + f + "," + n + ")" }
func (fakeDialect) NullableConcat(parts ...string) string         { return "CONCAT(" + strings.Join(parts, ",") + ")" }
func (fakeDialect) CastToString(e string) string                  { return "CAST(" + e + " AS CHAR)" }
func (fakeDialect) BooleanToNull(e string) string                 { return e }
func (fakeDialect) Coalesce(parts ...string) string               { return "COALESCE(" + strings.Join(parts, ",") + ")" }
func (fakeDialect) MakeRangedSelect(sel string, offset, limit int) string {
	return sel + " LIMIT " + strconv.Itoa(offset) + ", " + strconv.Itoa(limit)
}
func (fakeDialect) MakeSelectIntoTempTable(sel, temp string) (string, string) {
	return "CREATE TEMPORARY TABLE " + temp + " AS " + sel, "DROP TABLE IF EXISTS " + temp
}
func (fakeDialect) DeleteJoinClause(a, b, on string) (string, error) { return "", nil }
func (fakeDialect) UpdateJoinClause(a, b, on string) (string, error) { return "", nil }
func (fakeDialect) StartTransaction(ctx context.Context) (dbdriver.Tx, error) { return nil, nil }

// fakeTC is a minimal valueexpr.TranslationContext that renders a
// property path as "z.<last-segment>" and also implements
// filter.ExistsBuilder with a fixed fragment, for testing CollectionTest.
type fakeTC struct {
	ph *dbdriver.ParamsHandler
}

func newFakeTC() *fakeTC { return &fakeTC{ph: dbdriver.NewParamsHandler(fakeDialect{})} }

func (tc *fakeTC) TranslatePropPath(absPath string) (string, error) {
	segs := strings.Split(absPath, ".")
	return "z." + segs[len(segs)-1], nil
}
func (tc *fakeTC) DBDriver() dbdriver.Dialect               { return fakeDialect{} }
func (tc *fakeTC) ParamsHandler() *dbdriver.ParamsHandler   { return tc.ph }
func (tc *fakeTC) BuildExistsSubquery(basePath string, nested Filter) (string, error) {
	return "EXISTS (SELECT TRUE FROM X AS z_a WHERE z_a.parent_id = z.id)", nil
}

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
			{Name: "items", IsObject: false, Cardinality: schema.Array, ValueKind: schema.String,
				Table: &schema.TableStorage{Table: "R_items", ParentIDColumn: "parent_id", ValueColumn: "val"}},
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

func TestJunctionEmptyIsIdentity(t *testing.T) {
	require := require.New(t)
	tc := newFakeTC()

	and := &Junction{Kind: And}
	sql, err := and.Translate(tc, noParent)
	require.NoError(err)
	require.Equal("TRUE", sql)

	or := &Junction{Kind: Or, Invert: true}
	sql, err = or.Translate(tc, noParent)
	require.NoError(err)
	require.Equal("TRUE", sql) // NOT(FALSE)
}

func TestJunctionParenthesizationMinimal(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)
	tc := newFakeTC()

	nameEq, err := Build(s, ctx, []any{[]any{"name => eq", "a"}})
	require.NoError(err)
	idEq, err := Build(s, ctx, []any{[]any{"id => eq", float64(1)}})
	require.NoError(err)

	// Same-kind child of an AND junction needs no parens.
	outer := &Junction{Kind: And, Elements: []Filter{nameEq, idEq}}
	sql, err := outer.Translate(tc, noParent)
	require.NoError(err)
	require.NotContains(sql, "(")

	// An OR child nested in an AND junction needs parens.
	orChild := &Junction{Kind: Or, Elements: []Filter{nameEq, idEq}}
	mixed := &Junction{Kind: And, Elements: []Filter{orChild, nameEq}}
	sql, err = mixed.Translate(tc, noParent)
	require.NoError(err)
	require.Contains(sql, "(")
}

func TestBuildDefaultOpIsIs(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	f, err := Build(s, ctx, []any{[]any{"name", "Alice"}})
	require.NoError(err)
	vt, ok := f.(*ValueTest)
	require.True(ok)
	require.Equal(Eq, vt.Op)
}

func TestBuildDefaultNoArgsIsPresent(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	f, err := Build(s, ctx, []any{[]any{"name"}})
	require.NoError(err)
	vt, ok := f.(*ValueTest)
	require.True(ok)
	require.Equal(Empty, vt.Op)
	require.True(vt.Invert) // present == !empty
}

func TestBuildStartsILiteralPattern(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)
	tc := newFakeTC()

	f, err := Build(s, ctx, []any{[]any{"name => startsi", "Al"}})
	require.NoError(err)
	sql, err := f.Translate(tc, noParent)
	require.NoError(err)
	require.Contains(sql, "COLLATE utf8_general_ci LIKE")
	require.Contains(sql, "?{0}")
	resolved, err := tc.ParamsHandler().Resolve(sql)
	require.NoError(err)
	require.Contains(resolved, "'Al%'")
}

func TestBuildCollectionExistenceTest(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)
	tc := newFakeTC()

	f, err := Build(s, ctx, []any{[]any{":and", []any{[]any{"items => !empty"}}}})
	require.NoError(err)
	sql, err := f.Translate(tc, noParent)
	require.NoError(err)
	require.Equal("EXISTS (SELECT TRUE FROM X AS z_a WHERE z_a.parent_id = z.id)", sql)
}

func TestBuildInOperator(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)
	tc := newFakeTC()

	f, err := Build(s, ctx, []any{[]any{"name => in", []any{"a", "b"}}})
	require.NoError(err)
	sql, err := f.Translate(tc, noParent)
	require.NoError(err)
	require.Contains(sql, "IN (")
}

func TestUnknownOperatorErrors(t *testing.T) {
	require := require.New(t)
	s := testSchema(t)
	ctx := rootCtx(t, s)

	_, err := Build(s, ctx, []any{[]any{"name => bogus", "x"}})
	require.Error(err)
}
