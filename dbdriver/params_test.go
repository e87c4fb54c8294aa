package dbdriver

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightloop/recfetch/errs"
)

// fakeDialect renders everything as its Go %v form, quoting strings -
// just enough for ParamsHandler.Resolve's SQL-encoding calls.
type fakeDialect struct{}

func (fakeDialect) SQL(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return "'" + t + "'", nil
	case nil:
		return "NULL", nil
	case int:
		return strconv.Itoa(t), nil
	default:
		return "", errs.ErrInvalidParamValue.New("?", "unsupported type")
	}
}
func (fakeDialect) BooleanLiteral(b bool) string { return "" }
func (fakeDialect) StringLiteral(s string) string { return "" }
func (fakeDialect) SafeLabel(label string) string { return label }
func (fakeDialect) SafeLikePatternFromString(s string) string           { return s }
func (fakeDialect) SafeLikePatternFromExpr(e string, l, tr bool) string { return e }
func (fakeDialect) PatternMatch(e, p string, invert, cs bool) string    { return e }
func (fakeDialect) RegexpMatch(e, p string, invert, cs bool) string     { return e }
func (fakeDialect) StringLength(e string) string                       { return e }
func (fakeDialect) StringLowercase(e string) string                    { return e }
func (fakeDialect) StringUppercase(e string) string                    { return e }
func (fakeDialect) StringLeftPad(e, l, p string) string                { return e }
func (fakeDialect) StringSubstring(e, f, n string) string              { return e }
func (fakeDialect) NullableConcat(parts ...string) string              { return "" }
func (fakeDialect) CastToString(e string) string                       { return e }
func (fakeDialect) BooleanToNull(e string) string                      { return e }
func (fakeDialect) Coalesce(parts ...string) string                    { return "" }
func (fakeDialect) MakeRangedSelect(sel string, offset, limit int) string {
	return sel
}
func (fakeDialect) MakeSelectIntoTempTable(sel, temp string) (string, string) {
	return sel, ""
}
func (fakeDialect) DeleteJoinClause(a, b, on string) (string, error) { return "", nil }
func (fakeDialect) UpdateJoinClause(a, b, on string) (string, error) { return "", nil }

func TestBindLiteralProducesDistinctAutoIncrementingKeys(t *testing.T) {
	require := require.New(t)
	h := NewParamsHandler(fakeDialect{})

	first := h.BindLiteral("a")
	second := h.BindLiteral("b")
	require.Equal("?{0}", first)
	require.Equal("?{1}", second)
}

func TestResolveSubstitutesBoundLiteralsAndNamedParams(t *testing.T) {
	require := require.New(t)
	h := NewParamsHandler(fakeDialect{})

	lit := h.BindLiteral("Alice")
	named := h.BindNamed("wantedScore")
	h.SupplyNamed("wantedScore", 10)

	out, err := h.Resolve("WHERE z.name = " + lit + " AND z.score = " + named)
	require.NoError(err)
	require.Equal("WHERE z.name = 'Alice' AND z.score = 10", out)
}

func TestResolveMissingNamedParamFails(t *testing.T) {
	require := require.New(t)
	h := NewParamsHandler(fakeDialect{})

	named := h.BindNamed("wantedScore")
	_, err := h.Resolve("WHERE z.score = " + named)
	require.Error(err)
	require.True(errs.ErrMissingParam.Is(err))
}

func TestResolveInvalidParamValueFails(t *testing.T) {
	require := require.New(t)
	h := NewParamsHandler(fakeDialect{})

	named := h.BindNamed("bad")
	h.SupplyNamed("bad", 3.14) // fakeDialect.SQL only understands string/nil/int
	_, err := h.Resolve("WHERE z.x = " + named)
	require.Error(err)
	require.True(errs.ErrInvalidParamValue.Is(err))
}

func TestReferencedNamesExcludesAnonymousLiteralKeys(t *testing.T) {
	require := require.New(t)
	h := NewParamsHandler(fakeDialect{})

	lit := h.BindLiteral("x")
	named := h.BindNamed("wantedName")
	names := h.ReferencedNames("WHERE a = " + lit + " AND b = " + named)
	require.Equal([]string{"wantedName"}, names)
}
