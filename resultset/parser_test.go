package resultset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLabelFlatTopLevelField(t *testing.T) {
	require := require.New(t)
	pl := parseLabel("a$name")
	require.Empty(pl.path)
	require.Equal("name", pl.field)
}

func TestParseLabelIDIsFlat(t *testing.T) {
	require := require.New(t)
	pl := parseLabel("id")
	require.Empty(pl.path)
	require.Equal("id", pl.field)
}

func TestParseLabelNestedScalarDropsOwnPositionLetter(t *testing.T) {
	require := require.New(t)
	pl := parseLabel("b$a$city")
	require.Equal([]string{"b"}, pl.path)
	require.Equal("city", pl.field)
}

func TestParseLabelCollectionValueAndKeyShareContainerPath(t *testing.T) {
	require := require.New(t)

	value := parseLabel("b$")
	require.Equal([]string{"b"}, value.path)
	require.Equal(reservedValueField, value.field)

	key := parseLabel("b$k")
	require.Equal([]string{"b"}, key.path)
	require.Equal(reservedKeyField, key.field)
}

func TestParseLabelTrimsFetchedReferenceSuffix(t *testing.T) {
	require := require.New(t)
	pl := parseLabel("a$customerId:")
	require.Empty(pl.path)
	require.Equal("customerId", pl.field)
}

func TestParserReassemblesFlatRecordWithCollection(t *testing.T) {
	require := require.New(t)

	p := NewParser("R")
	h := p.Handler()
	require.NoError(h.OnHeader([]string{"id", "a$name", "b$k", "b$"}))

	require.NoError(h.OnRow([]any{int64(1), "first", int64(0), "red"}))
	require.NoError(h.OnRow([]any{int64(1), "first", int64(1), "blue"}))
	require.NoError(h.OnRow([]any{int64(2), "second", int64(0), "green"}))
	h.OnSuccess()

	rows, err := p.Result()
	require.NoError(err)
	require.Len(rows, 2)

	require.Equal(int64(1), rows[0]["id"])
	require.Equal("first", rows[0]["name"])
	tags, ok := rows[0]["b"].([]any)
	require.True(ok)
	require.Len(tags, 2)
	require.Equal("red", tags[0].(map[string]any)["value"])
	require.Equal("blue", tags[1].(map[string]any)["value"])

	require.Equal("second", rows[1]["name"])
	tags2 := rows[1]["b"].([]any)
	require.Len(tags2, 1)
	require.Equal("green", tags2[0].(map[string]any)["value"])
}

func TestParserNestedObjectField(t *testing.T) {
	require := require.New(t)

	p := NewParser("R")
	h := p.Handler()
	require.NoError(h.OnHeader([]string{"id", "b$a$city"}))
	require.NoError(h.OnRow([]any{int64(1), "Springfield"}))
	h.OnSuccess()

	rows, err := p.Result()
	require.NoError(err)
	require.Len(rows, 1)

	nested, ok := rows[0]["b"].(map[string]any)
	require.True(ok)
	require.Equal("Springfield", nested["city"])
}

func TestParserPropagatesDriverError(t *testing.T) {
	require := require.New(t)

	p := NewParser("R")
	h := p.Handler()
	require.NoError(h.OnHeader([]string{"id"}))
	wantErr := errDriverStub{}
	h.OnError(wantErr)

	_, err := p.Result()
	require.Equal(wantErr, err)
}

type errDriverStub struct{}

func (errDriverStub) Error() string { return "stub driver error" }
