// Package dbdriver specifies the database driver port (spec.md §6):
// the sole interface the compiler and executor depend on for SQL
// dialect quirks and statement execution. This is an external
// collaborator boundary — spec.md §1 puts the actual driver wiring
// out of scope — so this package only declares the contract plus the
// small amount of shared machinery (parameter placeholders) that both
// sides of the boundary must agree on.
package dbdriver

import "context"

// Dialect is the capability set spec.md §6 requires from a driver
// implementation.
type Dialect interface {
	// Literal encoders.
	SQL(v any) (string, error)
	BooleanLiteral(b bool) string
	StringLiteral(s string) string
	SafeLabel(label string) string

	// Pattern encoders for LIKE/REGEXP. SafeLikePatternFromString
	// escapes LIKE metacharacters (%, _, the escape char itself) in a
	// compile-time-known literal; the caller adds the leading/trailing
	// "%" wildcard itself before binding the result as a parameter.
	// SafeLikePatternFromExpr does the equivalent for a value only
	// known at execution time, producing a SQL expression that escapes
	// and wildcards exprSQL's runtime value in one step.
	SafeLikePatternFromString(s string) string
	SafeLikePatternFromExpr(exprSQL string, leadingWildcard, trailingWildcard bool) string
	PatternMatch(exprSQL, patternSQL string, invert, caseSensitive bool) string
	RegexpMatch(exprSQL, patternSQL string, invert, caseSensitive bool) string

	// String functions.
	StringLength(exprSQL string) string
	StringLowercase(exprSQL string) string
	StringUppercase(exprSQL string) string
	StringLeftPad(exprSQL, lengthSQL, padSQL string) string
	StringSubstring(exprSQL, fromSQL, lenSQL string) string
	NullableConcat(partsSQL ...string) string
	CastToString(exprSQL string) string
	BooleanToNull(exprSQL string) string
	Coalesce(partsSQL ...string) string

	// Range.
	MakeRangedSelect(selectSQL string, offset, limit int) string

	// Temp tables. Returns the CREATE-AS statement and the matching
	// DROP statement; the caller appends them to its pre/post lists.
	MakeSelectIntoTempTable(selectSQL, tempName string) (createSQL, dropSQL string)

	// Join builders for DELETE/UPDATE. Shared with the sibling write
	// DBOs that are out of this spec's scope (spec.md §6); a fetch-only
	// implementation may return ErrNotImplemented.
	DeleteJoinClause(fromAlias, joinAlias, onSQL string) (string, error)
	UpdateJoinClause(fromAlias, joinAlias, onSQL string) (string, error)

	// StartTransaction opens a Tx. The execution verbs live on Tx; each
	// accepts a RowHandler whose OnHeader/OnRow are optional (nil for
	// statements that produce no rows).
	StartTransaction(ctx context.Context) (Tx, error)
}

// Tx is an in-flight transaction (or an ambient connection when the
// caller supplies no explicit transaction object, per spec.md §5).
type Tx interface {
	ExecuteQuery(ctx context.Context, sql string, h RowHandler) error
	ExecuteUpdate(ctx context.Context, sql string, h RowHandler) error
	ExecuteInsert(ctx context.Context, sql string, h RowHandler) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RowHandler is the four-method callback surface spec.md §6 and §9
// describe as the only interaction points between the executor and
// the driver.
type RowHandler struct {
	OnHeader  func(fields []string) error
	OnRow     func(row []any) error
	OnSuccess func()
	OnError   func(err error)
}
