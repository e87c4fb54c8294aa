// Package refmysql is a concrete, MySQL-flavored dbdriver.Dialect
// (spec.md §6, §8 scenarios E1-E6). It is the reference implementation
// the example programs and end-to-end tests compile against: every
// literal/pattern/string-function encoder below is grounded directly
// in spec.md §8's literal expected SQL fragments rather than invented
// MySQL trivia.
package refmysql

import (
	"context"
	"strconv"
	"strings"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/errs"
)

// likeEscaper is the characters SafeLikePatternFromString escapes:
// MySQL's default LIKE escape character is backslash, and %/_ are the
// pattern metacharacters (spec.md §8 E2 "the pattern-from-string
// escapes %_\\").
var likeEscaper = strings.NewReplacer(
	`\`, `\\`,
	`%`, `\%`,
	`_`, `\_`,
)

// Dialect is the MySQL-flavored reference implementation of
// dbdriver.Dialect. It carries no state: every method is a pure string
// transform, except StartTransaction, which hands back a Tx bound to
// whatever connector the caller supplies.
type Dialect struct {
	// Connector executes resolved SQL text against a real connection.
	// The module's tests use memtx.Connector (an in-memory stand-in);
	// a production caller would supply one backed by database/sql.
	Connector Connector
}

// Connector is the minimal capability refmysql.Dialect needs to hand
// out a dbdriver.Tx: start one, against a context. Kept separate from
// dbdriver.Dialect itself so the SQL-generation half of this package
// is usable (and independently testable against spec.md §8's literal
// fragments) without any live connection at all.
type Connector interface {
	StartTransaction(ctx context.Context) (dbdriver.Tx, error)
}

// New returns a MySQL dialect backed by connector. connector may be
// nil for callers that only need SQL generation (e.g. the
// fetchcompiler/querytree test suites).
func New(connector Connector) *Dialect {
	return &Dialect{Connector: connector}
}

func (d *Dialect) SQL(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return d.StringLiteral(t), nil
	case bool:
		return d.BooleanLiteral(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return "", errs.ErrInvalidParamValue.New("value", "unsupported literal type")
	}
}

func (d *Dialect) BooleanLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// StringLiteral quotes and escapes s for use as a MySQL string
// literal: single quotes are doubled, backslashes escaped.
func (d *Dialect) StringLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return "'" + s + "'"
}

// SafeLabel quotes a markup label for use in a double-quoted column
// alias (querytree's select-list items always render "AS \"label\"").
func (d *Dialect) SafeLabel(label string) string {
	return strings.ReplaceAll(label, `"`, `""`)
}

func (d *Dialect) SafeLikePatternFromString(s string) string {
	return likeEscaper.Replace(s)
}

// SafeLikePatternFromExpr builds the run-time escaped-and-wildcarded
// pattern expression for a value only known at execution time, using
// MySQL's REPLACE chain since LIKE offers no built-in auto-escape.
func (d *Dialect) SafeLikePatternFromExpr(exprSQL string, leadingWildcard, trailingWildcard bool) string {
	escaped := "REPLACE(REPLACE(REPLACE(" + exprSQL + ", '\\\\', '\\\\\\\\'), '%', '\\\\%'), '_', '\\\\_')"
	if leadingWildcard {
		escaped = "CONCAT('%', " + escaped + ")"
	}
	if trailingWildcard {
		escaped = "CONCAT(" + escaped + ", '%')"
	}
	return escaped
}

// PatternMatch renders exprSQL LIKE patternSQL (spec.md §8 E2), adding
// a case-insensitive COLLATE clause when the match should ignore case.
// invert renders NOT LIKE instead: filter.ValueTest does not wrap
// pattern or regexp matches in "NOT (...)" itself, so negation is
// applied here (and likewise in RegexpMatch).
func (d *Dialect) PatternMatch(exprSQL, patternSQL string, invert, caseSensitive bool) string {
	op := " LIKE "
	if invert {
		op = " NOT LIKE "
	}
	if caseSensitive {
		return exprSQL + op + patternSQL
	}
	return exprSQL + " COLLATE utf8_general_ci" + op + patternSQL
}

func (d *Dialect) RegexpMatch(exprSQL, patternSQL string, invert, caseSensitive bool) string {
	op := "REGEXP"
	if invert {
		op = "NOT REGEXP"
	}
	if !caseSensitive {
		return exprSQL + " COLLATE utf8_general_ci " + op + " " + patternSQL
	}
	return exprSQL + " COLLATE utf8_bin " + op + " " + patternSQL
}

func (d *Dialect) StringLength(exprSQL string) string { return "CHAR_LENGTH(" + exprSQL + ")" }
func (d *Dialect) StringLowercase(exprSQL string) string { return "LOWER(" + exprSQL + ")" }
func (d *Dialect) StringUppercase(exprSQL string) string { return "UPPER(" + exprSQL + ")" }

func (d *Dialect) StringLeftPad(exprSQL, lengthSQL, padSQL string) string {
	return "LPAD(" + exprSQL + ", " + lengthSQL + ", " + padSQL + ")"
}

func (d *Dialect) StringSubstring(exprSQL, fromSQL, lenSQL string) string {
	return "SUBSTRING(" + exprSQL + ", " + fromSQL + ", " + lenSQL + ")"
}

func (d *Dialect) NullableConcat(partsSQL ...string) string {
	return "CONCAT_WS('', " + strings.Join(partsSQL, ", ") + ")"
}

func (d *Dialect) CastToString(exprSQL string) string {
	return "CAST(" + exprSQL + " AS CHAR)"
}

func (d *Dialect) BooleanToNull(exprSQL string) string {
	return "NULLIF(" + exprSQL + ", FALSE)"
}

func (d *Dialect) Coalesce(partsSQL ...string) string {
	return "COALESCE(" + strings.Join(partsSQL, ", ") + ")"
}

// MakeRangedSelect appends MySQL's "LIMIT offset, limit" form (spec.md
// §8 E2 "LIMIT 10, 5").
func (d *Dialect) MakeRangedSelect(selectSQL string, offset, limit int) string {
	return selectSQL + " LIMIT " + strconv.Itoa(offset) + ", " + strconv.Itoa(limit)
}

// MakeSelectIntoTempTable renders MySQL's CREATE TEMPORARY TABLE ...
// AS SELECT form (spec.md §8 E3).
func (d *Dialect) MakeSelectIntoTempTable(selectSQL, tempName string) (createSQL, dropSQL string) {
	createSQL = "CREATE TEMPORARY TABLE " + tempName + " AS " + selectSQL
	dropSQL = "DROP TABLE IF EXISTS " + tempName
	return
}

func (d *Dialect) DeleteJoinClause(fromAlias, joinAlias, onSQL string) (string, error) {
	return "", errs.ErrNotImplemented.New("DELETE ... JOIN (write-path DBOs are out of scope)")
}

func (d *Dialect) UpdateJoinClause(fromAlias, joinAlias, onSQL string) (string, error) {
	return "", errs.ErrNotImplemented.New("UPDATE ... JOIN (write-path DBOs are out of scope)")
}

func (d *Dialect) StartTransaction(ctx context.Context) (dbdriver.Tx, error) {
	if d.Connector == nil {
		return nil, errs.Driver.New("refmysql.Dialect has no Connector configured")
	}
	return d.Connector.StartTransaction(ctx)
}

var _ dbdriver.Dialect = (*Dialect)(nil)
