// Package errs defines the error taxonomy shared by every package in
// this module. Each kind corresponds to one of the propagation
// classes described in spec.md §7: schema-time validation, compile-time
// syntax, semantic misuse, driver failure, and internal invariant
// violations. All kinds are built on gopkg.in/src-d/go-errors.v1 so
// callers can test provenance with Kind.Is(err) instead of string
// matching.
package errs

import "gopkg.in/src-d/go-errors.v1"

var (
	// Schema is raised once, at schema finalization, when one of the
	// invariants in spec.md §3 is violated.
	Schema = errors.NewKind("schema error: %s")

	// SpecSyntax is raised at compile time for a malformed property
	// pattern, predicate, or order string.
	SpecSyntax = errors.NewKind("invalid query specification: %s")

	// Usage is raised for semantic misuse that is syntactically valid
	// but meaningless against the bound schema or call arguments.
	Usage = errors.NewKind("%s")

	// Driver wraps any error surfaced by the database driver during
	// execution.
	Driver = errors.NewKind("driver error: %s")

	// Internal indicates a debranching, alias-assignment, or
	// tree-combining invariant was violated. It should never escape a
	// correct implementation.
	Internal = errors.NewKind("internal error: %s")
)

// Schema-time invariant violations (spec.md §3).
var (
	ErrOptionalObjectNeedsPresenceTest = errors.NewKind("schema error: optional scalar object property %q on %q must declare a presenceTest")
	ErrIDPropertyCalculated            = errors.NewKind("schema error: id property %q on %q cannot be calculated")
	ErrReverseRefTargetInvalid         = errors.NewKind("schema error: reverse reference %q on %q must target a scalar, non-calculated reference on %q pointing back at %q")
	ErrCalculatedConflict              = errors.NewKind("schema error: calculated/aggregate property %q on %q cannot also declare %s")
	ErrNonScalarNeedsTable             = errors.NewKind("schema error: non-scalar stored property %q on %q must declare a separate table with a parent-id column")
)

// Compile-time syntax errors (spec.md §4, §5).
var (
	ErrInvalidReference  = errors.NewKind("invalid property reference %q: %s")
	ErrInvalidPattern    = errors.NewKind("invalid property pattern %q: %s")
	ErrInvalidPredicate  = errors.NewKind("invalid filter predicate %q: %s")
	ErrInvalidOrderEntry = errors.NewKind("invalid order entry %q: %s")
)

// Usage errors (spec.md §7 "UsageError").
var (
	ErrUnknownRecordType    = errors.NewKind("unknown record type %q%s")
	ErrInvalidPath          = errors.NewKind("invalid property path %q on %q%s")
	ErrWildcardNotAllowed   = errors.NewKind("wildcard pattern not allowed here (options.noWildcards)")
	ErrCalculatedNotAllowed = errors.NewKind("calculated property %q not allowed in this clause")
	ErrAggregateNotAllowed  = errors.NewKind("aggregate property %q not allowed in this clause")
	ErrScopedFilterNotAll   = errors.NewKind("scoped filter on %q not allowed outside its collection axis")
	ErrLeafObjectNotAllowed = errors.NewKind("property %q is an object/collection and cannot be a bare leaf selection")
	ErrAxisViolation        = errors.NewKind("property %q lies on a different collection axis than scope %q")
	ErrMissingParam         = errors.NewKind("missing filter parameter %q")
	ErrInvalidParamValue    = errors.NewKind("parameter %q has an invalid value: %s")
	ErrInvalidRange         = errors.NewKind("invalid range [%d,%d]: offset and limit must be >= 0")
	ErrMultiAxisScope       = errors.NewKind("scopePath %q yielded more than one debranched tree")
	ErrNotImplemented       = errors.NewKind("not implemented: %s")
)
