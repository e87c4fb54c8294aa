// Package recfetch is the engine's outward API (spec.md §6 "Query
// Specification"): it wires the Fetch Compiler (fetchcompiler, C8) and
// the Fetch Executor (fetchexec, C9) behind the single `fetch(schema,
// recordTypeName, {props, filter, order, range}, params)` entry point
// spec.md names, the way the teacher's own top-level engine.go wires
// its parser/planner/execution stages behind one NewDefault/Query
// call.
package recfetch

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/fetchcompiler"
	"github.com/brightloop/recfetch/fetchexec"
	"github.com/brightloop/recfetch/schema"
)

// Query is the query specification argument of spec.md §6's fetch()
// API. Props entries starting with "." select super-properties;
// Props defaults to ["*"] when nil, per spec.md §6 "Omitted props
// defaults to ['*']".
type Query struct {
	Props  []string
	Filter []any
	Order  []string
	Range  *fetchcompiler.RangeSpec
}

// Result is the engine's outward return value: RecordTypeName,
// Records, and the super-property values in Super (see
// fetchexec.Result).
type Result = fetchexec.Result

// Engine binds one schema and one database driver together so
// repeated Fetch calls don't need to repeat either (spec.md §5
// "Schema descriptors are shared read-only across fetches after
// finalization"). It carries no other per-call state: every Fetch
// call below builds its own property/query trees and parameter
// handler, confined to that one call (spec.md §5).
type Engine struct {
	schema  *schema.Schema
	dialect dbdriver.Dialect
	exec    *fetchexec.Executor
}

// New returns an Engine ready to compile and run fetches against s
// through dialect. log may be nil (fetchexec.New defaults it to
// logrus.StandardLogger()).
func New(s *schema.Schema, dialect dbdriver.Dialect, log *logrus.Logger) *Engine {
	return &Engine{schema: s, dialect: dialect, exec: fetchexec.New(dialect, log)}
}

// Fetch compiles query against recordType (spec.md §4.8 Fetch
// Compiler) and runs the resulting plan through the driver (spec.md
// §4.9 Fetch Executor), binding any param("name") placeholders the
// filter used against params. tx may be nil, in which case the
// executor opens and owns its own transaction whenever the compiled
// plan has more than one statement (spec.md §8 property 7).
func (e *Engine) Fetch(ctx context.Context, recordType string, query Query, params map[string]any, tx dbdriver.Tx) (*Result, error) {
	plan, err := fetchcompiler.Compile(e.schema, recordType, fetchcompiler.Spec{
		Props:  query.Props,
		Filter: query.Filter,
		Order:  query.Order,
		Range:  query.Range,
		Params: params,
	}, e.dialect)
	if err != nil {
		return nil, err
	}
	return e.exec.Run(ctx, recordType, tx, plan)
}

// Fetch is the free-function form of Engine.Fetch for one-off callers
// that don't want to hold onto an Engine (spec.md §6's fetch() is
// described as a single call, not an object with a lifecycle beyond
// the schema/driver binding spec.md §5 already requires).
func Fetch(ctx context.Context, s *schema.Schema, dialect dbdriver.Dialect, recordType string, query Query, params map[string]any, tx dbdriver.Tx) (*Result, error) {
	return New(s, dialect, nil).Fetch(ctx, recordType, query, params, tx)
}
