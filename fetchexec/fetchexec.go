// Package fetchexec implements the Fetch Executor (C9, spec.md §4.9):
// it chains the pre-statements, super-property queries, main queries
// and post-statements a fetchcompiler.Plan describes through the
// database driver (spec.md §6 dbdriver.Dialect), feeds each row to a
// resultset.Parser, and assembles the final result object.
package fetchexec

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	uuid "github.com/satori/go.uuid"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/errs"
	"github.com/brightloop/recfetch/fetchcompiler"
	"github.com/brightloop/recfetch/resultset"
)

// Executor runs a compiled Plan against one dbdriver.Dialect (spec.md
// §6). It is stateless and safe to share across concurrent fetches:
// all per-fetch state (the plan, the transaction, the parsers) lives
// in the Run call, never on the Executor itself (spec.md §5 "the
// compiler and its data structures... are confined to one fetch").
type Executor struct {
	dialect dbdriver.Dialect
	log     *logrus.Logger
}

// New returns an Executor bound to dialect. log may be nil, in which
// case logrus.StandardLogger() is used.
func New(dialect dbdriver.Dialect, log *logrus.Logger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{dialect: dialect, log: log}
}

// Result is the engine's outward return value (spec.md §6 "Query
// Specification"): RecordTypeName, Records holding the reassembled
// record graph when any ordinary properties were requested, and Super
// holding the requested super-property values keyed by property name
// (e.g. "count"). There is no separate field for referred records.
type Result struct {
	RecordTypeName string
	Records        []map[string]any
	Super          map[string]any
}

// Run executes plan (spec.md §4.9): it wraps a transaction when tx is
// nil and the plan has more than one statement (spec.md §8 property
// 7), runs every phase strictly in order - super, pre, main, post -
// and guarantees post-statements run on both the success and the
// error path (spec.md §7 "Post-statements are still attempted for
// cleanup"). The first error observed anywhere is the one returned;
// partial results are never returned (spec.md §7).
func (e *Executor) Run(ctx context.Context, recordType string, tx dbdriver.Tx, plan *fetchcompiler.Plan) (*Result, error) {
	fetchID := uuid.NewV4().String()
	log := e.log.WithFields(logrus.Fields{"fetch_id": fetchID, "record_type": recordType})

	span, ctx := opentracing.StartSpanFromContext(ctx, "fetchexec.Run")
	defer span.Finish()

	ownsTx := tx == nil && len(plan.Statements) > 1
	if tx == nil {
		var err error
		tx, err = e.startTransaction(ctx, log, fetchID, ownsTx)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{RecordTypeName: recordType, Super: map[string]any{}}
	var branchParsers []*resultset.Parser

	runErr := e.runPhases(ctx, log, fetchID, tx, plan, result, &branchParsers)

	postErr := e.runPost(ctx, log, fetchID, tx, plan)
	if runErr == nil {
		runErr = postErr
	}

	if ownsTx {
		if runErr != nil {
			log.WithField("phase", "rollback").Debug("rolling back owned transaction")
			_ = tx.Rollback(ctx)
		} else {
			log.WithField("phase", "commit").Debug("committing owned transaction")
			if err := tx.Commit(ctx); err != nil {
				return nil, errs.Driver.New(err.Error())
			}
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	if err := mergeBranches(result, branchParsers); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) startTransaction(ctx context.Context, log *logrus.Entry, fetchID string, ownsTx bool) (dbdriver.Tx, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "fetchexec.tx")
	defer span.Finish()
	log.WithField("phase", "tx-start").WithField("owns_tx", ownsTx).Debug("starting transaction")
	tx, err := e.dialect.StartTransaction(ctx)
	if err != nil {
		return nil, errs.Driver.New(err.Error())
	}
	return tx, nil
}

func (e *Executor) runPhases(ctx context.Context, log *logrus.Entry, fetchID string, tx dbdriver.Tx, plan *fetchcompiler.Plan, result *Result, branchParsers *[]*resultset.Parser) error {
	for i, stmt := range plan.Statements {
		if stmt.Phase == fetchcompiler.PhasePost {
			continue // post-statements always run separately, in runPost.
		}
		if err := e.runOne(ctx, log, fetchID, tx, i, stmt, result, branchParsers); err != nil {
			log.WithFields(logrus.Fields{"phase": phaseName(stmt.Phase), "stmt_index": i}).
				Warn("driver error short-circuited fetch phase")
			return err
		}
	}
	return nil
}

func (e *Executor) runOne(ctx context.Context, log *logrus.Entry, fetchID string, tx dbdriver.Tx, idx int, stmt fetchcompiler.Statement, result *Result, branchParsers *[]*resultset.Parser) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, fmt.Sprintf("stmt:%d", idx))
	defer span.Finish()
	log.WithFields(logrus.Fields{"phase": phaseName(stmt.Phase), "stmt_index": idx}).Debug("executing statement")

	if stmt.Phase == fetchcompiler.PhasePre {
		return tx.ExecuteUpdate(ctx, stmt.SQL, dbdriver.RowHandler{})
	}

	parser := resultset.NewParser(stmt.RecordTypeName)
	if err := tx.ExecuteQuery(ctx, stmt.SQL, parser.Handler()); err != nil {
		return errs.Driver.New(err.Error())
	}
	switch stmt.Phase {
	case fetchcompiler.PhaseSuper:
		rows, err := parser.Result()
		if err != nil {
			return err
		}
		mergeSuper(result, rows)
	case fetchcompiler.PhaseMain:
		*branchParsers = append(*branchParsers, parser)
	}
	return nil
}

// runPost always attempts every post-statement (best effort, per
// spec.md §7), regardless of whether an earlier phase already failed.
// Its own errors are swallowed except as a log line: the original
// phase error (if any) is what the caller surfaces, matching "the
// final error is the first one observed" (spec.md §5).
func (e *Executor) runPost(ctx context.Context, log *logrus.Entry, fetchID string, tx dbdriver.Tx, plan *fetchcompiler.Plan) error {
	var firstErr error
	for i, stmt := range plan.Statements {
		if stmt.Phase != fetchcompiler.PhasePost {
			continue
		}
		span, sctx := opentracing.StartSpanFromContext(ctx, fmt.Sprintf("stmt:%d", i))
		log.WithFields(logrus.Fields{"phase": "post", "stmt_index": i}).Debug("running post-statement cleanup")
		if err := tx.ExecuteUpdate(sctx, stmt.SQL, dbdriver.RowHandler{}); err != nil {
			log.WithFields(logrus.Fields{"phase": "post", "stmt_index": i}).Warn("post-statement cleanup failed: " + err.Error())
			if firstErr == nil {
				firstErr = errs.Driver.New(err.Error())
			}
		}
		span.Finish()
	}
	return firstErr
}

func mergeSuper(result *Result, rows []map[string]any) {
	if len(rows) == 0 {
		return
	}
	for k, v := range rows[0] {
		result.Super[k] = v
	}
}

// mergeBranches implements spec.md §4.9 "Multiple parsers (one per
// branch) are merged at the end.": each branch covers a disjoint
// collection axis (proptree.Debranch's single-axis guarantee), so
// merging is a per-id deep union rather than a join.
func mergeBranches(result *Result, parsers []*resultset.Parser) error {
	if len(parsers) == 0 {
		return nil
	}
	order := []string{}
	byID := map[string]map[string]any{}
	for _, p := range parsers {
		rows, err := p.Result()
		if err != nil {
			return err
		}
		for _, row := range rows {
			id := fmt.Sprint(row["id"])
			existing, ok := byID[id]
			if !ok {
				byID[id] = row
				order = append(order, id)
				continue
			}
			deepMerge(existing, row)
		}
	}
	result.Records = make([]map[string]any, len(order))
	for i, id := range order {
		result.Records[i] = byID[id]
	}
	return nil
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		existingMap, existingIsMap := existing.(map[string]any)
		srcMap, srcIsMap := v.(map[string]any)
		if existingIsMap && srcIsMap {
			deepMerge(existingMap, srcMap)
		}
		// scalar/slice fields present in both branches are assumed
		// identical (non-expanding properties are copied into every
		// branch verbatim, spec.md §4.5 step 5); first value wins.
	}
}

func phaseName(p fetchcompiler.Phase) string {
	switch p {
	case fetchcompiler.PhaseSuper:
		return "super"
	case fetchcompiler.PhasePre:
		return "pre"
	case fetchcompiler.PhaseMain:
		return "main"
	case fetchcompiler.PhasePost:
		return "post"
	default:
		return "unknown"
	}
}
