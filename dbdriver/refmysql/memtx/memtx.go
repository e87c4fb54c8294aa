// Package memtx is the in-memory stand-in dbdriver.Tx the module's
// tests run against: rather than a live MySQL connection, it
// plays back canned (header, rows) results registered ahead of time
// against the exact SQL text a compiled plan produces. This keeps the
// tests fully self-contained and deterministic while still
// exercising the real dbdriver.Dialect -> fetchexec -> resultset path
// end to end.
package memtx

import (
	"context"
	"strings"

	"github.com/brightloop/recfetch/dbdriver"
	"github.com/brightloop/recfetch/errs"
)

// Result is one canned (header, rows) pair handed back for a matching
// statement.
type Result struct {
	Header []string
	Rows   [][]any
}

// Script maps statement text to canned results. Matching is by exact
// text first, then by substring (so a caller can register against a
// stable fragment — a table name, say — without reproducing the
// compiler's exact alias/label choices).
type Script struct {
	exact     map[string]Result
	fragments []fragmentEntry
}

type fragmentEntry struct {
	fragment string
	result   Result
}

// NewScript returns an empty playback script.
func NewScript() *Script {
	return &Script{exact: map[string]Result{}}
}

// On registers the exact SQL text sql should return result for.
func (s *Script) On(sql string, result Result) *Script {
	s.exact[sql] = result
	return s
}

// OnContaining registers a result for the first statement whose text
// contains fragment, checked in registration order after every exact
// match has failed.
func (s *Script) OnContaining(fragment string, result Result) *Script {
	s.fragments = append(s.fragments, fragmentEntry{fragment: fragment, result: result})
	return s
}

func (s *Script) lookup(sql string) (Result, bool) {
	if r, ok := s.exact[sql]; ok {
		return r, true
	}
	for _, e := range s.fragments {
		if strings.Contains(sql, e.fragment) {
			return e.result, true
		}
	}
	return Result{}, false
}

// Connector hands out Tx instances bound to one Script. It implements
// refmysql.Connector.
type Connector struct {
	Script *Script
}

// NewConnector returns a Connector that plays back script.
func NewConnector(script *Script) *Connector {
	return &Connector{Script: script}
}

func (c *Connector) StartTransaction(ctx context.Context) (dbdriver.Tx, error) {
	return &tx{script: c.Script}, nil
}

type tx struct {
	script *Script
}

// ExecuteQuery plays back the script entry matching sql, or reports an
// errs.Driver error if nothing was registered for it (a pre/post
// statement with no rows to return should use ExecuteUpdate instead).
func (t *tx) ExecuteQuery(ctx context.Context, sql string, h dbdriver.RowHandler) error {
	result, ok := t.script.lookup(sql)
	if !ok {
		err := errs.Driver.New("memtx: no canned result registered for query: " + sql)
		if h.OnError != nil {
			h.OnError(err)
		}
		return err
	}
	if h.OnHeader != nil {
		if err := h.OnHeader(result.Header); err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			return err
		}
	}
	for _, row := range result.Rows {
		if h.OnRow != nil {
			if err := h.OnRow(row); err != nil {
				if h.OnError != nil {
					h.OnError(err)
				}
				return err
			}
		}
	}
	if h.OnSuccess != nil {
		h.OnSuccess()
	}
	return nil
}

// ExecuteUpdate is a no-op success: pre/post statements (temp-table
// create/drop) carry no rows memtx needs to play back.
func (t *tx) ExecuteUpdate(ctx context.Context, sql string, h dbdriver.RowHandler) error {
	if h.OnSuccess != nil {
		h.OnSuccess()
	}
	return nil
}

func (t *tx) ExecuteInsert(ctx context.Context, sql string, h dbdriver.RowHandler) error {
	if h.OnSuccess != nil {
		h.OnSuccess()
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error   { return nil }
func (t *tx) Rollback(ctx context.Context) error { return nil }

var _ dbdriver.Tx = (*tx)(nil)
