package pgx

import (
	"context"
	"errors"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type statement struct {
	sql  string
	args []any
}

// fakeConn hands out a single scripted transaction and records every
// statement run inside it.
type fakeConn struct {
	pgxIConn
	tx *fakeTx
}

func newFakeConn() *fakeConn {
	return &fakeConn{tx: &fakeTx{skip: map[int64]bool{}, stored: map[string]int64{}}}
}

func (c *fakeConn) Begin(ctx context.Context) (pgxv5.Tx, error) {
	return c.tx, nil
}

// fakeTx answers insert ... RETURNING id with every id in $1 except those
// in skip, and registry lookups from stored.
type fakeTx struct {
	pgxv5.Tx

	skip   map[int64]bool
	stored map[string]int64
	count  int64

	statements []statement
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.statements = append(t.statements, statement{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgxv5.Rows, error) {
	t.statements = append(t.statements, statement{sql: sql, args: args})

	switch sql {
	case insertNodesSQL, insertRelationsSQL, insertSourcesSQL, insertEdgesSQL:
		var out [][]any
		for _, id := range args[0].([]int64) {
			if !t.skip[id] {
				out = append(out, []any{id})
			}
		}
		return &fakeRows{rows: out}, nil
	case nodesTable.lookupSQL, relationsTable.lookupSQL, sourcesTable.lookupSQL:
		var out [][]any
		for _, uri := range args[0].([]string) {
			if id, ok := t.stored[uri]; ok {
				out = append(out, []any{uri, id})
			}
		}
		return &fakeRows{rows: out}, nil
	}
	return nil, errors.New("unexpected query")
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgxv5.Row {
	t.statements = append(t.statements, statement{sql: sql, args: args})
	return &fakeRows{rows: [][]any{{t.count}}}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) sqls() []string {
	out := make([]string, len(t.statements))
	for i, s := range t.statements {
		out[i] = s.sql
	}
	return out
}

func (t *fakeTx) args(sql string) []any {
	for _, s := range t.statements {
		if s.sql == sql {
			return s.args
		}
	}
	return nil
}

// fakeRows serves rows of int64 or (string, int64) values. As a pgx.Row it
// scans the first row.
type fakeRows struct {
	pgxv5.Rows

	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[max(r.pos-1, 0)]
	for i, d := range dest {
		switch d := d.(type) {
		case *int64:
			*d = row[i].(int64)
		case *string:
			*d = row[i].(string)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func (r *fakeRows) Close() {}

func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
