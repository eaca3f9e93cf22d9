package pgx

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

const defaultArrayChunkSize = 50_000

// ConceptNetStore implements store.Store on PostgreSQL. Rows are written with
// unnest over array parameters, one statement per table and chunk, inside a
// single transaction per batch.
type ConceptNetStore struct {
	conn      pgxIConn
	chunkSize int
}

type ConceptNetStoreOption func(*ConceptNetStore)

// WithChunkSize bounds the number of rows sent in one array parameter.
func WithChunkSize(n int) ConceptNetStoreOption {
	return func(s *ConceptNetStore) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewConceptNetStore creates a store on an existing pool or connection. The
// schema is expected to be migrated already.
func NewConceptNetStore(conn pgxIConn, opts ...ConceptNetStoreOption) *ConceptNetStore {
	s := &ConceptNetStore{
		conn:      conn,
		chunkSize: defaultArrayChunkSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

var (
	_ store.Store    = (*ConceptNetStore)(nil)
	_ store.RunLog   = (*ConceptNetStore)(nil)
	_ store.Analyzer = (*ConceptNetStore)(nil)
)

const selectNodesSQL = `SELECT id, uri FROM nodes ORDER BY id`

const selectRelationsSQL = `SELECT id, uri, directed FROM relations ORDER BY id`

const selectSourcesSQL = `SELECT id, uri FROM sources ORDER BY id`

// Hydrate streams every registry table into regs.
func (s *ConceptNetStore) Hydrate(ctx context.Context, regs *conceptnet.Registries) error {
	if err := s.restore(ctx, selectNodesSQL, regs.Nodes, false); err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}
	if err := s.restore(ctx, selectRelationsSQL, regs.Relations, true); err != nil {
		return fmt.Errorf("failed to load relations: %w", err)
	}
	if err := s.restore(ctx, selectSourcesSQL, regs.Sources, false); err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	return nil
}

func (s *ConceptNetStore) restore(ctx context.Context, query string, reg *conceptnet.Registry, withDirected bool) error {
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e conceptnet.RegistryEntry
		if withDirected {
			var directed bool
			if err := rows.Scan(&e.ID, &e.URI, &directed); err != nil {
				return err
			}
			e.Symmetric = !directed
		} else {
			if err := rows.Scan(&e.ID, &e.URI); err != nil {
				return err
			}
		}
		reg.Restore(e)
	}
	return rows.Err()
}

func (s *ConceptNetStore) MaxEdgeID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.conn.QueryRow(ctx, `SELECT coalesce(max(id), 0) FROM edges`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read max edge id: %w", err)
	}
	return id, nil
}

func (s *ConceptNetStore) CountEdges(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn.QueryRow(ctx, `SELECT count(*) FROM edges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return n, nil
}

const statsSQL = `
SELECT
    (SELECT count(*) FROM nodes),
    (SELECT count(*) FROM relations),
    (SELECT count(*) FROM sources),
    (SELECT count(*) FROM edges),
    (SELECT count(*) FROM edges_gin),
    (SELECT count(*) FROM edge_features),
    to_regclass('ranked_features') IS NOT NULL
`

func (s *ConceptNetStore) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	var hasView bool
	err := s.conn.QueryRow(ctx, statsSQL).Scan(
		&st.Nodes,
		&st.Relations,
		&st.Sources,
		&st.Edges,
		&st.SearchDocuments,
		&st.Features,
		&hasView,
	)
	if err != nil {
		return store.Stats{}, fmt.Errorf("failed to read table stats: %w", err)
	}
	if hasView {
		if err := s.conn.QueryRow(ctx, `SELECT count(*) FROM ranked_features`).Scan(&st.RankedFeatures); err != nil {
			return store.Stats{}, fmt.Errorf("failed to count ranked features: %w", err)
		}
	}
	return st, nil
}
