package pgx

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

const insertNodesSQL = `
INSERT INTO nodes (id, uri)
SELECT * FROM unnest($1::bigint[], $2::text[])
ON CONFLICT DO NOTHING
RETURNING id
`

const insertRelationsSQL = `
INSERT INTO relations (id, uri, directed)
SELECT * FROM unnest($1::bigint[], $2::text[], $3::boolean[])
ON CONFLICT DO NOTHING
RETURNING id
`

const insertSourcesSQL = `
INSERT INTO sources (id, uri)
SELECT * FROM unnest($1::bigint[], $2::text[])
ON CONFLICT DO NOTHING
RETURNING id
`

const insertEdgesSQL = `
INSERT INTO edges (id, uri, relation_id, start_id, end_id, weight, data)
SELECT id, uri, relation_id, start_id, end_id, weight, data::jsonb
FROM unnest($1::bigint[], $2::text[], $3::bigint[], $4::bigint[], $5::bigint[], $6::double precision[], $7::text[])
    AS t(id, uri, relation_id, start_id, end_id, weight, data)
ON CONFLICT (uri) DO NOTHING
RETURNING id
`

const insertSearchDocumentsSQL = `
INSERT INTO edges_gin (edge_id, weight, data)
SELECT edge_id, weight, data::jsonb
FROM unnest($1::bigint[], $2::double precision[], $3::text[]) AS t(edge_id, weight, data)
`

const insertFeaturesSQL = `
INSERT INTO edge_features (rel_id, direction, node_id, edge_id)
SELECT * FROM unnest($1::bigint[], $2::smallint[], $3::bigint[], $4::bigint[])
`

// registryTable names the SQL of one registry table.
type registryTable struct {
	name      string
	insertSQL string
	lookupSQL string
	directed  bool
}

var (
	nodesTable = registryTable{
		name:      "nodes",
		insertSQL: insertNodesSQL,
		lookupSQL: `SELECT uri, id FROM nodes WHERE uri = ANY($1::text[])`,
	}
	relationsTable = registryTable{
		name:      "relations",
		insertSQL: insertRelationsSQL,
		lookupSQL: `SELECT uri, id FROM relations WHERE uri = ANY($1::text[])`,
		directed:  true,
	}
	sourcesTable = registryTable{
		name:      "sources",
		insertSQL: insertSourcesSQL,
		lookupSQL: `SELECT uri, id FROM sources WHERE uri = ANY($1::text[])`,
	}
)

// WriteBatch writes registry entries, then edges, then the search documents
// and feature rows of the edges that were actually inserted, all in one
// transaction.
func (s *ConceptNetStore) WriteBatch(ctx context.Context, b store.Batch) (store.BatchResult, error) {
	var res store.BatchResult
	if b.Empty() {
		return res, nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if res.Nodes, err = s.writeRegistry(ctx, tx, nodesTable, b.Nodes); err != nil {
		return store.BatchResult{}, err
	}
	if res.Relations, err = s.writeRegistry(ctx, tx, relationsTable, b.Relations); err != nil {
		return store.BatchResult{}, err
	}
	if res.Sources, err = s.writeRegistry(ctx, tx, sourcesTable, b.Sources); err != nil {
		return store.BatchResult{}, err
	}

	inserted, err := s.writeEdges(ctx, tx, b.Edges)
	if err != nil {
		return store.BatchResult{}, err
	}
	kept := store.FilterInserted(b.Edges, inserted)

	if err := s.writeSearchDocuments(ctx, tx, kept); err != nil {
		return store.BatchResult{}, err
	}
	features, err := s.writeFeatures(ctx, tx, kept)
	if err != nil {
		return store.BatchResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return store.BatchResult{}, fmt.Errorf("failed to commit batch: %w", err)
	}

	res.Edges = int64(len(kept))
	res.SkippedEdges = int64(len(b.Edges) - len(kept))
	res.SearchDocuments = int64(len(kept))
	res.Features = features
	return res, nil
}

func (s *ConceptNetStore) writeRegistry(
	ctx context.Context,
	tx pgxv5.Tx,
	table registryTable,
	entries []conceptnet.RegistryEntry,
) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	var inserted int64
	err := store.ChunkRange(len(entries), s.chunkSize, func(start, end int) error {
		chunk := entries[start:end]
		ids, uris, directed := registryColumns(chunk)

		args := []any{ids, uris}
		if table.directed {
			args = append(args, directed)
		}
		got, err := collectIDs(ctx, tx, table.insertSQL, args...)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", table.name, err)
		}
		inserted += int64(len(got))

		if len(got) == len(chunk) {
			return nil
		}
		existing := existingEntries(chunk, got)
		stored, err := lookupIDs(ctx, tx, table.lookupSQL, existing)
		if err != nil {
			return fmt.Errorf("failed to look up existing %s: %w", table.name, err)
		}
		return checkRegistryConflicts(table.name, existing, stored)
	})
	return inserted, err
}

func (s *ConceptNetStore) writeEdges(
	ctx context.Context,
	tx pgxv5.Tx,
	edges []conceptnet.AssembledEdge,
) (map[int64]struct{}, error) {
	inserted := make(map[int64]struct{}, len(edges))
	err := store.ChunkRange(len(edges), s.chunkSize, func(start, end int) error {
		cols := edgeColumnsOf(edges[start:end])
		got, err := collectIDs(ctx, tx, insertEdgesSQL,
			cols.ids, cols.uris, cols.relationIDs, cols.startIDs, cols.endIDs, cols.weights, cols.data)
		if err != nil {
			return fmt.Errorf("failed to insert edges: %w", err)
		}
		for id := range got {
			inserted[id] = struct{}{}
		}
		return nil
	})
	return inserted, err
}

func (s *ConceptNetStore) writeSearchDocuments(ctx context.Context, tx pgxv5.Tx, edges []conceptnet.AssembledEdge) error {
	return store.ChunkRange(len(edges), s.chunkSize, func(start, end int) error {
		chunk := edges[start:end]
		ids := make([]int64, len(chunk))
		weights := make([]float64, len(chunk))
		data := make([]string, len(chunk))
		for i, e := range chunk {
			ids[i] = e.Search.EdgeID
			weights[i] = e.Search.Weight
			data[i] = string(e.Search.Data)
		}
		if _, err := tx.Exec(ctx, insertSearchDocumentsSQL, ids, weights, data); err != nil {
			return fmt.Errorf("failed to insert search documents: %w", err)
		}
		return nil
	})
}

func (s *ConceptNetStore) writeFeatures(ctx context.Context, tx pgxv5.Tx, edges []conceptnet.AssembledEdge) (int64, error) {
	cols := featureColumnsOf(edges)
	err := store.ChunkRange(len(cols.edgeIDs), s.chunkSize, func(start, end int) error {
		_, err := tx.Exec(ctx, insertFeaturesSQL,
			cols.relationIDs[start:end],
			cols.directions[start:end],
			cols.nodeIDs[start:end],
			cols.edgeIDs[start:end],
		)
		if err != nil {
			return fmt.Errorf("failed to insert edge features: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(len(cols.edgeIDs)), nil
}

func collectIDs(ctx context.Context, tx pgxv5.Tx, query string, args ...any) (map[int64]struct{}, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgxv5.CollectRows(rows, pgxv5.RowTo[int64])
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func lookupIDs(ctx context.Context, tx pgxv5.Tx, query string, entries []conceptnet.RegistryEntry) (map[string]int64, error) {
	uris := make([]string, len(entries))
	for i, e := range entries {
		uris[i] = e.URI
	}
	rows, err := tx.Query(ctx, query, uris)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64, len(entries))
	for rows.Next() {
		var uri string
		var id int64
		if err := rows.Scan(&uri, &id); err != nil {
			return nil, err
		}
		out[uri] = id
	}
	return out, rows.Err()
}

func registryColumns(entries []conceptnet.RegistryEntry) ([]int64, []string, []bool) {
	ids := make([]int64, len(entries))
	uris := make([]string, len(entries))
	directed := make([]bool, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		uris[i] = e.URI
		directed[i] = !e.Symmetric
	}
	return ids, uris, directed
}

// existingEntries returns the entries whose IDs were not inserted.
func existingEntries(entries []conceptnet.RegistryEntry, inserted map[int64]struct{}) []conceptnet.RegistryEntry {
	out := make([]conceptnet.RegistryEntry, 0, len(entries)-len(inserted))
	for _, e := range entries {
		if _, ok := inserted[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return out
}

// checkRegistryConflicts verifies that every entry that was not inserted is
// already stored under the same ID. A missing URI means the ID itself was
// taken by another URI.
func checkRegistryConflicts(table string, entries []conceptnet.RegistryEntry, stored map[string]int64) error {
	for _, e := range entries {
		id, ok := stored[e.URI]
		if !ok {
			return fmt.Errorf("%w: %s id %d for %q is taken by another uri", store.ErrRegistryConflict, table, e.ID, e.URI)
		}
		if id != e.ID {
			return fmt.Errorf("%w: %s %q is stored with id %d, batch has %d", store.ErrRegistryConflict, table, e.URI, id, e.ID)
		}
	}
	return nil
}

type edgeColumns struct {
	ids         []int64
	uris        []string
	relationIDs []int64
	startIDs    []int64
	endIDs      []int64
	weights     []float64
	data        []string
}

func edgeColumnsOf(edges []conceptnet.AssembledEdge) edgeColumns {
	n := len(edges)
	cols := edgeColumns{
		ids:         make([]int64, n),
		uris:        make([]string, n),
		relationIDs: make([]int64, n),
		startIDs:    make([]int64, n),
		endIDs:      make([]int64, n),
		weights:     make([]float64, n),
		data:        make([]string, n),
	}
	for i, ae := range edges {
		e := ae.Edge
		cols.ids[i] = e.ID
		cols.uris[i] = e.URI
		cols.relationIDs[i] = e.RelationID
		cols.startIDs[i] = e.StartID
		cols.endIDs[i] = e.EndID
		cols.weights[i] = e.Weight
		cols.data[i] = string(e.Data)
	}
	return cols
}

type featureColumns struct {
	relationIDs []int64
	directions  []int16
	nodeIDs     []int64
	edgeIDs     []int64
}

func featureColumnsOf(edges []conceptnet.AssembledEdge) featureColumns {
	n := store.CountFeatures(edges)
	cols := featureColumns{
		relationIDs: make([]int64, 0, n),
		directions:  make([]int16, 0, n),
		nodeIDs:     make([]int64, 0, n),
		edgeIDs:     make([]int64, 0, n),
	}
	for _, e := range edges {
		for _, f := range e.Features {
			cols.relationIDs = append(cols.relationIDs, f.RelationID)
			cols.directions = append(cols.directions, int16(f.Direction))
			cols.nodeIDs = append(cols.nodeIDs, f.NodeID)
			cols.edgeIDs = append(cols.edgeIDs, f.EdgeID)
		}
	}
	return cols
}
