package pgx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

func TestRegistryColumns_DirectedIsInverseOfSymmetric(t *testing.T) {
	ids, uris, directed := registryColumns([]conceptnet.RegistryEntry{
		{ID: 1, URI: "/r/IsA"},
		{ID: 2, URI: "/r/Synonym", Symmetric: true},
	})
	assert.Equal(t, []int64{1, 2}, ids)
	assert.Equal(t, []string{"/r/IsA", "/r/Synonym"}, uris)
	assert.Equal(t, []bool{true, false}, directed)
}

func TestExistingEntries(t *testing.T) {
	entries := []conceptnet.RegistryEntry{{ID: 1, URI: "/a"}, {ID: 2, URI: "/b"}, {ID: 3, URI: "/c"}}
	got := existingEntries(entries, map[int64]struct{}{2: {}})
	assert.Equal(t, []conceptnet.RegistryEntry{{ID: 1, URI: "/a"}, {ID: 3, URI: "/c"}}, got)
}

func TestCheckRegistryConflicts(t *testing.T) {
	entries := []conceptnet.RegistryEntry{{ID: 1, URI: "/c/en/dog"}, {ID: 2, URI: "/c/en/cat"}}

	require.NoError(t, checkRegistryConflicts("nodes", entries, map[string]int64{"/c/en/dog": 1, "/c/en/cat": 2}))

	err := checkRegistryConflicts("nodes", entries, map[string]int64{"/c/en/dog": 1, "/c/en/cat": 7})
	assert.True(t, errors.Is(err, store.ErrRegistryConflict))
	assert.Contains(t, err.Error(), "/c/en/cat")

	err = checkRegistryConflicts("nodes", entries, map[string]int64{"/c/en/dog": 1})
	assert.ErrorIs(t, err, store.ErrRegistryConflict)
	assert.Contains(t, err.Error(), "taken by another uri")
}

func TestEdgeAndFeatureColumns(t *testing.T) {
	edges := []conceptnet.AssembledEdge{
		{
			Edge: conceptnet.Edge{ID: 10, URI: "/a/1", RelationID: 1, StartID: 2, EndID: 3, Weight: 0.5, Data: []byte(`{"a":1}`)},
			Features: []conceptnet.FeatureRow{
				{RelationID: 1, Direction: conceptnet.DirectionForward, NodeID: 2, EdgeID: 10},
				{RelationID: 1, Direction: conceptnet.DirectionBackward, NodeID: 3, EdgeID: 10},
			},
		},
		{
			Edge: conceptnet.Edge{ID: 11, URI: "/a/2", RelationID: 4, StartID: 5, EndID: 6, Weight: 1, Data: []byte(`{}`)},
			Features: []conceptnet.FeatureRow{
				{RelationID: 4, Direction: conceptnet.DirectionSymmetric, NodeID: 5, EdgeID: 11},
			},
		},
	}

	ec := edgeColumnsOf(edges)
	assert.Equal(t, []int64{10, 11}, ec.ids)
	assert.Equal(t, []string{"/a/1", "/a/2"}, ec.uris)
	assert.Equal(t, []int64{1, 4}, ec.relationIDs)
	assert.Equal(t, []int64{2, 5}, ec.startIDs)
	assert.Equal(t, []int64{3, 6}, ec.endIDs)
	assert.Equal(t, []float64{0.5, 1}, ec.weights)
	assert.Equal(t, []string{`{"a":1}`, `{}`}, ec.data)

	fc := featureColumnsOf(edges)
	assert.Equal(t, []int64{1, 1, 4}, fc.relationIDs)
	assert.Equal(t, []int16{1, -1, 0}, fc.directions)
	assert.Equal(t, []int64{2, 3, 5}, fc.nodeIDs)
	assert.Equal(t, []int64{10, 10, 11}, fc.edgeIDs)
}

func TestNewConceptNetStore_Options(t *testing.T) {
	s := NewConceptNetStore(nil, WithChunkSize(100), nil)
	assert.Equal(t, 100, s.chunkSize)

	s = NewConceptNetStore(nil, WithChunkSize(0))
	assert.Equal(t, defaultArrayChunkSize, s.chunkSize)
}

func testBatch() store.Batch {
	return store.Batch{
		Nodes: []conceptnet.RegistryEntry{{ID: 2, URI: "/c/en/dog"}, {ID: 3, URI: "/c/en/animal"}},
		Relations: []conceptnet.RegistryEntry{
			{ID: 1, URI: "/r/IsA"},
			{ID: 4, URI: "/r/Synonym", Symmetric: true},
		},
		Edges: []conceptnet.AssembledEdge{
			{
				Edge:   conceptnet.Edge{ID: 10, URI: "/a/1", RelationID: 1, StartID: 2, EndID: 3, Weight: 1, Data: []byte(`{}`)},
				Search: conceptnet.SearchDocument{EdgeID: 10, Weight: 1, Data: []byte(`{"rel":["/r/IsA"]}`)},
				Features: []conceptnet.FeatureRow{
					{RelationID: 1, Direction: conceptnet.DirectionForward, NodeID: 2, EdgeID: 10},
					{RelationID: 1, Direction: conceptnet.DirectionBackward, NodeID: 3, EdgeID: 10},
				},
			},
			{
				Edge:   conceptnet.Edge{ID: 11, URI: "/a/2", RelationID: 4, StartID: 2, EndID: 3, Weight: 2, Data: []byte(`{}`)},
				Search: conceptnet.SearchDocument{EdgeID: 11, Weight: 2, Data: []byte(`{"rel":["/r/Synonym"]}`)},
				Features: []conceptnet.FeatureRow{
					{RelationID: 4, Direction: conceptnet.DirectionSymmetric, NodeID: 2, EdgeID: 11},
				},
			},
		},
	}
}

func TestWriteBatch_StatementOrderAndSkippedEdges(t *testing.T) {
	conn := newFakeConn()
	conn.tx.skip[11] = true

	res, err := NewConceptNetStore(conn).WriteBatch(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, []string{
		insertNodesSQL,
		insertRelationsSQL,
		insertEdgesSQL,
		insertSearchDocumentsSQL,
		insertFeaturesSQL,
	}, conn.tx.sqls())
	assert.True(t, conn.tx.committed)

	// directed is stored as the inverse of the symmetric flag.
	assert.Equal(t, []bool{true, false}, conn.tx.args(insertRelationsSQL)[2])
	assert.Len(t, conn.tx.args(insertNodesSQL), 2)

	// Only the inserted edge gets a search document and feature rows.
	assert.Equal(t, []int64{10}, conn.tx.args(insertSearchDocumentsSQL)[0])
	assert.Equal(t, []string{`{"rel":["/r/IsA"]}`}, conn.tx.args(insertSearchDocumentsSQL)[2])
	assert.Equal(t, []int64{10, 10}, conn.tx.args(insertFeaturesSQL)[3])
	assert.Equal(t, []int16{1, -1}, conn.tx.args(insertFeaturesSQL)[1])

	assert.Equal(t, store.BatchResult{
		Nodes:           2,
		Relations:       2,
		Edges:           1,
		SkippedEdges:    1,
		SearchDocuments: 1,
		Features:        2,
	}, res)
}

func TestWriteBatch_ExistingRegistryEntries(t *testing.T) {
	conn := newFakeConn()
	conn.tx.skip[2] = true
	conn.tx.stored["/c/en/dog"] = 2

	res, err := NewConceptNetStore(conn).WriteBatch(context.Background(), testBatch())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Nodes)
	assert.Equal(t, nodesTable.lookupSQL, conn.tx.sqls()[1])
	assert.Equal(t, []string{"/c/en/dog"}, conn.tx.args(nodesTable.lookupSQL)[0])
	assert.True(t, conn.tx.committed)
}

func TestWriteBatch_RegistryConflictRollsBack(t *testing.T) {
	conn := newFakeConn()
	conn.tx.skip[2] = true
	conn.tx.stored["/c/en/dog"] = 7

	_, err := NewConceptNetStore(conn).WriteBatch(context.Background(), testBatch())
	require.ErrorIs(t, err, store.ErrRegistryConflict)
	assert.False(t, conn.tx.committed)
	assert.True(t, conn.tx.rolledBack)
	assert.NotContains(t, conn.tx.sqls(), insertEdgesSQL)
}

func TestWriteBatch_ChunksArrays(t *testing.T) {
	conn := newFakeConn()
	_, err := NewConceptNetStore(conn, WithChunkSize(1)).WriteBatch(context.Background(), testBatch())
	require.NoError(t, err)

	var features int
	for _, sql := range conn.tx.sqls() {
		if sql == insertFeaturesSQL {
			features++
		}
	}
	assert.Equal(t, 3, features)
}

func TestWriteBatch_EmptyBatchSkipsTransaction(t *testing.T) {
	conn := newFakeConn()
	res, err := NewConceptNetStore(conn).WriteBatch(context.Background(), store.Batch{})
	require.NoError(t, err)
	assert.Equal(t, store.BatchResult{}, res)
	assert.Empty(t, conn.tx.statements)
	assert.False(t, conn.tx.committed)
}

func TestBuildRankedFeatures(t *testing.T) {
	conn := newFakeConn()
	conn.tx.count = 42

	n, err := NewConceptNetStore(conn).BuildRankedFeatures(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	want := append(append([]string{}, buildRankedFeaturesSQL...), `SELECT count(*) FROM ranked_features`)
	assert.Equal(t, want, conn.tx.sqls())
	assert.Contains(t, buildRankedFeaturesSQL[1], "ORDER BY e.weight DESC, ef.edge_id ASC")
	assert.True(t, conn.tx.committed)
}
