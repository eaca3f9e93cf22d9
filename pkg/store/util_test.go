package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
)

func TestChunkRange(t *testing.T) {
	var windows [][2]int
	err := ChunkRange(7, 3, func(start, end int) error {
		windows = append(windows, [2]int{start, end})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 7}}, windows)

	windows = nil
	require.NoError(t, ChunkRange(4, 0, func(start, end int) error {
		windows = append(windows, [2]int{start, end})
		return nil
	}))
	assert.Equal(t, [][2]int{{0, 4}}, windows)

	called := false
	require.NoError(t, ChunkRange(0, 10, func(int, int) error { called = true; return nil }))
	assert.False(t, called)

	boom := errors.New("boom")
	calls := 0
	err = ChunkRange(10, 2, func(int, int) error { calls++; return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestFilterInserted(t *testing.T) {
	edges := []conceptnet.AssembledEdge{
		{Edge: conceptnet.Edge{ID: 1}, Features: make([]conceptnet.FeatureRow, 2)},
		{Edge: conceptnet.Edge{ID: 2}, Features: make([]conceptnet.FeatureRow, 3)},
		{Edge: conceptnet.Edge{ID: 3}, Features: make([]conceptnet.FeatureRow, 1)},
	}
	kept := FilterInserted(edges, map[int64]struct{}{1: {}, 3: {}})
	require.Len(t, kept, 2)
	assert.Equal(t, int64(1), kept[0].Edge.ID)
	assert.Equal(t, int64(3), kept[1].Edge.ID)
	assert.Equal(t, 3, CountFeatures(kept))
	assert.Empty(t, FilterInserted(edges, nil))
}
