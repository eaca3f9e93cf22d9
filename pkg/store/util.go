package store

import "github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize covering [0, total).
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// FilterInserted returns the edges whose IDs are in inserted, preserving order.
func FilterInserted(edges []conceptnet.AssembledEdge, inserted map[int64]struct{}) []conceptnet.AssembledEdge {
	out := make([]conceptnet.AssembledEdge, 0, len(inserted))
	for _, e := range edges {
		if _, ok := inserted[e.Edge.ID]; ok {
			out = append(out, e)
		}
	}
	return out
}

// CountFeatures returns the total number of feature rows carried by edges.
func CountFeatures(edges []conceptnet.AssembledEdge) int {
	n := 0
	for _, e := range edges {
		n += len(e.Features)
	}
	return n
}
