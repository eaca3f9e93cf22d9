// Package memory is an in-process store.Store used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

type table struct {
	byURI map[string]conceptnet.RegistryEntry
	byID  map[int64]string
}

func newTable() table {
	return table{
		byURI: make(map[string]conceptnet.RegistryEntry),
		byID:  make(map[int64]string),
	}
}

// check validates e against the stored rows and the rows staged earlier in
// the same batch. It reports whether e would be a new row.
func (t table) check(name string, e conceptnet.RegistryEntry, staged map[string]int64) (bool, error) {
	if id, ok := staged[e.URI]; ok {
		if id != e.ID {
			return false, fmt.Errorf("%w: %s %q staged twice with ids %d and %d", store.ErrRegistryConflict, name, e.URI, id, e.ID)
		}
		return false, nil
	}
	if stored, ok := t.byURI[e.URI]; ok {
		if stored.ID != e.ID {
			return false, fmt.Errorf("%w: %s %q has id %d, batch has %d", store.ErrRegistryConflict, name, e.URI, stored.ID, e.ID)
		}
		return false, nil
	}
	if uri, ok := t.byID[e.ID]; ok {
		return false, fmt.Errorf("%w: %s id %d belongs to %q, batch uses it for %q", store.ErrRegistryConflict, name, e.ID, uri, e.URI)
	}
	return true, nil
}

func (t table) has(id int64, staged map[int64]struct{}) bool {
	if _, ok := t.byID[id]; ok {
		return true
	}
	_, ok := staged[id]
	return ok
}

func (t table) insert(e conceptnet.RegistryEntry) {
	t.byURI[e.URI] = e
	t.byID[e.ID] = e.URI
}

// Store keeps every table in maps guarded by one mutex. WriteBatch validates
// the whole batch before applying any of it, so a failed batch leaves no
// trace.
type Store struct {
	mu sync.Mutex

	nodes     table
	relations table
	sources   table

	edges    map[int64]conceptnet.Edge
	edgeURIs map[string]int64
	search   map[int64]conceptnet.SearchDocument
	features []conceptnet.FeatureRow
	ranked   []store.RankedFeature

	runs []store.Run
	now  func() time.Time
}

func New() *Store {
	return &Store{
		nodes:     newTable(),
		relations: newTable(),
		sources:   newTable(),
		edges:     make(map[int64]conceptnet.Edge),
		edgeURIs:  make(map[string]int64),
		search:    make(map[int64]conceptnet.SearchDocument),
		now:       time.Now,
	}
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.RunLog   = (*Store)(nil)
	_ store.Analyzer = (*Store)(nil)
)

func (s *Store) Hydrate(ctx context.Context, regs *conceptnet.Registries) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restore := func(t table, r *conceptnet.Registry) {
		entries := make([]conceptnet.RegistryEntry, 0, len(t.byURI))
		for _, e := range t.byURI {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
		for _, e := range entries {
			r.Restore(e)
		}
	}
	restore(s.nodes, regs.Nodes)
	restore(s.relations, regs.Relations)
	restore(s.sources, regs.Sources)
	return nil
}

func (s *Store) MaxEdgeID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int64
	for id := range s.edges {
		maxID = max(maxID, id)
	}
	return maxID, nil
}

func (s *Store) CountEdges(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.edges)), nil
}

func (s *Store) WriteBatch(ctx context.Context, b store.Batch) (store.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stageRegistry := func(name string, t table, entries []conceptnet.RegistryEntry) ([]conceptnet.RegistryEntry, map[int64]struct{}, error) {
		fresh := make([]conceptnet.RegistryEntry, 0, len(entries))
		ids := make(map[int64]struct{}, len(entries))
		seen := make(map[string]int64, len(entries))
		for _, e := range entries {
			isNew, err := t.check(name, e, seen)
			if err != nil {
				return nil, nil, err
			}
			if _, dup := ids[e.ID]; dup && isNew {
				return nil, nil, fmt.Errorf("%w: %s id %d used twice in one batch", store.ErrRegistryConflict, name, e.ID)
			}
			seen[e.URI] = e.ID
			if isNew {
				fresh = append(fresh, e)
				ids[e.ID] = struct{}{}
			}
		}
		return fresh, ids, nil
	}

	newNodes, nodeIDs, err := stageRegistry("node", s.nodes, b.Nodes)
	if err != nil {
		return store.BatchResult{}, err
	}
	newRels, relIDs, err := stageRegistry("relation", s.relations, b.Relations)
	if err != nil {
		return store.BatchResult{}, err
	}
	newSources, _, err := stageRegistry("source", s.sources, b.Sources)
	if err != nil {
		return store.BatchResult{}, err
	}

	inserted := make(map[int64]struct{}, len(b.Edges))
	stagedURIs := make(map[string]struct{}, len(b.Edges))
	for _, ae := range b.Edges {
		e := ae.Edge
		if _, ok := s.edgeURIs[e.URI]; ok {
			continue
		}
		if _, ok := stagedURIs[e.URI]; ok {
			continue
		}
		if _, ok := s.edges[e.ID]; ok {
			return store.BatchResult{}, fmt.Errorf("duplicate edge id %d for %q", e.ID, e.URI)
		}
		if _, ok := inserted[e.ID]; ok {
			return store.BatchResult{}, fmt.Errorf("duplicate edge id %d for %q", e.ID, e.URI)
		}
		if !s.relations.has(e.RelationID, relIDs) {
			return store.BatchResult{}, fmt.Errorf("edge %q references unknown relation %d", e.URI, e.RelationID)
		}
		if !s.nodes.has(e.StartID, nodeIDs) || !s.nodes.has(e.EndID, nodeIDs) {
			return store.BatchResult{}, fmt.Errorf("edge %q references unknown node", e.URI)
		}
		for _, f := range ae.Features {
			if !s.nodes.has(f.NodeID, nodeIDs) {
				return store.BatchResult{}, fmt.Errorf("feature of edge %q references unknown node %d", e.URI, f.NodeID)
			}
		}
		stagedURIs[e.URI] = struct{}{}
		inserted[e.ID] = struct{}{}
	}

	for _, e := range newNodes {
		s.nodes.insert(e)
	}
	for _, e := range newRels {
		s.relations.insert(e)
	}
	for _, e := range newSources {
		s.sources.insert(e)
	}
	kept := store.FilterInserted(b.Edges, inserted)
	for _, ae := range kept {
		s.edges[ae.Edge.ID] = ae.Edge
		s.edgeURIs[ae.Edge.URI] = ae.Edge.ID
		s.search[ae.Edge.ID] = ae.Search
		s.features = append(s.features, ae.Features...)
	}

	return store.BatchResult{
		Nodes:           int64(len(newNodes)),
		Relations:       int64(len(newRels)),
		Sources:         int64(len(newSources)),
		Edges:           int64(len(kept)),
		SkippedEdges:    int64(len(b.Edges) - len(kept)),
		SearchDocuments: int64(len(kept)),
		Features:        int64(store.CountFeatures(kept)),
	}, nil
}

func (s *Store) BuildRankedFeatures(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := make([]store.RankedFeature, 0, len(s.features))
	for _, f := range s.features {
		ranked = append(ranked, store.RankedFeature{
			RelationID: f.RelationID,
			Direction:  f.Direction,
			NodeID:     f.NodeID,
			EdgeID:     f.EdgeID,
			Weight:     s.edges[f.EdgeID].Weight,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		if a.RelationID != b.RelationID {
			return a.RelationID < b.RelationID
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return a.EdgeID < b.EdgeID
	})

	var rank int64
	for i := range ranked {
		if i == 0 || !samePartition(ranked[i-1], ranked[i]) {
			rank = 0
		}
		rank++
		ranked[i].Rank = rank
	}

	s.ranked = ranked
	return int64(len(ranked)), nil
}

func samePartition(a, b store.RankedFeature) bool {
	return a.NodeID == b.NodeID && a.RelationID == b.RelationID && a.Direction == b.Direction
}

// RankedFeatures returns the rows of the last BuildRankedFeatures for one
// (node, relation, direction) partition, in rank order.
func (s *Store) RankedFeatures(nodeID, relationID int64, dir conceptnet.Direction) []store.RankedFeature {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.RankedFeature
	for _, r := range s.ranked {
		if r.NodeID == nodeID && r.RelationID == relationID && r.Direction == dir {
			out = append(out, r)
		}
	}
	return out
}

// Edge returns the stored edge with the given URI.
func (s *Store) Edge(uri string) (conceptnet.Edge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.edgeURIs[uri]
	if !ok {
		return conceptnet.Edge{}, false
	}
	return s.edges[id], true
}

// SearchDocument returns the search document stored for an edge.
func (s *Store) SearchDocument(edgeID int64) (conceptnet.SearchDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.search[edgeID]
	return d, ok
}

// Features returns a copy of every stored feature row.
func (s *Store) Features() []conceptnet.FeatureRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]conceptnet.FeatureRow(nil), s.features...)
}

// Node returns the stored node entry for uri.
func (s *Store) Node(uri string) (conceptnet.RegistryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.nodes.byURI[uri]
	return e, ok
}

// Relation returns the stored relation entry for uri.
func (s *Store) Relation(uri string) (conceptnet.RegistryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.relations.byURI[uri]
	return e, ok
}

// Source returns the stored source entry for uri.
func (s *Store) Source(uri string) (conceptnet.RegistryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sources.byURI[uri]
	return e, ok
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return store.Stats{
		Nodes:           int64(len(s.nodes.byURI)),
		Relations:       int64(len(s.relations.byURI)),
		Sources:         int64(len(s.sources.byURI)),
		Edges:           int64(len(s.edges)),
		SearchDocuments: int64(len(s.search)),
		Features:        int64(len(s.features)),
		RankedFeatures:  int64(len(s.ranked)),
	}, nil
}

// Analyze is a no-op; there is no planner to inform.
func (s *Store) Analyze(ctx context.Context) error {
	return nil
}

func (s *Store) StartRun(ctx context.Context, id, operation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, store.Run{
		ID:        id,
		Operation: operation,
		Status:    store.RunStarted,
		StartedAt: s.now(),
	})
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id string, status store.RunStatus, rowsAffected int64, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID != id {
			continue
		}
		now := s.now()
		s.runs[i].Status = status
		s.runs[i].RowsAffected = rowsAffected
		s.runs[i].CompletedAt = &now
		if runErr != nil {
			s.runs[i].ErrorMessage = runErr.Error()
		}
		return nil
	}
	return fmt.Errorf("run %s not found", id)
}

func (s *Store) AbandonRuns(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.runs {
		if s.runs[i].Status != store.RunStarted {
			continue
		}
		now := s.now()
		s.runs[i].Status = store.RunFailed
		s.runs[i].ErrorMessage = store.ErrRunAbandoned.Error()
		s.runs[i].CompletedAt = &now
		n++
	}
	return n, nil
}

// Runs returns a copy of the run log in start order.
func (s *Store) Runs() []store.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]store.Run(nil), s.runs...)
}
