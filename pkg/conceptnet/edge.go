package conceptnet

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Edge is the primary row written for an assertion.
type Edge struct {
	ID         int64
	URI        string
	RelationID int64
	StartID    int64
	EndID      int64
	Weight     float64
	Data       []byte
}

// SearchDocument is the prefix-expanded copy of an edge used for
// containment queries (jsonb @>) on start/end/rel/dataset/sources.
type SearchDocument struct {
	EdgeID int64
	Weight float64
	Data   []byte
}

// FeatureRow links a node prefix, a relation and a direction to an edge.
type FeatureRow struct {
	RelationID int64
	Direction  Direction
	NodeID     int64
	EdgeID     int64
}

// AssembledEdge is everything derived from one assertion.
type AssembledEdge struct {
	Edge     Edge
	Search   SearchDocument
	Features []FeatureRow
}

// EdgeDocument is the stored JSON form of an edge. Fields are declared in
// key order so the encoding is sorted and byte-stable; nested source
// objects are maps, which encoding/json also writes in key order.
type EdgeDocument struct {
	Dataset      *string   `json:"dataset,omitempty"`
	End          string    `json:"end"`
	License      *string   `json:"license,omitempty"`
	Rel          string    `json:"rel"`
	Sources      *[]Source `json:"sources,omitempty"`
	Start        string    `json:"start"`
	SurfaceEnd   *string   `json:"surfaceEnd"`
	SurfaceStart *string   `json:"surfaceStart"`
	SurfaceText  *string   `json:"surfaceText,omitempty"`
	URI          string    `json:"uri"`
	Weight       float64   `json:"weight"`
}

// GinDocument is the stored JSON form of a search document. Same ordering
// rule as EdgeDocument.
type GinDocument struct {
	Dataset []string  `json:"dataset,omitempty"`
	End     []string  `json:"end"`
	Rel     []string  `json:"rel"`
	Sources *[]string `json:"sources,omitempty"`
	Start   []string  `json:"start"`
}

// NewEdgeDocument builds the canonical document for a.
func NewEdgeDocument(a Assertion) EdgeDocument {
	doc := EdgeDocument{
		URI:          a.URI,
		Rel:          a.Relation,
		Start:        a.Start,
		End:          a.End,
		Weight:       a.Weight,
		Dataset:      a.Metadata.Dataset,
		License:      a.Metadata.License,
		SurfaceText:  a.Metadata.SurfaceText,
		SurfaceStart: a.Metadata.SurfaceStart,
		SurfaceEnd:   a.Metadata.SurfaceEnd,
	}
	if a.HasSources() {
		doc.Sources = &a.Metadata.Sources
	}
	return doc
}

// NewGinDocument builds the prefix-expanded search document for a.
func NewGinDocument(a Assertion) GinDocument {
	doc := GinDocument{
		Start: nonNil(URIPrefixes(a.Start, DefaultMinPieces)),
		End:   nonNil(URIPrefixes(a.End, DefaultMinPieces)),
		Rel:   nonNil(URIPrefixes(a.Relation, DefaultMinPieces)),
	}
	if a.Metadata.Dataset != nil {
		doc.Dataset = nonNil(URIPrefixes(*a.Metadata.Dataset, DefaultMinPieces))
	}
	if a.HasSources() {
		flat := sourcePrefixes(a.ProvenanceValues())
		doc.Sources = &flat
	}
	return doc
}

// sourcePrefixes returns the sorted, deduplicated union of the three-piece
// prefixes of every provenance value.
func sourcePrefixes(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values)*2)
	for _, v := range values {
		for _, p := range URIPrefixes(v, SourceMinPieces) {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// MarshalDocument encodes v as compact JSON without HTML escaping, matching
// what is stored in the edges and edges_gin tables.
func MarshalDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Assembler turns assertions into rows, allocating IDs from the run's
// registries and its own edge counter. It performs no I/O.
type Assembler struct {
	regs       *Registries
	nextEdgeID int64
}

// NewAssembler creates an assembler that numbers edges from firstEdgeID.
func NewAssembler(regs *Registries, firstEdgeID int64) *Assembler {
	if firstEdgeID < 1 {
		firstEdgeID = 1
	}
	return &Assembler{regs: regs, nextEdgeID: firstEdgeID}
}

// NextEdgeID returns the ID the next assembled edge will receive.
func (a *Assembler) NextEdgeID() int64 {
	return a.nextEdgeID
}

// Assemble resolves the assertion's URIs and builds the edge, its search
// document and its feature rows.
func (a *Assembler) Assemble(as Assertion) (AssembledEdge, error) {
	startID := a.regs.Nodes.Resolve(as.Start)
	endID := a.regs.Nodes.Resolve(as.End)
	relID, symmetric := a.regs.Relations.ResolveRelation(as.Relation)
	for _, v := range as.ProvenanceValues() {
		for _, p := range URIPrefixes(v, SourceMinPieces) {
			a.regs.Sources.Resolve(p)
		}
	}

	data, err := MarshalDocument(NewEdgeDocument(as))
	if err != nil {
		return AssembledEdge{}, err
	}
	gin, err := MarshalDocument(NewGinDocument(as))
	if err != nil {
		return AssembledEdge{}, err
	}

	edgeID := a.nextEdgeID

	startPrefixes := URIPrefixes(as.Start, SourceMinPieces)
	endPrefixes := URIPrefixes(as.End, SourceMinPieces)
	startNodes := make([]int64, len(startPrefixes))
	for i, p := range startPrefixes {
		startNodes[i] = a.regs.Nodes.Resolve(p)
	}
	endNodes := make([]int64, len(endPrefixes))
	for i, p := range endPrefixes {
		endNodes[i] = a.regs.Nodes.Resolve(p)
	}

	startDir, endDir := DirectionForward, DirectionBackward
	if symmetric {
		startDir, endDir = DirectionSymmetric, DirectionSymmetric
	}
	features := make([]FeatureRow, 0, len(startNodes)+len(endNodes))
	for _, nodeID := range startNodes {
		features = append(features, FeatureRow{RelationID: relID, Direction: startDir, NodeID: nodeID, EdgeID: edgeID})
	}
	for _, nodeID := range endNodes {
		features = append(features, FeatureRow{RelationID: relID, Direction: endDir, NodeID: nodeID, EdgeID: edgeID})
	}

	a.nextEdgeID++

	return AssembledEdge{
		Edge: Edge{
			ID:         edgeID,
			URI:        as.URI,
			RelationID: relID,
			StartID:    startID,
			EndID:      endID,
			Weight:     as.Weight,
			Data:       data,
		},
		Search: SearchDocument{
			EdgeID: edgeID,
			Weight: as.Weight,
			Data:   gin,
		},
		Features: features,
	}, nil
}
