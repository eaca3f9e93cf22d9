package store

import (
	"context"
	"errors"
	"time"

	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
)

// ErrRegistryConflict is returned when a registry entry about to be written
// maps a URI to a different ID than storage already holds, or reuses an ID
// that belongs to another URI. It means two writers allocated IDs
// independently and the run must stop.
var ErrRegistryConflict = errors.New("registry conflict")

// Batch is one atomic unit of work. Registry entries are written before the
// edges that reference them.
type Batch struct {
	Nodes     []conceptnet.RegistryEntry
	Relations []conceptnet.RegistryEntry
	Sources   []conceptnet.RegistryEntry
	Edges     []conceptnet.AssembledEdge
}

// Empty reports whether the batch carries nothing to write.
func (b Batch) Empty() bool {
	return len(b.Nodes) == 0 && len(b.Relations) == 0 && len(b.Sources) == 0 && len(b.Edges) == 0
}

// BatchResult counts the rows a WriteBatch actually inserted. Edges whose
// URI already existed are reported in SkippedEdges and contribute no search
// documents or feature rows.
type BatchResult struct {
	Nodes           int64
	Relations       int64
	Sources         int64
	Edges           int64
	SkippedEdges    int64
	SearchDocuments int64
	Features        int64
}

func (r *BatchResult) Add(o BatchResult) {
	r.Nodes += o.Nodes
	r.Relations += o.Relations
	r.Sources += o.Sources
	r.Edges += o.Edges
	r.SkippedEdges += o.SkippedEdges
	r.SearchDocuments += o.SearchDocuments
	r.Features += o.Features
}

// Stats are table cardinalities.
type Stats struct {
	Nodes           int64
	Relations       int64
	Sources         int64
	Edges           int64
	SearchDocuments int64
	Features        int64
	RankedFeatures  int64
}

// RankedFeature is a feature row annotated with its edge weight and its
// 1-based position within (NodeID, RelationID, Direction), ordered by weight
// descending then edge ID ascending.
type RankedFeature struct {
	RelationID int64
	Direction  conceptnet.Direction
	NodeID     int64
	EdgeID     int64
	Weight     float64
	Rank       int64
}

// Store persists ConceptNet rows. Every registry write and every edge write
// is insert-if-absent keyed by URI, so replaying a batch is harmless.
type Store interface {
	// Hydrate restores every stored node, relation and source into regs.
	Hydrate(ctx context.Context, regs *conceptnet.Registries) error
	// MaxEdgeID returns the highest stored edge ID, or 0 when there are none.
	MaxEdgeID(ctx context.Context) (int64, error)
	CountEdges(ctx context.Context) (int64, error)
	// WriteBatch writes b in one transaction. On error nothing from b is kept.
	WriteBatch(ctx context.Context, b Batch) (BatchResult, error)
	// BuildRankedFeatures drops and rebuilds the ranked feature view,
	// returning its row count.
	BuildRankedFeatures(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// Analyzer is implemented by stores that can refresh planner statistics.
type Analyzer interface {
	Analyze(ctx context.Context) error
}

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one entry of the ingestion run log.
type Run struct {
	ID           string
	Operation    string
	Status       RunStatus
	RowsAffected int64
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// RunLog is implemented by stores that keep a history of ingestion runs.
type RunLog interface {
	StartRun(ctx context.Context, id, operation string) error
	FinishRun(ctx context.Context, id string, status RunStatus, rowsAffected int64, runErr error) error
	// AbandonRuns marks every run still in RunStarted as failed. Callers
	// must hold the ingest lease, so no such run can still be live.
	AbandonRuns(ctx context.Context) (int64, error)
}

// ErrRunAbandoned is recorded for runs whose process died mid-run.
var ErrRunAbandoned = errors.New("run abandoned before completion")
