package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinkermonkey/conceptnet-compose/internal/util"
	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

const (
	DefaultBatchSize     = 10_000
	defaultFlushAttempts = 3
	defaultFlushBackoff  = 500 * time.Millisecond
)

// BatchWriter accumulates assembled edges and writes them, together with the
// registry entries allocated since the previous flush, as one store batch.
type BatchWriter struct {
	store     store.Store
	regs      *conceptnet.Registries
	batchSize int
	attempts  int
	backoff   time.Duration

	edges   []conceptnet.AssembledEdge
	totals  store.BatchResult
	flushes int
	onFlush func(store.BatchResult)
}

type BatchWriterOption func(*BatchWriter)

// WithFlushRetry sets how often a failed batch is retried and the initial
// delay between attempts. Registry conflicts are never retried.
func WithFlushRetry(attempts int, backoff time.Duration) BatchWriterOption {
	return func(w *BatchWriter) {
		w.attempts = attempts
		w.backoff = backoff
	}
}

// WithOnFlush registers a callback invoked after every committed batch.
func WithOnFlush(fn func(store.BatchResult)) BatchWriterOption {
	return func(w *BatchWriter) {
		w.onFlush = fn
	}
}

func NewBatchWriter(st store.Store, regs *conceptnet.Registries, batchSize int, opts ...BatchWriterOption) *BatchWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	w := &BatchWriter{
		store:     st,
		regs:      regs,
		batchSize: batchSize,
		attempts:  defaultFlushAttempts,
		backoff:   defaultFlushBackoff,
		edges:     make([]conceptnet.AssembledEdge, 0, batchSize),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(w)
	}
	return w
}

// Add queues e and flushes once the batch is full. It reports whether a
// flush happened.
func (w *BatchWriter) Add(ctx context.Context, e conceptnet.AssembledEdge) (bool, error) {
	w.edges = append(w.edges, e)
	if len(w.edges) < w.batchSize {
		return false, nil
	}
	return true, w.Flush(ctx)
}

// Flush writes every pending registry entry and queued edge. Registry
// entries are drained first so the batch carries everything its edges
// reference. Once started, the write itself is not interrupted by ctx; it
// either commits or rolls back.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.edges) == 0 && !w.regs.HasPending() {
		return nil
	}

	batch := store.Batch{
		Nodes:     w.regs.Nodes.DrainPending(),
		Relations: w.regs.Relations.DrainPending(),
		Sources:   w.regs.Sources.DrainPending(),
		Edges:     w.edges,
	}

	var res store.BatchResult
	err := util.RetryErrWithBackoff(ctx, w.attempts, w.backoff, isRetryableFlushErr, func(ctx context.Context) error {
		var err error
		res, err = w.store.WriteBatch(context.WithoutCancel(ctx), batch)
		if err != nil {
			logger.Warn("[Ingest] Batch write failed", "batch", w.flushes+1, "edges", len(batch.Edges), "err", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write batch %d: %w", w.flushes+1, err)
	}

	w.flushes++
	w.totals.Add(res)
	w.edges = make([]conceptnet.AssembledEdge, 0, w.batchSize)

	logger.Debug("[Ingest] Flushed batch",
		"batch", w.flushes,
		"edges", res.Edges,
		"skipped", res.SkippedEdges,
		"nodes", res.Nodes,
		"relations", res.Relations,
		"sources", res.Sources,
		"features", res.Features,
	)
	if w.onFlush != nil {
		w.onFlush(res)
	}
	return nil
}

func isRetryableFlushErr(err error) bool {
	return !errors.Is(err, store.ErrRegistryConflict)
}

// Pending returns the number of queued edges.
func (w *BatchWriter) Pending() int {
	return len(w.edges)
}

// Flushes returns the number of committed batches.
func (w *BatchWriter) Flushes() int {
	return w.flushes
}

// Totals returns the sum of every committed batch result.
func (w *BatchWriter) Totals() store.BatchResult {
	return w.totals
}
