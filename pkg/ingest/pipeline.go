// Package ingest streams ConceptNet assertion dumps into a store.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tinkermonkey/conceptnet-compose/internal/util"
	"github.com/tinkermonkey/conceptnet-compose/pkg/conceptnet"
	"github.com/tinkermonkey/conceptnet-compose/pkg/leaselock"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

const (
	DefaultMaxLoggedErrors = 10

	initialLineBuffer = 1 << 20
	maxLineLength     = 64 << 20

	prepareAttempts = 3
)

type Options struct {
	BatchSize int
	// MaxRows stops the run after this many assembled edges; 0 means no limit.
	MaxRows int64
	// MaxLoggedErrors caps how many malformed lines are logged individually.
	// Zero selects the default, a negative value logs none.
	MaxLoggedErrors int
	FlushAttempts   int
	FlushBackoff    time.Duration
	Progress        util.ProgressOptions
}

// Stats describes one pass over the input.
type Stats struct {
	Lines     int64
	Assembled int64
	Malformed int64
	Written   store.BatchResult
	Batches   int
	Limited   bool
	Duration  time.Duration
}

// Pipeline owns the registries, assembler and batch writer of one run. It
// is driven from a single goroutine.
type Pipeline struct {
	store store.Store
	opts  Options

	regs      *conceptnet.Registries
	assembler *conceptnet.Assembler
	writer    *BatchWriter
	progress  *util.ProgressReporter

	stats    Stats
	prepared bool
}

func NewPipeline(st store.Store, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	switch {
	case opts.MaxLoggedErrors == 0:
		opts.MaxLoggedErrors = DefaultMaxLoggedErrors
	case opts.MaxLoggedErrors < 0:
		opts.MaxLoggedErrors = 0
	}
	if opts.FlushAttempts <= 0 {
		opts.FlushAttempts = defaultFlushAttempts
	}
	if opts.FlushBackoff <= 0 {
		opts.FlushBackoff = defaultFlushBackoff
	}
	if opts.Progress.Description == "" {
		opts.Progress.Description = "Ingesting assertions"
	}
	return &Pipeline{
		store:    st,
		opts:     opts,
		regs:     conceptnet.NewRegistries(),
		progress: util.NewProgressReporter(opts.Progress),
	}
}

// Prepare re-derives registry state and the next edge ID from storage.
// It must run before Run, including after a failed run.
func (p *Pipeline) Prepare(ctx context.Context) error {
	var regs *conceptnet.Registries
	err := util.RetryErrWithContext(ctx, prepareAttempts, func(ctx context.Context) error {
		regs = conceptnet.NewRegistries()
		return p.store.Hydrate(ctx, regs)
	})
	if err != nil {
		return fmt.Errorf("failed to hydrate registries: %w", err)
	}
	maxEdgeID, err := util.RetryWithContext(ctx, prepareAttempts, p.store.MaxEdgeID)
	if err != nil {
		return fmt.Errorf("failed to read max edge id: %w", err)
	}

	p.regs = regs
	p.assembler = conceptnet.NewAssembler(regs, maxEdgeID+1)
	p.writer = NewBatchWriter(p.store, regs, p.opts.BatchSize,
		WithFlushRetry(p.opts.FlushAttempts, p.opts.FlushBackoff),
		WithOnFlush(func(store.BatchResult) {
			p.progress.Update(p.stats.Lines)
		}),
	)
	p.prepared = true

	logger.Info("[Ingest] Registries hydrated",
		"nodes", regs.Nodes.Len(),
		"relations", regs.Relations.Len(),
		"sources", regs.Sources.Len(),
		"next_edge_id", maxEdgeID+1,
	)
	return nil
}

// SetTotal sets the expected number of input lines for progress output.
func (p *Pipeline) SetTotal(total int64) {
	p.progress.SetTotal(total)
}

// Registries exposes the run's registries.
func (p *Pipeline) Registries() *conceptnet.Registries {
	return p.regs
}

// Run streams r line by line through parsing, assembly and batching.
// Malformed lines are counted and skipped. Cancellation is honoured between
// lines: queued edges are flushed and ctx.Err() is returned.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (stats Stats, err error) {
	if !p.prepared {
		return p.stats, errors.New("pipeline is not prepared")
	}
	start := time.Now()
	defer func() {
		p.stats.Duration = time.Since(start)
		p.stats.Written = p.writer.Totals()
		p.stats.Batches = p.writer.Flushes()
		stats = p.stats
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineLength)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return p.stats, p.stop(ctx, err)
		}
		if p.opts.MaxRows > 0 && p.stats.Assembled >= p.opts.MaxRows {
			p.stats.Limited = true
			logger.Info("[Ingest] Row limit reached", "max_rows", p.opts.MaxRows)
			break
		}

		p.stats.Lines++
		line := scanner.Text()
		if line == "" {
			continue
		}

		as, err := conceptnet.ParseAssertion(line)
		if err != nil {
			p.malformed(err)
			continue
		}
		edge, err := p.assembler.Assemble(as)
		if err != nil {
			p.malformed(err)
			continue
		}
		p.stats.Assembled++

		if _, err := p.writer.Add(ctx, edge); err != nil {
			return p.stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return p.stats, fmt.Errorf("failed to read input at line %d: %w", p.stats.Lines+1, err)
	}

	if err := p.writer.Flush(ctx); err != nil {
		return p.stats, err
	}
	p.progress.Update(p.stats.Lines)
	p.progress.Finish()

	if p.stats.Malformed > 0 {
		logger.Warn("[Ingest] Skipped malformed lines", "count", p.stats.Malformed)
	}
	return p.stats, nil
}

// stop flushes whatever is queued so the work done so far is durable, then
// returns the cancellation cause. Nothing is written once the lease is lost,
// since another process may already hold it.
func (p *Pipeline) stop(ctx context.Context, cause error) error {
	if lost := context.Cause(ctx); errors.Is(lost, leaselock.ErrLost) {
		logger.Warn("[Ingest] Lease lost, dropping queued edges", "queued", p.writer.Pending(), "line", p.stats.Lines)
		return lost
	}
	logger.Warn("[Ingest] Run cancelled, flushing queued edges", "queued", p.writer.Pending(), "line", p.stats.Lines)
	if err := p.writer.Flush(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (p *Pipeline) malformed(err error) {
	p.stats.Malformed++
	switch {
	case p.stats.Malformed <= int64(p.opts.MaxLoggedErrors):
		logger.Warn("[Ingest] Skipping malformed line", "line", p.stats.Lines, "err", err)
	case p.stats.Malformed == int64(p.opts.MaxLoggedErrors)+1:
		logger.Warn("[Ingest] Further malformed lines will only be counted", "line", p.stats.Lines)
	}
}
