package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tinkermonkey/conceptnet-compose/internal/util"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

// OperationIngest is the operation name recorded in the run log.
const OperationIngest = "ingest_assertions"

// Input is a re-openable assertion stream.
type Input interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

type LoadOptions struct {
	Options
	// CountLines runs a pre-pass over the input so progress can report
	// percent and ETA.
	CountLines bool
	// BuildView rebuilds the ranked feature view after ingestion.
	BuildView bool
}

// Report summarises a finished run.
type Report struct {
	RunID          string
	Input          string
	ExistingEdges  int64
	TotalLines     int64
	Ingest         Stats
	RankedFeatures int64
	Store          store.Stats
}

// Load runs one complete ingestion of in into st: registry hydration, the
// streaming pass, the ranked view rebuild and final statistics.
func Load(ctx context.Context, st store.Store, in Input, opts LoadOptions) (Report, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return Report{}, fmt.Errorf("failed to generate run id: %w", err)
	}
	report := Report{RunID: runID, Input: in.Name()}

	runLog, hasRunLog := st.(store.RunLog)
	if hasRunLog {
		if err := runLog.StartRun(ctx, runID, OperationIngest); err != nil {
			return report, err
		}
	}

	report, err = load(ctx, st, in, opts, report)

	if hasRunLog {
		status := store.RunCompleted
		if err != nil {
			status = store.RunFailed
		}
		finishCtx := context.WithoutCancel(ctx)
		if ferr := runLog.FinishRun(finishCtx, runID, status, report.Ingest.Written.Edges, err); ferr != nil {
			logger.Error("[Ingest] Failed to record run result", "run_id", runID, "err", ferr)
		}
	}
	return report, err
}

func load(ctx context.Context, st store.Store, in Input, opts LoadOptions, report Report) (Report, error) {
	logger.Info("[Ingest] Starting run", "run_id", report.RunID, "input", report.Input)

	existing, err := st.CountEdges(ctx)
	if err != nil {
		return report, err
	}
	report.ExistingEdges = existing
	if existing > 0 {
		logger.Warn("[Ingest] Store already contains edges; existing rows are kept and duplicates skipped",
			"edges", existing)
	}

	pipeline := NewPipeline(st, opts.Options)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Prepare(gctx)
	})
	if opts.CountLines {
		g.Go(func() error {
			n, err := countInputLines(gctx, in)
			if err != nil {
				return err
			}
			report.TotalLines = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if opts.CountLines {
		logger.Info("[Ingest] Counted input lines", "lines", report.TotalLines)
		pipeline.SetTotal(report.TotalLines)
	}

	r, err := in.Open(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to open input %s: %w", in.Name(), err)
	}
	defer r.Close()

	stats, err := pipeline.Run(ctx, r)
	report.Ingest = stats
	if err != nil {
		return report, err
	}

	if opts.BuildView {
		logger.Info("[Ingest] Building ranked feature view")
		n, err := st.BuildRankedFeatures(ctx)
		if err != nil {
			return report, err
		}
		report.RankedFeatures = n
	}

	if a, ok := st.(store.Analyzer); ok {
		if err := a.Analyze(ctx); err != nil {
			return report, err
		}
	}

	report.Store, err = st.Stats(ctx)
	if err != nil {
		return report, err
	}

	logger.Info("[Ingest] Run complete",
		"run_id", report.RunID,
		"lines", stats.Lines,
		"edges_written", stats.Written.Edges,
		"edges_skipped", stats.Written.SkippedEdges,
		"malformed", stats.Malformed,
		"duration", util.FormatDuration(stats.Duration),
	)
	logger.Info("[Ingest] Store totals",
		"nodes", report.Store.Nodes,
		"relations", report.Store.Relations,
		"sources", report.Store.Sources,
		"edges", report.Store.Edges,
		"features", report.Store.Features,
		"ranked_features", report.Store.RankedFeatures,
	)
	return report, nil
}

func countInputLines(ctx context.Context, in Input) (int64, error) {
	r, err := in.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open input %s for counting: %w", in.Name(), err)
	}
	defer r.Close()
	return CountLines(ctx, r)
}

// CountLines counts newline-terminated lines in r, plus a final
// unterminated one. ctx is checked between reads.
func CountLines(ctx context.Context, r io.Reader) (int64, error) {
	buf := make([]byte, 256<<10)
	var n int64
	var last byte = '\n'
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		m, err := r.Read(buf)
		if m > 0 {
			n += int64(bytes.Count(buf[:m], []byte{'\n'}))
			last = buf[m-1]
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
	}
	if last != '\n' {
		n++
	}
	return n, nil
}
