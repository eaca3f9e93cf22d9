// Package runner executes ingestion jobs for the loader and the queue
// worker: it resolves the input, takes the ingest lease and runs the load.
package runner

import (
	"context"
	"fmt"

	"github.com/tinkermonkey/conceptnet-compose/internal/config"
	"github.com/tinkermonkey/conceptnet-compose/internal/storage"
	"github.com/tinkermonkey/conceptnet-compose/pkg/ingest"
	"github.com/tinkermonkey/conceptnet-compose/pkg/leaselock"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

// Locker serialises writers. *leaselock.Client implements it.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Job describes one ingestion request.
type Job struct {
	Input string
	// MaxRows overrides the configured limit when greater than zero.
	MaxRows int64
	// BuildView overrides the configured view rebuild when set.
	BuildView *bool
}

type Runner struct {
	cfg    config.Config
	store  store.Store
	locks  Locker
	s3     storage.ObjectGetter
	bucket string
}

type Option func(*Runner)

// WithLocker runs every job under the configured lease key. Without a
// locker jobs run unguarded, which is only safe for dry runs.
func WithLocker(l Locker) Option {
	return func(r *Runner) {
		r.locks = l
	}
}

// WithS3 enables s3:// inputs. bucket is used for locations without one.
func WithS3(client storage.ObjectGetter, bucket string) Option {
	return func(r *Runner) {
		r.s3 = client
		r.bucket = bucket
	}
}

func New(cfg config.Config, st store.Store, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, store: st}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadOptions maps the configuration and job overrides onto ingest options.
func (r *Runner) LoadOptions(job Job) ingest.LoadOptions {
	opts := ingest.LoadOptions{
		Options: ingest.Options{
			BatchSize:       r.cfg.BatchSize,
			MaxRows:         r.cfg.MaxRows,
			MaxLoggedErrors: r.cfg.MaxLoggedErrors,
			FlushAttempts:   r.cfg.FlushAttempts,
			Progress:        r.cfg.ProgressOptions(),
		},
		CountLines: r.cfg.CountLines,
		BuildView:  r.cfg.BuildView,
	}
	// Zero means "use the default" to the pipeline; the config's zero means
	// "log none".
	if opts.MaxLoggedErrors == 0 {
		opts.MaxLoggedErrors = -1
	}
	if job.MaxRows > 0 {
		opts.MaxRows = job.MaxRows
	}
	if job.BuildView != nil {
		opts.BuildView = *job.BuildView
	}
	return opts
}

// Run executes job. The lease, when configured, is held for the whole load.
func (r *Runner) Run(ctx context.Context, job Job) (ingest.Report, error) {
	loc, err := storage.ParseLocation(job.Input, r.bucket)
	if err != nil {
		return ingest.Report{}, err
	}
	in, err := storage.NewInput(loc, r.s3)
	if err != nil {
		return ingest.Report{}, err
	}
	opts := r.LoadOptions(job)

	if r.locks == nil {
		return ingest.Load(ctx, r.store, in, opts)
	}

	var report ingest.Report
	lockOpts := leaselock.Options{
		TTL:         r.cfg.LockTTL,
		Wait:        true,
		TokenPrefix: "loader",
	}
	err = r.locks.WithLease(ctx, r.cfg.LockKey, lockOpts, func(ctx context.Context) error {
		if err := r.abandonStaleRuns(ctx); err != nil {
			return err
		}
		var err error
		report, err = ingest.Load(ctx, r.store, in, opts)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("ingest of %s failed: %w", in.Name(), err)
	}
	return report, nil
}

// abandonStaleRuns closes out runs left open by a process that died while
// holding the lease.
func (r *Runner) abandonStaleRuns(ctx context.Context) error {
	runLog, ok := r.store.(store.RunLog)
	if !ok {
		return nil
	}
	n, err := runLog.AbandonRuns(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Warn("[Runner] Marked stale runs as failed", "count", n)
	}
	return nil
}
