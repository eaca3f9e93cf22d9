package util

import (
	"fmt"
	"time"

	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
)

type ProgressMode string

const (
	// ProgressByTime emits at most one line per Interval.
	ProgressByTime ProgressMode = "time"
	// ProgressByRows emits at most one line per EveryRows rows.
	ProgressByRows ProgressMode = "rows"
)

const (
	defaultProgressInterval  = 2 * time.Second
	defaultProgressEveryRows = 100_000
)

type ProgressOptions struct {
	Description string
	// Total is the expected number of rows; 0 means unknown and disables
	// percent and ETA.
	Total     int64
	Mode      ProgressMode
	Interval  time.Duration
	EveryRows int64

	// Now and Emit are replaced in tests.
	Now  func() time.Time
	Emit func(ProgressSnapshot)
}

type ProgressSnapshot struct {
	Description string
	Rows        int64
	Total       int64
	Elapsed     time.Duration
	Rate        float64
	Percent     float64
	ETA         time.Duration
	Done        bool
}

// ProgressReporter turns a monotonically increasing row count into rate and
// ETA lines without flooding the output on very large inputs.
type ProgressReporter struct {
	opts      ProgressOptions
	start     time.Time
	lastEmit  time.Time
	lastRows  int64
	rows      int64
	emissions int
}

func NewProgressReporter(opts ProgressOptions) *ProgressReporter {
	if opts.Mode == "" {
		opts.Mode = ProgressByTime
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultProgressInterval
	}
	if opts.EveryRows <= 0 {
		opts.EveryRows = defaultProgressEveryRows
	}
	if opts.Description == "" {
		opts.Description = "Progress"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Emit == nil {
		opts.Emit = logProgress
	}
	now := opts.Now()
	return &ProgressReporter{
		opts:     opts,
		start:    now,
		lastEmit: now,
	}
}

// SetTotal updates the expected row count, e.g. once a background count finishes.
func (p *ProgressReporter) SetTotal(total int64) {
	p.opts.Total = total
}

// Update records the cumulative row count and emits a status line if the
// configured interval has passed. It reports whether a line was emitted.
func (p *ProgressReporter) Update(rows int64) bool {
	if rows < p.rows {
		return false
	}
	p.rows = rows

	now := p.opts.Now()
	switch p.opts.Mode {
	case ProgressByRows:
		if rows-p.lastRows < p.opts.EveryRows {
			return false
		}
	default:
		if now.Sub(p.lastEmit) < p.opts.Interval {
			return false
		}
	}

	p.lastEmit = now
	p.lastRows = rows
	p.emissions++
	p.opts.Emit(p.snapshot(now, false))
	return true
}

// Finish emits the final summary with total elapsed time and average rate.
func (p *ProgressReporter) Finish() ProgressSnapshot {
	s := p.snapshot(p.opts.Now(), true)
	p.opts.Emit(s)
	return s
}

// Snapshot returns the current state without emitting.
func (p *ProgressReporter) Snapshot() ProgressSnapshot {
	return p.snapshot(p.opts.Now(), false)
}

func (p *ProgressReporter) snapshot(now time.Time, done bool) ProgressSnapshot {
	elapsed := now.Sub(p.start)
	s := ProgressSnapshot{
		Description: p.opts.Description,
		Rows:        p.rows,
		Total:       p.opts.Total,
		Elapsed:     elapsed,
		Done:        done,
	}
	if elapsed > 0 {
		s.Rate = float64(p.rows) / elapsed.Seconds()
	}
	if p.opts.Total > 0 {
		s.Percent = float64(p.rows) / float64(p.opts.Total) * 100
		if remaining := p.opts.Total - p.rows; remaining > 0 && s.Rate > 0 {
			s.ETA = time.Duration(float64(remaining) / s.Rate * float64(time.Second))
		}
	}
	return s
}

func logProgress(s ProgressSnapshot) {
	if s.Done {
		logger.Info(
			fmt.Sprintf("[Progress] %s complete", s.Description),
			"rows", s.Rows,
			"duration", FormatDuration(s.Elapsed),
			"rate", fmt.Sprintf("%.0f rows/sec", s.Rate),
		)
		return
	}

	keyvals := []any{
		"rows", s.Rows,
		"rate", fmt.Sprintf("%.0f rows/sec", s.Rate),
	}
	if s.Total > 0 {
		keyvals = append(keyvals,
			"total", s.Total,
			"percent", fmt.Sprintf("%.1f%%", s.Percent),
			"eta", FormatDuration(s.ETA),
		)
	}
	logger.Info(fmt.Sprintf("[Progress] %s", s.Description), keyvals...)
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
