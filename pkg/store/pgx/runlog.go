package pgx

import (
	"context"
	"fmt"

	"github.com/tinkermonkey/conceptnet-compose/pkg/store"
)

const startRunSQL = `
INSERT INTO ingest_runs (run_id, operation, status, started_at)
VALUES ($1, $2, $3, now())
`

const finishRunSQL = `
UPDATE ingest_runs
SET status = $2,
    rows_affected = $3,
    error_message = $4,
    completed_at = now()
WHERE run_id = $1
`

const abandonRunsSQL = `
UPDATE ingest_runs
SET status = $2,
    error_message = $3,
    completed_at = now()
WHERE status = $1
`

func (s *ConceptNetStore) StartRun(ctx context.Context, id, operation string) error {
	if _, err := s.conn.Exec(ctx, startRunSQL, id, operation, string(store.RunStarted)); err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

func (s *ConceptNetStore) FinishRun(
	ctx context.Context,
	id string,
	status store.RunStatus,
	rowsAffected int64,
	runErr error,
) error {
	var msg *string
	if runErr != nil {
		m := runErr.Error()
		msg = &m
	}
	tag, err := s.conn.Exec(ctx, finishRunSQL, id, string(status), rowsAffected, msg)
	if err != nil {
		return fmt.Errorf("failed to record run result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

func (s *ConceptNetStore) AbandonRuns(ctx context.Context) (int64, error) {
	tag, err := s.conn.Exec(ctx, abandonRunsSQL,
		string(store.RunStarted),
		string(store.RunFailed),
		store.ErrRunAbandoned.Error(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
