package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinkermonkey/conceptnet-compose/internal/util"
	"github.com/tinkermonkey/conceptnet-compose/pkg/logger"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// Connect opens a pool and waits for the database to answer, retrying with
// backoff while it starts up.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create pool: %w", err)
	}

	err = util.RetryErrWithBackoff(ctx, connectAttempts, connectBackoff, nil, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("[DB] Database not reachable yet", "err", err)
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return pool, nil
}
