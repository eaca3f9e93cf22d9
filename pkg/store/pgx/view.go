package pgx

import (
	"context"
	"fmt"
)

var buildRankedFeaturesSQL = []string{
	`DROP MATERIALIZED VIEW IF EXISTS ranked_features`,
	`CREATE MATERIALIZED VIEW ranked_features AS
SELECT ef.rel_id,
       ef.direction,
       ef.node_id,
       ef.edge_id,
       e.weight,
       row_number() OVER (
           PARTITION BY ef.node_id, ef.rel_id, ef.direction
           ORDER BY e.weight DESC, ef.edge_id ASC
       ) AS rank
FROM edge_features ef
JOIN edges e ON e.id = ef.edge_id`,
	`CREATE INDEX rf_node ON ranked_features (node_id)`,
	`CREATE INDEX rf_node_rel_dir_rank ON ranked_features (node_id, rel_id, direction, rank)`,
}

// BuildRankedFeatures drops and recreates the ranked feature view in one
// transaction, so readers see either the old view or the complete new one.
func (s *ConceptNetStore) BuildRankedFeatures(ctx context.Context) (int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin view transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range buildRankedFeaturesSQL {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("failed to build ranked features: %w", err)
		}
	}

	var n int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM ranked_features`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ranked features: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit ranked features: %w", err)
	}
	return n, nil
}

const analyzeSQL = `ANALYZE nodes, relations, sources, edges, edges_gin, edge_features`

// Analyze refreshes planner statistics for the written tables and, when it
// exists, the ranked feature view.
func (s *ConceptNetStore) Analyze(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, analyzeSQL); err != nil {
		return fmt.Errorf("failed to analyze tables: %w", err)
	}

	var hasView bool
	if err := s.conn.QueryRow(ctx, `SELECT to_regclass('ranked_features') IS NOT NULL`).Scan(&hasView); err != nil {
		return fmt.Errorf("failed to check ranked features: %w", err)
	}
	if hasView {
		if _, err := s.conn.Exec(ctx, `ANALYZE ranked_features`); err != nil {
			return fmt.Errorf("failed to analyze ranked features: %w", err)
		}
	}
	return nil
}
